// Package target writes synced data into the PostgreSQL warehouse and
// manages its schemas and tables.
package target

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saadactin/Nitin-sir/internal/config"
	"github.com/saadactin/Nitin-sir/internal/schema"
)

// PoolStats contains connection pool statistics
type PoolStats struct {
	MaxConns          int32 // Maximum number of connections
	TotalConns        int32 // Total number of connections
	AcquiredConns     int32 // Connections currently in use
	IdleConns         int32 // Connections currently idle
	AcquireCount      int64 // Total number of successful acquires
	EmptyAcquireCount int64 // Acquires that waited for a connection
}

// Pool manages a pool of PostgreSQL connections
type Pool struct {
	pool     *pgxpool.Pool
	cfg      *config.TargetConfig
	maxConns int
}

// NewPool creates a new PostgreSQL connection pool
func NewPool(ctx context.Context, cfg *config.TargetConfig, maxConns int) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}

	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = int32(maxConns / 4)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging target: %w", err)
	}

	return &Pool{pool: pool, cfg: cfg, maxConns: maxConns}, nil
}

// Close closes all connections in the pool
func (p *Pool) Close() {
	p.pool.Close()
}

// Ping tests the connection to the database
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Pool returns the underlying pgxpool
func (p *Pool) Pool() *pgxpool.Pool {
	return p.pool
}

// MaxConns returns the configured maximum connections
func (p *Pool) MaxConns() int {
	return p.maxConns
}

// Stats returns current connection pool statistics
func (p *Pool) Stats() PoolStats {
	stats := p.pool.Stat()
	return PoolStats{
		MaxConns:          stats.MaxConns(),
		TotalConns:        stats.TotalConns(),
		AcquiredConns:     stats.AcquiredConns(),
		IdleConns:         stats.IdleConns(),
		AcquireCount:      stats.AcquireCount(),
		EmptyAcquireCount: stats.EmptyAcquireCount(),
	}
}

// EnsureSchema creates the target schema if it doesn't exist
func (p *Pool) EnsureSchema(ctx context.Context, schemaName string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quotePGIdent(schemaName)))
	return err
}

// TableExists checks if a table exists in the schema
func (p *Pool) TableExists(ctx context.Context, schemaName, table string) (bool, error) {
	sanitized := SanitizePGIdentifier(table)
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`, schemaName, sanitized).Scan(&exists)
	return exists, err
}

// GetColumns returns the existing column names of a target table.
func (p *Pool) GetColumns(ctx context.Context, schemaName, table string) ([]string, error) {
	sanitized := SanitizePGIdentifier(table)
	rows, err := p.pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schemaName, sanitized)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// CreateTable creates the target table from source metadata, including
// its primary key constraint.
func (p *Pool) CreateTable(ctx context.Context, t *schema.Table, schemaName string) error {
	ddl := BuildCreateTable(t, schemaName, SanitizePGIdentifier(t.Name), true)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating table %s: %w", t.FullName(), err)
	}
	return nil
}

// EnsureTable creates the table if missing, or adds columns that exist on
// the source but not yet on the target. Dropped source columns are left
// in place. Returns the names of columns that were added.
func (p *Pool) EnsureTable(ctx context.Context, t *schema.Table, schemaName string) ([]string, error) {
	exists, err := p.TableExists(ctx, schemaName, t.Name)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := p.CreateTable(ctx, t, schemaName); err != nil {
			return nil, err
		}
		return nil, nil
	}

	existing, err := p.GetColumns(ctx, schemaName, t.Name)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(existing))
	for _, c := range existing {
		have[c] = true
	}

	sanitizedTable := SanitizePGIdentifier(t.Name)
	var added []string
	for i := range t.Columns {
		col := &t.Columns[i]
		name := SanitizePGIdentifier(col.Name)
		if have[name] {
			continue
		}
		// New columns are added nullable regardless of the source
		// definition: existing target rows have no value for them.
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			qualifyPGTable(schemaName, sanitizedTable), quotePGIdent(name), col.PostgresType())
		if _, err := p.pool.Exec(ctx, ddl); err != nil {
			return added, fmt.Errorf("adding column %s to %s: %w", name, sanitizedTable, err)
		}
		added = append(added, name)
	}
	return added, nil
}

// CreatePrimaryKey adds the primary key constraint to the named table.
func (p *Pool) CreatePrimaryKey(ctx context.Context, t *schema.Table, schemaName, tableName string) error {
	if len(t.PrimaryKey) == 0 {
		return nil
	}

	pkCols := make([]string, len(t.PrimaryKey))
	for i, col := range t.PrimaryKey {
		pkCols[i] = quotePGIdent(SanitizePGIdentifier(col))
	}

	sql := fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)",
		qualifyPGTable(schemaName, tableName), strings.Join(pkCols, ", "))
	_, err := p.pool.Exec(ctx, sql)
	return err
}

// DropTable drops a table if it exists
func (p *Pool) DropTable(ctx context.Context, schemaName, table string) error {
	sanitized := SanitizePGIdentifier(table)
	_, err := p.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qualifyPGTable(schemaName, sanitized)))
	return err
}

// CountRows returns the current row count of a target table.
func (p *Pool) CountRows(ctx context.Context, schemaName, table string) (int64, error) {
	sanitized := SanitizePGIdentifier(table)
	var count int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", qualifyPGTable(schemaName, sanitized))).Scan(&count)
	return count, err
}

// CopyRows bulk-loads rows into the named table using the binary COPY
// protocol. The table name is used as given (shadow and staging names
// are already safe); column names are source identifiers and get
// sanitized here.
func (p *Pool) CopyRows(ctx context.Context, schemaName, tableName string, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SET statement_timeout = 0"); err != nil {
		return 0, fmt.Errorf("setting statement timeout: %w", err)
	}

	n, err := conn.Conn().CopyFrom(
		ctx,
		pgx.Identifier{schemaName, tableName},
		sanitizeAll(cols),
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copying into %s.%s: %w", schemaName, tableName, err)
	}
	return n, nil
}

// sanitizeAll maps source column names to their target form.
func sanitizeAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = SanitizePGIdentifier(c)
	}
	return out
}

// UpsertBatch merges one batch of rows into the target table and
// returns the number of rows actually inserted or changed. Rows are
// first bulk-copied into a session-scoped TEMP staging table, then merged
// with a single INSERT ... ON CONFLICT. IS DISTINCT FROM keeps identical
// rows from being rewritten, which matters for WAL volume and bloat, and
// makes the affected count an honest changed-rows figure.
func (p *Pool) UpsertBatch(ctx context.Context, schemaName, table string, cols, pkCols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(pkCols) == 0 {
		return 0, fmt.Errorf("upsert requires primary key columns")
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SET statement_timeout = 0"); err != nil {
		return 0, fmt.Errorf("setting statement timeout: %w", err)
	}

	sanitized := SanitizePGIdentifier(table)
	sanCols := sanitizeAll(cols)
	sanPKs := sanitizeAll(pkCols)
	stagingTable := safePGStagingName(schemaName, sanitized)

	// TEMP tables are session-scoped and dropped on disconnect; they are
	// also unlogged, which keeps staging writes out of the WAL.
	createSQL := fmt.Sprintf(
		`CREATE TEMP TABLE IF NOT EXISTS %s (LIKE %s INCLUDING DEFAULTS)`,
		quotePGIdent(stagingTable), qualifyPGTable(schemaName, sanitized))
	if _, err := conn.Exec(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("creating staging table: %w", err)
	}

	if _, err := conn.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", quotePGIdent(stagingTable))); err != nil {
		return 0, fmt.Errorf("truncating staging table: %w", err)
	}

	_, err = conn.Conn().CopyFrom(
		ctx,
		pgx.Identifier{stagingTable},
		sanCols,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copying to staging: %w", err)
	}

	mergeSQL := buildPGStagingMergeSQL(schemaName, sanitized, stagingTable, sanCols, sanPKs)
	tag, err := conn.Exec(ctx, mergeSQL)
	if err != nil {
		return 0, fmt.Errorf("merging staging to target: %w", err)
	}

	return tag.RowsAffected(), nil
}

// DeleteKeys removes the rows identified by the given primary key tuples.
// Deletes are chunked to stay under the PostgreSQL parameter limit.
func (p *Pool) DeleteKeys(ctx context.Context, schemaName, table string, pkCols []string, keys [][]any) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	sanitized := SanitizePGIdentifier(table)
	quotedPKs := make([]string, len(pkCols))
	for i, pk := range pkCols {
		quotedPKs[i] = quotePGIdent(SanitizePGIdentifier(pk))
	}

	const maxParams = 65000
	chunkSize := maxParams / len(pkCols)

	var deleted int64
	for start := 0; start < len(keys); start += chunkSize {
		end := start + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		sql, args := buildPGDeleteSQL(schemaName, sanitized, quotedPKs, chunk)
		tag, err := p.pool.Exec(ctx, sql, args...)
		if err != nil {
			return deleted, fmt.Errorf("deleting from %s: %w", sanitized, err)
		}
		deleted += tag.RowsAffected()
	}
	return deleted, nil
}

// FetchKeys returns every primary key tuple currently in the target
// table. Used by delete tracking to diff against the source key set.
func (p *Pool) FetchKeys(ctx context.Context, schemaName, table string, pkCols []string) ([][]any, error) {
	sanitized := SanitizePGIdentifier(table)
	quoted := make([]string, len(pkCols))
	for i, pk := range pkCols {
		quoted[i] = quotePGIdent(SanitizePGIdentifier(pk))
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf("SELECT %s FROM %s",
		strings.Join(quoted, ", "), qualifyPGTable(schemaName, sanitized)))
	if err != nil {
		return nil, fmt.Errorf("fetching keys from %s: %w", sanitized, err)
	}
	defer rows.Close()

	var keys [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		keys = append(keys, vals)
	}
	return keys, rows.Err()
}

// buildPGDeleteSQL generates DELETE ... WHERE (pk) IN ((...), (...)) with
// flattened positional args.
func buildPGDeleteSQL(schemaName, table string, quotedPKs []string, keys [][]any) (string, []any) {
	numPKs := len(quotedPKs)
	args := make([]any, 0, len(keys)*numPKs)
	tuples := make([]string, len(keys))

	for rowIdx, key := range keys {
		params := make([]string, numPKs)
		for colIdx := 0; colIdx < numPKs; colIdx++ {
			params[colIdx] = fmt.Sprintf("$%d", rowIdx*numPKs+colIdx+1)
			args = append(args, key[colIdx])
		}
		tuples[rowIdx] = "(" + strings.Join(params, ", ") + ")"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("DELETE FROM %s WHERE (%s) IN (%s)",
		qualifyPGTable(schemaName, table),
		strings.Join(quotedPKs, ", "),
		strings.Join(tuples, ", ")))
	return sb.String(), args
}

// buildPGStagingMergeSQL generates the INSERT...SELECT...ON CONFLICT
// statement that merges staging rows into the target table.
func buildPGStagingMergeSQL(schemaName, table, stagingTable string, cols, pkCols []string) string {
	quotedCols := make([]string, len(cols))
	for i, col := range cols {
		quotedCols[i] = quotePGIdent(col)
	}
	colStr := strings.Join(quotedCols, ", ")

	quotedPKs := make([]string, len(pkCols))
	for i, pk := range pkCols {
		quotedPKs[i] = quotePGIdent(pk)
	}
	pkStr := strings.Join(quotedPKs, ", ")

	pkSet := make(map[string]bool)
	for _, pk := range pkCols {
		pkSet[pk] = true
	}

	var setClauses []string
	var targetCols []string
	var excludedCols []string
	for _, col := range cols {
		if !pkSet[col] {
			setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", quotePGIdent(col), quotePGIdent(col)))
			targetCols = append(targetCols, fmt.Sprintf("%s.%s", quotePGIdent(table), quotePGIdent(col)))
			excludedCols = append(excludedCols, fmt.Sprintf("EXCLUDED.%s", quotePGIdent(col)))
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		qualifyPGTable(schemaName, table), colStr, colStr, quotePGIdent(stagingTable)))
	sb.WriteString(fmt.Sprintf(" ON CONFLICT (%s)", pkStr))

	if len(setClauses) > 0 {
		sb.WriteString(fmt.Sprintf(" DO UPDATE SET %s", strings.Join(setClauses, ", ")))
		// Without IS DISTINCT FROM, PostgreSQL writes a new row version
		// even for identical data.
		sb.WriteString(fmt.Sprintf(" WHERE (%s) IS DISTINCT FROM (%s)",
			strings.Join(targetCols, ", "),
			strings.Join(excludedCols, ", ")))
	} else {
		// All columns are PK - DO NOTHING
		sb.WriteString(" DO NOTHING")
	}

	return sb.String()
}
