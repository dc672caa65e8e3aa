// Package source reads table metadata and row data from SQL Server
// instances. One Pool serves one database on one instance; enumeration
// of databases goes through a pool connected to master.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/saadactin/Nitin-sir/internal/config"
	"github.com/saadactin/Nitin-sir/internal/schema"
)

// PoolStats contains connection pool statistics
type PoolStats struct {
	MaxOpenConnections int   // Maximum number of open connections
	OpenConnections    int   // Current number of open connections
	InUse              int   // Connections currently in use
	Idle               int   // Connections currently idle
	WaitCount          int64 // Total number of connections waited for
	WaitDuration       int64 // Total wait time in milliseconds
}

// Pool manages connections to one database on one SQL Server instance.
type Pool struct {
	db       *sql.DB
	cfg      *config.SourceConfig
	database string
	maxConns int
}

// NewPool opens a connection pool to the given database.
func NewPool(ctx context.Context, cfg *config.SourceConfig, database string, maxConns int) (*Pool, error) {
	db, err := sql.Open("sqlserver", cfg.DSN(database))
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s/%s: %w", cfg.Name, database, err)
	}

	return &Pool{db: db, cfg: cfg, database: database, maxConns: maxConns}, nil
}

// Close closes all connections in the pool
func (p *Pool) Close() error {
	return p.db.Close()
}

// DB returns the underlying database connection
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Database returns the database this pool is connected to.
func (p *Pool) Database() string {
	return p.database
}

// Instance returns the configured source instance name.
func (p *Pool) Instance() string {
	return p.cfg.Name
}

// MaxConns returns the configured maximum connections
func (p *Pool) MaxConns() int {
	return p.maxConns
}

// Stats returns current connection pool statistics
func (p *Pool) Stats() PoolStats {
	stats := p.db.Stats()
	return PoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration.Milliseconds(),
	}
}

// ExtractTables extracts metadata for every base table in the database,
// excluding system schemas.
func (p *Pool) ExtractTables(ctx context.Context) ([]schema.Table, error) {
	query := `
		SELECT t.TABLE_SCHEMA, t.TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES t
		WHERE t.TABLE_TYPE = 'BASE TABLE'
		  AND t.TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
		ORDER BY t.TABLE_SCHEMA, t.TABLE_NAME
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying tables: %w", err)
	}
	defer rows.Close()

	var tables []schema.Table
	for rows.Next() {
		var t schema.Table
		t.Database = p.database
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, fmt.Errorf("scanning table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		t := &tables[i]
		if err := p.loadColumns(ctx, t); err != nil {
			return nil, fmt.Errorf("loading columns for %s: %w", t.FullName(), err)
		}
		if err := p.loadPrimaryKey(ctx, t); err != nil {
			return nil, fmt.Errorf("loading PK for %s: %w", t.FullName(), err)
		}
		if err := p.loadApproxRowCount(ctx, t); err != nil {
			return nil, fmt.Errorf("loading row count for %s: %w", t.FullName(), err)
		}
		detectTimestampColumn(t)
	}

	return tables, nil
}

func (p *Pool) loadColumns(ctx context.Context, t *schema.Table) error {
	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			ISNULL(CHARACTER_MAXIMUM_LENGTH, 0),
			ISNULL(NUMERIC_PRECISION, 0),
			ISNULL(NUMERIC_SCALE, 0),
			CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			ISNULL(COLUMNPROPERTY(OBJECT_ID(TABLE_SCHEMA + '.' + TABLE_NAME), COLUMN_NAME, 'IsIdentity'), 0),
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION
	`
	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("schema", t.Schema), sql.Named("table", t.Name))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c schema.Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &c.Precision,
			&c.Scale, &c.IsNullable, &c.IsIdentity, &c.OrdinalPos); err != nil {
			return err
		}
		t.Columns = append(t.Columns, c)
	}

	return rows.Err()
}

func (p *Pool) loadPrimaryKey(ctx context.Context, t *schema.Table) error {
	query := `
		SELECT c.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE c
			ON c.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
			AND c.TABLE_SCHEMA = tc.TABLE_SCHEMA
			AND c.TABLE_NAME = tc.TABLE_NAME
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		  AND tc.TABLE_SCHEMA = @schema
		  AND tc.TABLE_NAME = @table
		ORDER BY c.ORDINAL_POSITION
	`
	rows, err := p.db.QueryContext(ctx, query,
		sql.Named("schema", t.Schema), sql.Named("table", t.Name))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return err
		}
		t.PrimaryKey = append(t.PrimaryKey, col)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	t.PopulatePKColumns()
	return nil
}

func (p *Pool) loadApproxRowCount(ctx context.Context, t *schema.Table) error {
	// Use sys.partitions for fast approximate count
	query := `
		SELECT ISNULL(SUM(p.rows), 0)
		FROM sys.partitions p
		JOIN sys.tables t ON p.object_id = t.object_id
		JOIN sys.schemas s ON t.schema_id = s.schema_id
		WHERE s.name = @schema AND t.name = @table AND p.index_id IN (0, 1)
	`
	return p.db.QueryRowContext(ctx, query,
		sql.Named("schema", t.Schema),
		sql.Named("table", t.Name)).Scan(&t.RowCount)
}

// CountRows returns an exact row count. The audit path uses this instead
// of the approximate count captured during extraction.
func (p *Pool) CountRows(ctx context.Context, schemaName, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", qualifyTable(schemaName, table))
	err := p.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// PendingSince counts rows whose tracking column is past the given marker.
func (p *Pool) PendingSince(ctx context.Context, t *schema.Table, column string, marker any) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s WITH (NOLOCK) WHERE %s > @marker",
		qualifyTable(t.Schema, t.Name), quoteIdent(column))
	err := p.db.QueryRowContext(ctx, query, sql.Named("marker", marker)).Scan(&count)
	return count, err
}

// ReadAll streams every row of the table.
func (p *Pool) ReadAll(ctx context.Context, t *schema.Table, batchSize int) (*RowIterator, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WITH (NOLOCK)",
		columnList(t.ColumnNames()), qualifyTable(t.Schema, t.Name))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", t.FullName(), err)
	}
	return newRowIterator(rows, t.Columns, batchSize), nil
}

// ReadSincePK streams rows whose primary key is greater than the marker,
// in key order.
func (p *Pool) ReadSincePK(ctx context.Context, t *schema.Table, marker any, batchSize int) (*RowIterator, error) {
	pk := quoteIdent(t.PrimaryKey[0])
	query := fmt.Sprintf("SELECT %s FROM %s WITH (NOLOCK) WHERE %s > @marker ORDER BY %s",
		columnList(t.ColumnNames()), qualifyTable(t.Schema, t.Name), pk, pk)
	rows, err := p.db.QueryContext(ctx, query, sql.Named("marker", marker))
	if err != nil {
		return nil, fmt.Errorf("reading %s since pk marker: %w", t.FullName(), err)
	}
	return newRowIterator(rows, t.Columns, batchSize), nil
}

// ReadSinceTimestamp streams rows modified after the marker. Rows with a
// NULL tracking column are always included since they cannot be proven
// unchanged.
func (p *Pool) ReadSinceTimestamp(ctx context.Context, t *schema.Table, marker any, batchSize int) (*RowIterator, error) {
	ts := quoteIdent(t.TimestampColumn)
	query := fmt.Sprintf("SELECT %s FROM %s WITH (NOLOCK) WHERE %s > @marker OR %s IS NULL ORDER BY %s",
		columnList(t.ColumnNames()), qualifyTable(t.Schema, t.Name), ts, ts, ts)
	rows, err := p.db.QueryContext(ctx, query, sql.Named("marker", marker))
	if err != nil {
		return nil, fmt.Errorf("reading %s since timestamp marker: %w", t.FullName(), err)
	}
	return newRowIterator(rows, t.Columns, batchSize), nil
}

// ReadUpdatedSince streams rows whose tracking column advanced past the
// marker but whose primary key is at or below the key watermark. Used by
// key-incremental sync to pick up in-place updates without re-reading
// the rows the key pull already covers.
func (p *Pool) ReadUpdatedSince(ctx context.Context, t *schema.Table, since any, pkMax any, batchSize int) (*RowIterator, error) {
	pk := quoteIdent(t.PrimaryKey[0])
	ts := quoteIdent(t.TimestampColumn)
	query := fmt.Sprintf("SELECT %s FROM %s WITH (NOLOCK) WHERE %s > @since AND %s <= @pkmax ORDER BY %s",
		columnList(t.ColumnNames()), qualifyTable(t.Schema, t.Name), ts, pk, pk)
	rows, err := p.db.QueryContext(ctx, query, sql.Named("since", since), sql.Named("pkmax", pkMax))
	if err != nil {
		return nil, fmt.Errorf("reading %s updates since timestamp marker: %w", t.FullName(), err)
	}
	return newRowIterator(rows, t.Columns, batchSize), nil
}

// ReadAllKeys streams only the primary key columns of every row.
func (p *Pool) ReadAllKeys(ctx context.Context, t *schema.Table, batchSize int) (*RowIterator, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WITH (NOLOCK)",
		columnList(t.PrimaryKey), qualifyTable(t.Schema, t.Name))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reading %s keys: %w", t.FullName(), err)
	}
	return newRowIterator(rows, t.PKColumns, batchSize), nil
}

// SampleKeys returns up to n random primary key tuples. The auditor
// uses them to spot-check that synced rows actually landed.
func (p *Pool) SampleKeys(ctx context.Context, t *schema.Table, n int) ([][]any, error) {
	query := fmt.Sprintf("SELECT TOP (%d) %s FROM %s WITH (NOLOCK) ORDER BY NEWID()",
		n, columnList(t.PrimaryKey), qualifyTable(t.Schema, t.Name))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sampling %s keys: %w", t.FullName(), err)
	}
	defer rows.Close()

	var keys [][]any
	for rows.Next() {
		vals := make([]any, len(t.PrimaryKey))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i := range vals {
			if i < len(t.PKColumns) {
				vals[i] = processValue(vals[i], t.PKColumns[i].DataType)
			}
		}
		keys = append(keys, vals)
	}
	return keys, rows.Err()
}

// quoteIdent quotes an identifier in SQL Server bracket style.
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// qualifyTable returns the bracket-quoted schema.table name.
func qualifyTable(schemaName, table string) string {
	return quoteIdent(schemaName) + "." + quoteIdent(table)
}

// columnList returns a comma-separated list of quoted identifiers.
func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}
