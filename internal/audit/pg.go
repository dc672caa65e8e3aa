package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/saadactin/Nitin-sir/internal/config"
)

// PGReader counts target rows over its own database/sql connection so
// audit results never depend on the pools the sync wrote through.
type PGReader struct {
	db *sql.DB
}

// OpenPG opens the audit connection to the target.
func OpenPG(cfg *config.TargetConfig) (*PGReader, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening audit connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PGReader{db: db}, nil
}

// Close releases the audit connection.
func (r *PGReader) Close() error {
	return r.db.Close()
}

// Ping verifies the audit connection is usable.
func (r *PGReader) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PGReader) CountRows(ctx context.Context, schemaName, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s",
		pq.QuoteIdentifier(schemaName), pq.QuoteIdentifier(table))
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// KeyExists probes for a single primary key tuple.
func (r *PGReader) KeyExists(ctx context.Context, schemaName, table string, pkCols []string, key []any) (bool, error) {
	where := make([]string, len(pkCols))
	for i, col := range pkCols {
		where[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), i+1)
	}
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s.%s WHERE %s)",
		pq.QuoteIdentifier(schemaName), pq.QuoteIdentifier(table), strings.Join(where, " AND "))

	var exists bool
	err := r.db.QueryRowContext(ctx, query, key...).Scan(&exists)
	return exists, err
}

var _ TargetReader = (*PGReader)(nil)
