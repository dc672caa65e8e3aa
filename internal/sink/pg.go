package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MetaSchema is the warehouse schema holding all telemetry tables.
const MetaSchema = "sync_meta"

// PG writes telemetry into the target warehouse. It shares the target
// connection pool; telemetry rows are small and infrequent compared to
// data batches.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG creates a warehouse-backed sink. The pool is owned by the
// caller.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

// EnsureSchema creates the telemetry schema and tables if missing.
// Called once at startup; a failure here degrades the run but does not
// stop it.
func (p *PG) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, MetaSchema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.sync_runs (
			run_id text PRIMARY KEY,
			started_at timestamptz NOT NULL,
			completed_at timestamptz NOT NULL,
			status text NOT NULL,
			triggered_by text NOT NULL DEFAULT 'manual',
			tables_total integer NOT NULL DEFAULT 0,
			tables_synced integer NOT NULL DEFAULT 0,
			tables_failed integer NOT NULL DEFAULT 0,
			rows_synced bigint NOT NULL DEFAULT 0,
			degraded boolean NOT NULL DEFAULT false,
			error text
		)`, MetaSchema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.table_sync_logs (
			id bigserial PRIMARY KEY,
			run_id text NOT NULL,
			instance text NOT NULL,
			db_name text NOT NULL,
			table_name text NOT NULL,
			strategy text NOT NULL,
			started_at timestamptz NOT NULL,
			completed_at timestamptz NOT NULL,
			status text NOT NULL,
			rows_read bigint NOT NULL DEFAULT 0,
			rows_upserted bigint NOT NULL DEFAULT 0,
			rows_deleted bigint NOT NULL DEFAULT 0,
			marker text,
			error text
		)`, MetaSchema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.row_count_audits (
			id bigserial PRIMARY KEY,
			run_id text NOT NULL,
			instance text NOT NULL,
			db_name text NOT NULL,
			table_name text NOT NULL,
			source_rows bigint NOT NULL,
			target_rows bigint NOT NULL,
			difference bigint NOT NULL,
			drift_pct double precision NOT NULL,
			within_tolerance boolean NOT NULL,
			severity text NOT NULL,
			checked_at timestamptz NOT NULL
		)`, MetaSchema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.health_metrics (
			id bigserial PRIMARY KEY,
			name text NOT NULL,
			value double precision NOT NULL,
			labels jsonb,
			recorded_at timestamptz NOT NULL
		)`, MetaSchema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.alerts (
			id bigserial PRIMARY KEY,
			run_id text,
			severity text NOT NULL,
			source text NOT NULL,
			message text NOT NULL,
			resolved boolean NOT NULL DEFAULT false,
			created_at timestamptz NOT NULL
		)`, MetaSchema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_table_sync_logs_run ON %s.table_sync_logs(run_id)`, MetaSchema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_row_count_audits_run ON %s.row_count_audits(run_id)`, MetaSchema),
	}

	for _, stmt := range ddl {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating telemetry tables: %w", err)
		}
	}
	return nil
}

func (p *PG) RecordRun(ctx context.Context, e *RunEntry) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.sync_runs
			(run_id, started_at, completed_at, status, triggered_by,
			 tables_total, tables_synced, tables_failed, rows_synced, degraded, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, MetaSchema),
		e.RunID, e.StartedAt, e.CompletedAt, e.Status, e.TriggeredBy,
		e.TablesTotal, e.TablesSynced, e.TablesFailed, e.RowsSynced, e.Degraded, nullable(e.Error))
	return err
}

func (p *PG) RecordTableSync(ctx context.Context, e *TableSyncEntry) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.table_sync_logs
			(run_id, instance, db_name, table_name, strategy, started_at, completed_at,
			 status, rows_read, rows_upserted, rows_deleted, marker, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, MetaSchema),
		e.RunID, e.Instance, e.Database, e.Table, e.Strategy, e.StartedAt, e.CompletedAt,
		e.Status, e.RowsRead, e.RowsUpserted, e.RowsDeleted, nullable(e.Marker), nullable(e.Error))
	return err
}

func (p *PG) RecordAudit(ctx context.Context, e *AuditEntry) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.row_count_audits
			(run_id, instance, db_name, table_name, source_rows, target_rows,
			 difference, drift_pct, within_tolerance, severity, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, MetaSchema),
		e.RunID, e.Instance, e.Database, e.Table, e.SourceRows, e.TargetRows,
		e.Difference, e.DriftPct, e.WithinTolerance, e.Severity, e.CheckedAt)
	return err
}

func (p *PG) RecordHealthMetric(ctx context.Context, e *HealthMetricEntry) error {
	var labels any
	if len(e.Labels) > 0 {
		data, err := json.Marshal(e.Labels)
		if err != nil {
			return fmt.Errorf("marshaling metric labels: %w", err)
		}
		labels = string(data)
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.health_metrics (name, value, labels, recorded_at)
		VALUES ($1, $2, $3::jsonb, $4)
	`, MetaSchema),
		e.Name, e.Value, labels, e.RecordedAt)
	return err
}

func (p *PG) RecordAlert(ctx context.Context, e *AlertEntry) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.alerts (run_id, severity, source, message, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, MetaSchema),
		nullable(e.RunID), e.Severity, e.Source, e.Message, e.Resolved, e.CreatedAt)
	return err
}

// nullable maps empty strings to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Sink = (*PG)(nil)
