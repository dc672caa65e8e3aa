// Package sink records sync telemetry into the warehouse: run
// summaries, per-table sync logs, audit results, health metrics and
// alerts. Every record is an append; nothing is ever updated or
// deleted, so the history doubles as an audit trail.
//
// Sink writes are advisory. A failing sink marks the run degraded but
// never fails a sync.
package sink

import (
	"context"
	"time"
)

// RunEntry summarizes one completed sync run.
type RunEntry struct {
	RunID        string
	StartedAt    time.Time
	CompletedAt  time.Time
	Status       string
	TriggeredBy  string
	TablesTotal  int
	TablesSynced int
	TablesFailed int
	RowsSynced   int64
	Degraded     bool
	Error        string
}

// TableSyncEntry records the outcome of syncing one table.
type TableSyncEntry struct {
	RunID        string
	Instance     string
	Database     string
	Table        string
	Strategy     string
	StartedAt    time.Time
	CompletedAt  time.Time
	Status       string
	RowsRead     int64
	RowsUpserted int64
	RowsDeleted  int64
	Marker       string
	Error        string
}

// AuditEntry records one row count comparison between source and target.
type AuditEntry struct {
	RunID           string
	Instance        string
	Database        string
	Table           string
	SourceRows      int64
	TargetRows      int64
	Difference      int64
	DriftPct        float64
	WithinTolerance bool
	Severity        string
	CheckedAt       time.Time
}

// AlertEntry records a raised alert. Resolved is false on insert; an
// operator flips it in the warehouse once the condition is handled.
type AlertEntry struct {
	RunID     string
	Severity  string
	Source    string
	Message   string
	Resolved  bool
	CreatedAt time.Time
}

// HealthMetricEntry records a named gauge with optional labels.
type HealthMetricEntry struct {
	Name       string
	Value      float64
	Labels     map[string]string
	RecordedAt time.Time
}

// Sink is the append-only telemetry store.
type Sink interface {
	RecordRun(ctx context.Context, e *RunEntry) error
	RecordTableSync(ctx context.Context, e *TableSyncEntry) error
	RecordAudit(ctx context.Context, e *AuditEntry) error
	RecordHealthMetric(ctx context.Context, e *HealthMetricEntry) error
	RecordAlert(ctx context.Context, e *AlertEntry) error
}

// Noop discards all records. Used for dry runs.
type Noop struct{}

func (Noop) RecordRun(context.Context, *RunEntry) error { return nil }

func (Noop) RecordTableSync(context.Context, *TableSyncEntry) error { return nil }

func (Noop) RecordAudit(context.Context, *AuditEntry) error { return nil }

func (Noop) RecordHealthMetric(context.Context, *HealthMetricEntry) error { return nil }

func (Noop) RecordAlert(context.Context, *AlertEntry) error { return nil }

var _ Sink = Noop{}
