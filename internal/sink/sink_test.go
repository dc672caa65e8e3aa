package sink

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemorySinkRecordsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	entry := &TableSyncEntry{
		RunID:    "run-1",
		Instance: "prod",
		Database: "erp",
		Table:    "dbo.orders",
		Strategy: "pk_incremental",
		Status:   "succeeded",
		RowsRead: 100,
	}
	if err := m.RecordTableSync(ctx, entry); err != nil {
		t.Fatalf("RecordTableSync() error: %v", err)
	}

	// Mutating the original must not affect the stored copy.
	entry.RowsRead = 0

	got := m.TableSyncs()
	if len(got) != 1 {
		t.Fatalf("TableSyncs() returned %d entries", len(got))
	}
	if got[0].RowsRead != 100 {
		t.Errorf("stored entry mutated: rows read = %d", got[0].RowsRead)
	}
}

func TestRecorderAbsorbsFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Fail = errors.New("connection reset")
	r := NewRecorder(m)

	if r.Degraded() {
		t.Fatal("recorder degraded before any write")
	}

	r.RecordAudit(ctx, &AuditEntry{RunID: "run-1", Table: "dbo.orders"})

	if !r.Degraded() {
		t.Error("recorder not degraded after sink failure")
	}
	if r.Failures() != 1 {
		t.Errorf("failures = %d, want 1", r.Failures())
	}

	// Subsequent writes keep flowing to the sink.
	m.Fail = nil
	r.RecordAlert(ctx, &AlertEntry{Severity: "high", Source: "audit", Message: "drift"})
	if len(m.Alerts()) != 1 {
		t.Error("recorder stopped forwarding after a failure")
	}
	if !r.Degraded() {
		t.Error("degraded flag must stick for the rest of the run")
	}
}

func TestRecorderMarksRunDegraded(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	r := NewRecorder(m)

	m.Fail = errors.New("disk full")
	r.RecordTableSync(ctx, &TableSyncEntry{RunID: "run-1"})
	m.Fail = nil

	r.RecordRun(ctx, &RunEntry{RunID: "run-1", Status: "succeeded"})

	runs := m.Runs()
	if len(runs) != 1 {
		t.Fatalf("Runs() returned %d entries", len(runs))
	}
	if !runs[0].Degraded {
		t.Error("run entry not flagged degraded after earlier sink failure")
	}
}

func TestRecorderNilSink(t *testing.T) {
	r := NewRecorder(nil)
	r.RecordHealthMetric(context.Background(), &HealthMetricEntry{Name: "sync_duration_seconds", Value: 12.5})
	if r.Degraded() {
		t.Error("nil sink recorder must never degrade")
	}
}

func TestNullable(t *testing.T) {
	if nullable("") != nil {
		t.Error("empty string should map to nil")
	}
	if v, ok := nullable("x").(string); !ok || v != "x" {
		t.Errorf("nullable(\"x\") = %v", v)
	}
}

func TestMemorySinkAllEntryKinds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	if err := m.RecordRun(ctx, &RunEntry{RunID: "run-1", StartedAt: now, Status: "succeeded"}); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordAudit(ctx, &AuditEntry{RunID: "run-1", SourceRows: 10, TargetRows: 10, WithinTolerance: true, Severity: "none"}); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordHealthMetric(ctx, &HealthMetricEntry{Name: "tables_synced", Value: 42}); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordAlert(ctx, &AlertEntry{Severity: "critical", Source: "coordinator", Message: "run failed"}); err != nil {
		t.Fatal(err)
	}

	if len(m.Runs()) != 1 || len(m.Audits()) != 1 || len(m.Metrics()) != 1 || len(m.Alerts()) != 1 {
		t.Errorf("entry counts: runs=%d audits=%d metrics=%d alerts=%d",
			len(m.Runs()), len(m.Audits()), len(m.Metrics()), len(m.Alerts()))
	}

	if m.Alerts()[0].Severity != "critical" {
		t.Errorf("alert severity = %q", m.Alerts()[0].Severity)
	}
}
