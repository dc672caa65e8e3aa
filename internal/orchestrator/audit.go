package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/saadactin/Nitin-sir/internal/audit"
	"github.com/saadactin/Nitin-sir/internal/engine"
	"github.com/saadactin/Nitin-sir/internal/logging"
	"github.com/saadactin/Nitin-sir/internal/sink"
	"github.com/saadactin/Nitin-sir/internal/source"
)

// auditDatabase re-counts every unit the run attempted in this
// database, reusing its still-open source pool. Counts come from fresh
// queries on both sides; the counters the sync accumulated are never
// trusted. Mismatches raise alerts but never abort the run.
func (o *Orchestrator) auditDatabase(ctx context.Context, rs *runState, pool *source.Pool, plan *dbPlan) {
	logging.Info("Auditing %s/%s: %d tables", plan.Instance.Name, plan.Database, len(plan.Units))

	for i := range plan.Units {
		if ctx.Err() != nil {
			return
		}
		u := &plan.Units[i]
		chk := o.auditor.CheckTable(ctx, pool, u)
		rs.col.noteAudit(chk)
		o.recordAudit(rs.bg, rs.id, &chk)

		if chk.Pass() {
			logging.Debug("Audit %s/%s %s: source=%d target=%d",
				chk.Instance, chk.Database, chk.Table, chk.SourceRows, chk.TargetRows)
			continue
		}
		msg := chk.AlertMessage()
		logging.Warn("%s", msg)
		o.rec.RecordAlert(rs.bg, &sink.AlertEntry{
			RunID:     rs.id,
			Severity:  chk.Severity,
			Source:    "audit",
			Message:   msg,
			CreatedAt: time.Now().UTC(),
		})
		deliver(o.notifier.AlertRaised(rs.id, chk.Severity, "audit", msg))
	}
}

func (o *Orchestrator) recordAudit(ctx context.Context, runID string, chk *audit.TableCheck) {
	o.rec.RecordAudit(ctx, &sink.AuditEntry{
		RunID:           runID,
		Instance:        chk.Instance,
		Database:        chk.Database,
		Table:           chk.Table,
		SourceRows:      chk.SourceRows,
		TargetRows:      chk.TargetRows,
		Difference:      chk.Delta,
		DriftPct:        chk.DriftPct,
		WithinTolerance: chk.Within,
		Severity:        chk.Severity,
		CheckedAt:       chk.CheckedAt,
	})
}

// Audit verifies every syncable table without moving data: fresh row
// counts on both sides plus key sampling, recorded to the telemetry
// sink under a standalone audit ID. The audit command uses this; runs
// audit inline as each database finishes. Findings are recorded but not
// paged; run-path audits own the alert delivery.
func (o *Orchestrator) Audit(ctx context.Context) (*audit.Report, error) {
	auditID := "audit_" + time.Now().UTC().Format("20060102_150405")

	plans, total, err := o.discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit cancelled during discovery: %w", err)
	}
	if total == 0 {
		return nil, &engine.ConfigurationError{
			Field:  "sync.include_tables",
			Reason: "no tables to audit after filters",
		}
	}

	report := &audit.Report{StartedAt: time.Now().UTC()}
	var unreachable []string
	for i := range plans {
		plan := &plans[i]
		if plan.Err != nil {
			unreachable = append(unreachable, plan.Instance.Name)
			continue
		}
		for j := range plan.Databases {
			db := &plan.Databases[j]
			if err := o.auditOneDatabase(ctx, auditID, db, report); err != nil {
				if ctx.Err() != nil {
					return report, fmt.Errorf("audit cancelled: %w", ctx.Err())
				}
				logging.Error("Audit of %s/%s failed: %v", plan.Instance.Name, db.Database, err)
				unreachable = append(unreachable, plan.Instance.Name+"/"+db.Database)
			}
		}
	}
	report.CompletedAt = time.Now().UTC()

	logging.Info("%s", report.Summary())
	if len(unreachable) > 0 {
		return report, fmt.Errorf("audit incomplete: %s unreachable", strings.Join(unreachable, ", "))
	}
	return report, report.Err()
}

func (o *Orchestrator) auditOneDatabase(ctx context.Context, auditID string, plan *dbPlan, report *audit.Report) error {
	pool, err := source.NewPool(ctx, plan.Instance, plan.Database, 4)
	if err != nil {
		return err
	}
	defer pool.Close()

	for i := range plan.Units {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		u := &plan.Units[i]
		chk := o.auditor.CheckTable(ctx, pool, u)
		report.Add(chk)
		o.recordAudit(ctx, auditID, &chk)
		printCheck(&chk)
	}
	return nil
}

func printCheck(c *audit.TableCheck) {
	mark := "OK"
	if !c.Pass() {
		mark = "FAIL"
	}
	detail := fmt.Sprintf("source=%d target=%d", c.SourceRows, c.TargetRows)
	if c.Delta != 0 {
		detail += fmt.Sprintf(" delta=%+d", c.Delta)
	}
	if c.SampleChecked > 0 {
		detail += fmt.Sprintf(" sampled=%d missing=%d", c.SampleChecked, c.SampleMissing)
	}
	if c.Err != nil && !c.Within {
		detail += fmt.Sprintf(" severity=%s", c.Severity)
	} else if c.Err != nil {
		detail = fmt.Sprintf("error: %v", c.Err)
	}
	fmt.Printf("  %-4s %-50s %s\n", mark, c.Instance+"/"+c.Database+" "+c.Table, detail)
}
