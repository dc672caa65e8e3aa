// Package audit verifies that target row counts match the source after
// a run. Counts are queried fresh over the auditor's own connections;
// the counters the sync itself accumulated are never trusted.
package audit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/saadactin/Nitin-sir/internal/config"
	"github.com/saadactin/Nitin-sir/internal/engine"
	"github.com/saadactin/Nitin-sir/internal/schema"
	"github.com/saadactin/Nitin-sir/internal/target"
)

// Severity grades for audit findings and the alerts raised from them.
const (
	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SourceReader is the source-side surface the auditor needs.
type SourceReader interface {
	CountRows(ctx context.Context, schemaName, table string) (int64, error)
	SampleKeys(ctx context.Context, t *schema.Table, n int) ([][]any, error)
}

// TargetReader is the target-side surface. The production implementation
// opens its own database/sql connection, separate from the write pool.
type TargetReader interface {
	CountRows(ctx context.Context, schemaName, table string) (int64, error)
	KeyExists(ctx context.Context, schemaName, table string, pkCols []string, key []any) (bool, error)
}

// TableCheck is the outcome of auditing one table.
type TableCheck struct {
	Instance   string
	Database   string
	Table      string
	SourceRows int64
	TargetRows int64
	Delta      int64   // target minus source
	DriftPct   float64 // absolute delta relative to source, in percent

	Within        bool // count delta within tolerance
	SampleChecked int
	SampleMissing int

	Severity  string
	Err       error
	CheckedAt time.Time
}

// Pass reports whether the table passed every check.
func (c *TableCheck) Pass() bool {
	return c.Err == nil && c.Within && c.SampleMissing == 0
}

// AlertMessage renders the finding for an alert.
func (c *TableCheck) AlertMessage() string {
	key := fmt.Sprintf("%s/%s %s", c.Instance, c.Database, c.Table)

	switch {
	case !c.Within:
		return fmt.Sprintf("Row count mismatch on %s: source=%d target=%d (delta %+d, %.1f%% drift)",
			key, c.SourceRows, c.TargetRows, c.Delta, c.DriftPct)
	case c.SampleMissing > 0:
		return fmt.Sprintf("Sample check failed on %s: %d of %d sampled keys missing from target",
			key, c.SampleMissing, c.SampleChecked)
	case c.Err != nil:
		return fmt.Sprintf("Audit error on %s: %v", key, c.Err)
	default:
		return fmt.Sprintf("Audit passed on %s", key)
	}
}

// Auditor re-counts synced tables and grades any disagreement.
type Auditor struct {
	tgt        TargetReader
	tolerance  int64
	warnPct    float64
	highPct    float64
	sampleSize int
}

// New builds an Auditor with the configured tolerance and thresholds.
func New(tgt TargetReader, cfg *config.AuditConfig) *Auditor {
	return &Auditor{
		tgt:        tgt,
		tolerance:  cfg.Tolerance,
		warnPct:    cfg.WarnPct,
		highPct:    cfg.HighPct,
		sampleSize: cfg.SampleSize,
	}
}

// CheckTable audits one synced table: a fresh count on both sides plus,
// when sampling is enabled and the table has a key, a random sample of
// source keys probed against the target.
func (a *Auditor) CheckTable(ctx context.Context, src SourceReader, u *engine.Unit) TableCheck {
	c := TableCheck{
		Instance:  u.Instance,
		Database:  u.Database,
		Table:     u.Table.FullName(),
		Within:    true,
		CheckedAt: time.Now().UTC(),
	}

	srcCount, err := src.CountRows(ctx, u.Table.Schema, u.Table.Name)
	if err != nil {
		c.Severity = SeverityCritical
		c.Err = fmt.Errorf("source count for %s: %w", c.Table, err)
		return c
	}
	c.SourceRows = srcCount

	tgtCount, err := a.tgt.CountRows(ctx, u.TargetSchema, target.SanitizePGIdentifier(u.Table.Name))
	if err != nil {
		c.Severity = SeverityCritical
		c.Err = fmt.Errorf("target count for %s: %w", c.Table, err)
		return c
	}
	c.TargetRows = tgtCount

	c.Delta = tgtCount - srcCount
	if srcCount > 0 {
		c.DriftPct = math.Abs(float64(c.Delta)) / float64(srcCount) * 100
	} else if c.Delta != 0 {
		c.DriftPct = 100
	}
	c.Within = abs64(c.Delta) <= a.tolerance
	if !c.Within {
		c.Err = &engine.AuditMismatch{Table: c.Table, SourceRows: srcCount, TargetRows: tgtCount}
	}

	a.checkSamples(ctx, src, u, &c)

	c.Severity = a.grade(&c)
	return c
}

// checkSamples probes a random sample of source keys on the target.
// Sample reads are best effort; a failed read skips the check rather
// than failing the audit.
func (a *Auditor) checkSamples(ctx context.Context, src SourceReader, u *engine.Unit, c *TableCheck) {
	if a.sampleSize <= 0 || !u.Table.HasPK() || c.SourceRows == 0 {
		return
	}

	keys, err := src.SampleKeys(ctx, u.Table, a.sampleSize)
	if err != nil {
		return
	}

	tgtTable := target.SanitizePGIdentifier(u.Table.Name)
	pkCols := make([]string, len(u.Table.PrimaryKey))
	for i, col := range u.Table.PrimaryKey {
		pkCols[i] = target.SanitizePGIdentifier(col)
	}

	for _, key := range keys {
		c.SampleChecked++
		ok, err := a.tgt.KeyExists(ctx, u.TargetSchema, tgtTable, pkCols, key)
		if err != nil || !ok {
			c.SampleMissing++
		}
	}
	if c.SampleMissing > 0 && c.Err == nil {
		c.Err = fmt.Errorf("sample check on %s: %d of %d sampled keys missing from target",
			c.Table, c.SampleMissing, c.SampleChecked)
	}
}

// grade maps a finding onto the alert ladder. Unreachable endpoints are
// graded Critical before this is reached.
func (a *Auditor) grade(c *TableCheck) string {
	if !c.Within {
		switch {
		case c.DriftPct >= a.highPct:
			return SeverityCritical
		case c.DriftPct >= a.warnPct:
			return SeverityHigh
		default:
			return SeverityMedium
		}
	}
	if c.SampleMissing > 0 {
		return SeverityHigh
	}
	if c.Delta != 0 {
		return SeverityLow
	}
	return SeverityNone
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Report aggregates one run's audit findings.
type Report struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Checks      []TableCheck
}

// Add appends one finding.
func (r *Report) Add(c TableCheck) {
	r.Checks = append(r.Checks, c)
}

// Passed counts tables that cleared every check.
func (r *Report) Passed() int {
	n := 0
	for i := range r.Checks {
		if r.Checks[i].Pass() {
			n++
		}
	}
	return n
}

// Failed returns the findings that did not pass.
func (r *Report) Failed() []TableCheck {
	var out []TableCheck
	for i := range r.Checks {
		if !r.Checks[i].Pass() {
			out = append(out, r.Checks[i])
		}
	}
	return out
}

// Pass reports whether every table cleared the audit.
func (r *Report) Pass() bool {
	return len(r.Failed()) == 0
}

// Err returns nil when every check passed, otherwise an error naming
// how many tables failed.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("audit found %d mismatched tables", len(failed))
}

// Summary renders a one-line result.
func (r *Report) Summary() string {
	return fmt.Sprintf("audit: %d tables, %d passed, %d failed",
		len(r.Checks), r.Passed(), len(r.Failed()))
}
