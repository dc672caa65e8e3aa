package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/saadactin/Nitin-sir/internal/audit"
	"github.com/saadactin/Nitin-sir/internal/engine"
	"github.com/saadactin/Nitin-sir/internal/logging"
	"github.com/saadactin/Nitin-sir/internal/progress"
	"github.com/saadactin/Nitin-sir/internal/sink"
	"github.com/saadactin/Nitin-sir/internal/source"
)

// collector aggregates unit results across all worker goroutines.
type collector struct {
	mu sync.Mutex

	total   int
	synced  int
	failed  int
	skipped int

	rowsRead     int64
	rowsUpserted int64
	rowsDeleted  int64

	failedTables []string
	report       audit.Report
}

func newCollector(total int) *collector {
	return &collector{total: total}
}

func (c *collector) noteResult(u *engine.Unit, res *engine.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch res.Status {
	case engine.StatusSucceeded:
		c.synced++
	case engine.StatusSkipped:
		c.skipped++
	default:
		c.failed++
		c.failedTables = append(c.failedTables, u.Key())
	}
	c.rowsRead += res.RowsRead
	c.rowsUpserted += res.RowsUpserted
	c.rowsDeleted += res.RowsDeleted
}

func (c *collector) noteAudit(chk audit.TableCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.report.Checks) == 0 {
		c.report.StartedAt = time.Now().UTC()
	}
	c.report.Add(chk)
	c.report.CompletedAt = time.Now().UTC()
}

func (c *collector) snapshot() (synced, failed, skipped int, rows int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced, c.failed, c.skipped, c.rowsUpserted
}

func (c *collector) rowTotals() (read, upserted, deleted int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowsRead, c.rowsUpserted, c.rowsDeleted
}

func (c *collector) failedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.failedTables))
	copy(out, c.failedTables)
	return out
}

func (c *collector) auditErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report.Err()
}

func (c *collector) auditReport() *audit.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.report
	return &r
}

// dispatch runs instance plans in parallel, bounded by ServerWorkers.
// Databases within an instance run sequentially to cap the load on any
// one server.
func (o *Orchestrator) dispatch(ctx context.Context, rs *runState, plans []instancePlan) {
	workers := o.cfg.Sync.ServerWorkers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range plans {
		plan := &plans[i]
		if plan.Err != nil || len(plan.Databases) == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			o.skipInstance(rs, plan)
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(p *instancePlan) {
			defer wg.Done()
			defer func() { <-sem }()
			o.runInstance(ctx, rs, p)
		}(plan)
	}
	wg.Wait()
}

func (o *Orchestrator) runInstance(ctx context.Context, rs *runState, plan *instancePlan) {
	for i := range plan.Databases {
		db := &plan.Databases[i]
		if ctx.Err() != nil {
			o.skipUnits(rs, db.Units)
			continue
		}
		o.runDatabase(ctx, rs, db)
	}
}

func (o *Orchestrator) skipInstance(rs *runState, plan *instancePlan) {
	for i := range plan.Databases {
		o.skipUnits(rs, plan.Databases[i].Units)
	}
}

// runDatabase opens the database's source pool, syncs its units with a
// bounded worker pool, then audits them while the pool is still open.
func (o *Orchestrator) runDatabase(ctx context.Context, rs *runState, plan *dbPlan) {
	logging.Info("Syncing %s/%s: %d tables -> %s",
		plan.Instance.Name, plan.Database, len(plan.Units), plan.TargetSchema)

	pool, err := source.NewPool(ctx, plan.Instance, plan.Database, plan.Instance.MaxConns)
	if err != nil {
		o.failDatabase(rs, plan, err)
		return
	}
	defer pool.Close()

	if err := o.tgt.EnsureSchema(ctx, plan.TargetSchema); err != nil {
		o.failDatabase(rs, plan, fmt.Errorf("creating schema %s: %w", plan.TargetSchema, err))
		return
	}

	syncer := engine.New(&sourceAdapter{pool: pool}, o.tgt, o.cfg.Sync.BatchSize)

	workers := o.cfg.Sync.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range plan.Units {
		u := &plan.Units[i]
		select {
		case <-ctx.Done():
			o.skipUnit(rs, u)
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(u *engine.Unit) {
			defer wg.Done()
			defer func() { <-sem }()
			o.runUnit(ctx, rs, syncer, u)
		}(u)
	}
	wg.Wait()

	if !rs.opts.SkipAudit && ctx.Err() == nil {
		o.auditDatabase(ctx, rs, pool, plan)
	}
}

// runUnit syncs one table: load the prior watermark, run the strategy
// under the per-table deadline, persist the advanced marker and record
// the outcome. A failing unit never stops its siblings.
func (o *Orchestrator) runUnit(ctx context.Context, rs *runState, syncer *engine.Syncer, u *engine.Unit) {
	started := time.Now().UTC()
	if rs.track != nil {
		rs.track.StartTable(u.Table.FullName())
	}

	unitCtx := ctx
	if d := o.cfg.Sync.TableTimeout.Std(); d > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	prior, err := o.store.GetMarker(u.Instance, u.Database, u.Table.FullName())
	if err != nil {
		logging.Warn("Reading watermark for %s failed, re-syncing from scratch: %v", u.Key(), err)
		prior = nil
	}

	res := syncer.SyncTable(unitCtx, u, prior)
	if res.Err != nil {
		res.Err = o.classifyUnitErr(res.Err)
	} else {
		o.persistMarker(u, res)
	}

	rs.col.noteResult(u, res)
	if rs.track != nil {
		rs.track.AddRows(res.RowsUpserted)
		rs.track.EndTable(u.Table.FullName(), res.Err == nil)
	}

	o.recordUnit(rs, u, res, started)

	elapsed := time.Since(started).Round(time.Millisecond)
	switch {
	case res.Err != nil:
		logging.Error("Table %s failed after %s: %v", u.Key(), elapsed, res.Err)
		deliver(o.notifier.TableSyncFailed(rs.id, u.Key(), res.Err))
		o.rec.RecordAlert(rs.bg, &sink.AlertEntry{
			RunID:     rs.id,
			Severity:  severityForSyncError(res.Err),
			Source:    "sync",
			Message:   fmt.Sprintf("Sync failed on %s: %v", u.Key(), res.Err),
			CreatedAt: time.Now().UTC(),
		})
	case res.RowsUpserted > 0 || res.RowsDeleted > 0 || res.Rebuilt:
		logging.Info("Table %s: %s read=%d upserted=%d deleted=%d in %s",
			u.Key(), res.Strategy.Kind, res.RowsRead, res.RowsUpserted, res.RowsDeleted, elapsed)
	default:
		logging.Debug("Table %s: no changes", u.Key())
	}

	o.reportProgress(rs)
}

func (o *Orchestrator) recordUnit(rs *runState, u *engine.Unit, res *engine.Result, started time.Time) {
	entry := &sink.TableSyncEntry{
		RunID:        rs.id,
		Instance:     u.Instance,
		Database:     u.Database,
		Table:        u.Table.FullName(),
		Strategy:     res.Strategy.Kind.String(),
		StartedAt:    started,
		CompletedAt:  time.Now().UTC(),
		Status:       res.Status,
		RowsRead:     res.RowsRead,
		RowsUpserted: res.RowsUpserted,
		RowsDeleted:  res.RowsDeleted,
	}
	if res.Marker != nil {
		entry.Marker = res.Marker.Value
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	o.rec.RecordTableSync(rs.bg, entry)
}

// persistMarker stores the advanced watermark. Persistence failures are
// logged, not fatal: the next run re-reads from the prior position and
// the idempotent writes absorb the replay.
func (o *Orchestrator) persistMarker(u *engine.Unit, res *engine.Result) {
	if res.ClearMarker && res.Marker == nil {
		if err := o.store.ClearMarker(u.Instance, u.Database, u.Table.FullName()); err != nil {
			logging.Warn("Clearing watermark for %s failed: %v", u.Key(), err)
		}
		return
	}
	if res.Marker != nil {
		if err := o.store.SetMarker(res.Marker); err != nil {
			logging.Warn("Persisting watermark for %s failed, next run re-reads from the prior position: %v",
				u.Key(), err)
		}
	}
}

// classifyUnitErr upgrades a unit failure to a connectivity error when
// the target has actually gone away, so the exit code distinguishes an
// outage from a bad table.
func (o *Orchestrator) classifyUnitErr(err error) error {
	var ce *engine.ConnectivityError
	if errors.As(err, &ce) || errors.Is(err, context.Canceled) {
		return err
	}
	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if pingErr := o.tgt.Ping(probeCtx); pingErr != nil {
		return &engine.ConnectivityError{
			Endpoint: fmt.Sprintf("%s:%d", o.cfg.Target.Host, o.cfg.Target.Port),
			Err:      err,
		}
	}
	return err
}

func severityForSyncError(err error) string {
	var ce *engine.ConnectivityError
	if errors.As(err, &ce) {
		return audit.SeverityCritical
	}
	var pw *engine.PartialWriteError
	if errors.As(err, &pw) || errors.Is(err, context.DeadlineExceeded) {
		return audit.SeverityHigh
	}
	return audit.SeverityMedium
}

func (o *Orchestrator) skipUnits(rs *runState, units []engine.Unit) {
	for i := range units {
		o.skipUnit(rs, &units[i])
	}
}

// skipUnit records a unit the run never reached, usually after ctrl-C.
// Its marker is untouched, so the next run picks it up where this one
// left off.
func (o *Orchestrator) skipUnit(rs *runState, u *engine.Unit) {
	res := &engine.Result{Status: engine.StatusSkipped, Strategy: u.Strategy}
	rs.col.noteResult(u, res)
	if rs.track != nil {
		rs.track.EndTable(u.Table.FullName(), true)
	}
	o.recordUnit(rs, u, res, time.Now().UTC())
}

// failDatabase marks every unit failed when the database itself could
// not be prepared. One alert covers the whole database.
func (o *Orchestrator) failDatabase(rs *runState, plan *dbPlan, err error) {
	logging.Error("Database %s/%s failed: %v", plan.Instance.Name, plan.Database, err)
	now := time.Now().UTC()
	for i := range plan.Units {
		u := &plan.Units[i]
		res := &engine.Result{Status: engine.StatusFailed, Strategy: u.Strategy, Err: err}
		rs.col.noteResult(u, res)
		if rs.track != nil {
			rs.track.EndTable(u.Table.FullName(), false)
		}
		o.recordUnit(rs, u, res, now)
	}
	msg := fmt.Sprintf("Database %s/%s failed before any table synced: %v",
		plan.Instance.Name, plan.Database, err)
	o.rec.RecordAlert(rs.bg, &sink.AlertEntry{
		RunID:     rs.id,
		Severity:  audit.SeverityCritical,
		Source:    "sync",
		Message:   msg,
		CreatedAt: now,
	})
	deliver(o.notifier.AlertRaised(rs.id, audit.SeverityCritical, "sync", msg))
	o.reportProgress(rs)
}

func (o *Orchestrator) reportProgress(rs *runState) {
	synced, failed, skipped, rows := rs.col.snapshot()
	done := synced + failed + skipped
	upd := progress.Update{
		Phase:          progress.PhaseSync,
		TablesComplete: done,
		TablesTotal:    rs.col.total,
		TablesFailed:   failed,
		RowsWritten:    rows,
	}
	if rs.col.total > 0 {
		upd.ProgressPct = float64(done) / float64(rs.col.total) * 100
	}
	if secs := time.Since(rs.started).Seconds(); secs > 0 {
		upd.RowsPerSecond = int64(float64(rows) / secs)
	}
	if rs.track != nil {
		active := rs.track.Active()
		upd.TablesRunning = len(active)
		upd.CurrentTables = active
	}
	rs.rep.Report(upd)
}
