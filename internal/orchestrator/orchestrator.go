// Package orchestrator drives sync runs end to end: discover tables on
// every configured instance, fan the units out to workers, verify the
// results and record the run.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saadactin/Nitin-sir/internal/audit"
	"github.com/saadactin/Nitin-sir/internal/config"
	"github.com/saadactin/Nitin-sir/internal/engine"
	"github.com/saadactin/Nitin-sir/internal/logging"
	"github.com/saadactin/Nitin-sir/internal/notify"
	"github.com/saadactin/Nitin-sir/internal/progress"
	"github.com/saadactin/Nitin-sir/internal/sink"
	"github.com/saadactin/Nitin-sir/internal/state"
	"github.com/saadactin/Nitin-sir/internal/target"
)

// Orchestrator coordinates sync runs across all configured sources.
type Orchestrator struct {
	cfg      *config.Config
	tgt      *target.Pool
	store    state.Backend
	rec      *sink.Recorder
	auditor  *audit.Auditor
	auditTgt *audit.PGReader
	notifier notify.Provider
}

// New connects to the target and the state store and prepares the run
// telemetry sink. Source pools are opened lazily, per database, as the
// run reaches them.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	endpoint := fmt.Sprintf("%s:%d", cfg.Target.Host, cfg.Target.Port)

	tgt, err := target.NewPool(ctx, &cfg.Target, cfg.Target.MaxConns)
	if err != nil {
		return nil, &engine.ConnectivityError{Endpoint: endpoint, Err: err}
	}

	store, err := state.Open(&cfg.State)
	if err != nil {
		tgt.Close()
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	pg := sink.NewPG(tgt.Pool())
	if err := pg.EnsureSchema(ctx); err != nil {
		logging.Warn("Telemetry schema setup failed, run history in the target will be incomplete: %v", err)
	}

	auditTgt, err := audit.OpenPG(&cfg.Target)
	if err != nil {
		store.Close()
		tgt.Close()
		return nil, &engine.ConnectivityError{Endpoint: endpoint, Err: err}
	}

	return &Orchestrator{
		cfg:      cfg,
		tgt:      tgt,
		store:    store,
		rec:      sink.NewRecorder(pg),
		auditor:  audit.New(auditTgt, &cfg.Audit),
		auditTgt: auditTgt,
		notifier: notify.New(&cfg.Alerts),
	}, nil
}

// Close releases every connection the orchestrator holds.
func (o *Orchestrator) Close() {
	if o.auditTgt != nil {
		o.auditTgt.Close()
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			logging.Warn("Closing state store: %v", err)
		}
	}
	if o.tgt != nil {
		o.tgt.Close()
	}
}

// RunOptions controls a single sync run.
type RunOptions struct {
	// TriggeredBy records what started the run: manual or scheduled.
	TriggeredBy string

	// Reporter receives machine-readable progress updates. Nil disables
	// them.
	Reporter progress.Reporter

	// NoBar suppresses the terminal progress bar.
	NoBar bool

	// SkipAudit skips the post-sync row count verification.
	SkipAudit bool
}

// RunReport summarizes a finished run for callers.
type RunReport struct {
	RunID         string
	Status        string
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	TablesTotal   int
	TablesSynced  int
	TablesFailed  int
	TablesSkipped int
	RowsRead      int64
	RowsUpserted  int64
	RowsDeleted   int64
	FailedTables  []string
	Audit         *audit.Report
	Degraded      bool
}

// runState is the shared context of one executing run.
type runState struct {
	id      string
	opts    RunOptions
	col     *collector
	rep     progress.Reporter
	track   *progress.Tracker
	started time.Time

	// bg is detached from run cancellation so telemetry and state
	// writes still land after ctrl-C.
	bg context.Context
}

// Run executes one full sync: discover, dispatch, audit, record. The
// returned error is nil only when every table synced and the audit
// found no mismatches; its message is phrased so exit-code mapping
// classifies partial, connectivity and cancellation outcomes.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	started := time.Now().UTC()
	runID := newRunID(started)
	bg := context.WithoutCancel(ctx)

	logging.Info("Starting sync run %s (%d instances)", runID, len(o.cfg.Sources))

	rep := opts.Reporter
	if rep == nil {
		rep = &progress.NullReporter{}
	}
	rep.ReportImmediate(progress.Update{Phase: progress.PhaseDiscover})

	plans, total, err := o.discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("run cancelled during discovery: %w", err)
	}

	var discFailed []string
	var discErrs []error
	for i := range plans {
		if plans[i].Err != nil {
			discFailed = append(discFailed, plans[i].Instance.Name)
			discErrs = append(discErrs, plans[i].Err)
		}
	}
	if total == 0 {
		if len(discErrs) > 0 {
			return nil, fmt.Errorf("discovery failed on %s: %w",
				strings.Join(discFailed, ", "), discErrs[0])
		}
		return nil, &engine.ConfigurationError{
			Field:  "sync.include_tables",
			Reason: "no tables to sync after filters",
		}
	}

	run := &state.Run{
		ID:          runID,
		StartedAt:   started,
		Status:      state.StatusRunning,
		TriggeredBy: opts.TriggeredBy,
		TablesTotal: total,
	}
	if err := o.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("recording run in state store: %w", err)
	}

	o.recordHealthMetrics(bg, runID, "start")

	instances := make([]string, 0, len(o.cfg.Sources))
	for i := range o.cfg.Sources {
		instances = append(instances, o.cfg.Sources[i].Name)
	}
	deliver(o.notifier.RunStarted(runID, instances, total))

	rs := &runState{
		id:      runID,
		opts:    opts,
		col:     newCollector(total),
		rep:     rep,
		started: started,
		bg:      bg,
	}
	if opts.NoBar {
		rs.track = progress.NewSilent(total)
	} else {
		rs.track = progress.New(total)
	}
	rep.ReportImmediate(progress.Update{Phase: progress.PhaseSync, TablesTotal: total})

	o.dispatch(ctx, rs, plans)

	if rs.track != nil {
		rs.track.Finish()
	}

	synced, failed, skipped, rows := rs.col.snapshot()
	completed := time.Now().UTC()
	duration := completed.Sub(started)
	status, runErr := runOutcome(ctx.Err(), total, synced, failed, discFailed, rs.col.auditErr())

	run.CompletedAt = &completed
	run.Status = status
	run.TablesSynced = synced
	run.TablesFailed = failed
	run.RowsSynced = rows
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := o.store.CompleteRun(run); err != nil {
		logging.Warn("Completing run record failed: %v", err)
	}

	entry := &sink.RunEntry{
		RunID:        runID,
		StartedAt:    started,
		CompletedAt:  completed,
		Status:       status,
		TriggeredBy:  opts.TriggeredBy,
		TablesTotal:  total,
		TablesSynced: synced,
		TablesFailed: failed,
		RowsSynced:   rows,
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	o.rec.RecordRun(bg, entry)
	o.recordHealthMetrics(bg, runID, "end")
	o.alertLowSuccessRate(bg, runID, synced, total)

	switch status {
	case state.StatusSucceeded:
		deliver(o.notifier.RunCompleted(runID, started, duration, synced, rows))
	case state.StatusPartial:
		deliver(o.notifier.RunCompletedWithErrors(runID, started, duration, synced, failed, rows, rs.col.failedKeys()))
	default:
		deliver(o.notifier.RunFailed(runID, runErr, duration))
	}

	done := synced + failed + skipped
	pct := 0.0
	if total > 0 {
		pct = float64(done) / float64(total) * 100
	}
	rep.ReportImmediate(progress.Update{
		Phase:          progress.PhaseComplete,
		TablesComplete: done,
		TablesTotal:    total,
		TablesFailed:   failed,
		RowsWritten:    rows,
		ProgressPct:    pct,
	})

	logging.Info("Run %s %s: %d/%d tables synced, %d failed, %d rows in %s",
		runID, status, synced, total, failed, rows, duration.Round(time.Second))

	read, upserted, deleted := rs.col.rowTotals()
	return &RunReport{
		RunID:         runID,
		Status:        status,
		StartedAt:     started,
		CompletedAt:   completed,
		Duration:      duration,
		TablesTotal:   total,
		TablesSynced:  synced,
		TablesFailed:  failed,
		TablesSkipped: skipped,
		RowsRead:      read,
		RowsUpserted:  upserted,
		RowsDeleted:   deleted,
		FailedTables:  rs.col.failedKeys(),
		Audit:         rs.col.auditReport(),
		Degraded:      o.rec.Degraded(),
	}, runErr
}

// runOutcome maps the collected counters to a run status and the error
// returned to the caller. Cancellation wins, then total failure, then
// partial outcomes; a clean sync still returns an error when the audit
// found mismatches.
func runOutcome(ctxErr error, total, synced, failed int, discFailed []string, auditErr error) (string, error) {
	switch {
	case ctxErr != nil:
		return state.StatusCancelled, fmt.Errorf("run cancelled with %d of %d tables finished: %w",
			synced+failed, total, ctxErr)
	case len(discFailed) > 0 && synced == 0:
		return state.StatusFailed, fmt.Errorf("no data synced: instance %s unreachable",
			strings.Join(discFailed, ", "))
	case failed == 0 && len(discFailed) == 0:
		return state.StatusSucceeded, auditErr
	case synced == 0:
		return state.StatusFailed, fmt.Errorf("sync failed: no table succeeded (%d errors)", failed)
	case failed > 0:
		return state.StatusPartial, fmt.Errorf("%d of %d tables failed", failed, total)
	default:
		return state.StatusPartial, fmt.Errorf("partial run: instance %s unreachable",
			strings.Join(discFailed, ", "))
	}
}

func (o *Orchestrator) alertLowSuccessRate(ctx context.Context, runID string, synced, total int) {
	if total == 0 || o.cfg.Alerts.MinSuccessRate <= 0 {
		return
	}
	rate := float64(synced) / float64(total) * 100
	if rate >= o.cfg.Alerts.MinSuccessRate {
		return
	}
	msg := fmt.Sprintf("Success rate %.1f%% below threshold %.1f%%: %d of %d tables synced",
		rate, o.cfg.Alerts.MinSuccessRate, synced, total)
	logging.Warn("%s", msg)
	o.rec.RecordAlert(ctx, &sink.AlertEntry{
		RunID:     runID,
		Severity:  audit.SeverityHigh,
		Source:    "run",
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	})
	deliver(o.notifier.AlertRaised(runID, audit.SeverityHigh, "run", msg))
}

// deliver logs a failed notification send. Delivery problems never
// affect the run outcome.
func deliver(err error) {
	if err != nil {
		logging.Warn("Notification delivery failed: %v", err)
	}
}

func newRunID(now time.Time) string {
	return "run_" + now.Format("20060102_150405") + "_" + uuid.NewString()[:8]
}
