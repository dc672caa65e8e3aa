package sink

import (
	"context"
	"sync"

	"github.com/saadactin/Nitin-sir/internal/logging"
)

// Recorder wraps a Sink and absorbs its failures. Telemetry must never
// take down a sync: a failed write logs a warning, flips the degraded
// flag, and the run carries on.
type Recorder struct {
	sink Sink

	mu       sync.Mutex
	degraded bool
	failures int
}

// NewRecorder wraps a sink. A nil sink yields a recorder that discards
// everything and never degrades.
func NewRecorder(s Sink) *Recorder {
	if s == nil {
		s = Noop{}
	}
	return &Recorder{sink: s}
}

// Degraded reports whether any sink write has failed.
func (r *Recorder) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// Failures returns the number of failed sink writes.
func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *Recorder) absorb(what string, err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.degraded = true
	r.failures++
	r.mu.Unlock()
	logging.Warn("Telemetry write failed (%s), continuing degraded: %v", what, err)
}

func (r *Recorder) RecordRun(ctx context.Context, e *RunEntry) {
	e.Degraded = e.Degraded || r.Degraded()
	r.absorb("run", r.sink.RecordRun(ctx, e))
}

func (r *Recorder) RecordTableSync(ctx context.Context, e *TableSyncEntry) {
	r.absorb("table sync", r.sink.RecordTableSync(ctx, e))
}

func (r *Recorder) RecordAudit(ctx context.Context, e *AuditEntry) {
	r.absorb("audit", r.sink.RecordAudit(ctx, e))
}

func (r *Recorder) RecordHealthMetric(ctx context.Context, e *HealthMetricEntry) {
	r.absorb("health metric", r.sink.RecordHealthMetric(ctx, e))
}

func (r *Recorder) RecordAlert(ctx context.Context, e *AlertEntry) {
	r.absorb("alert", r.sink.RecordAlert(ctx, e))
}
