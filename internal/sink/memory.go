package sink

import (
	"context"
	"sync"
)

// Memory is an in-memory sink for tests.
type Memory struct {
	mu         sync.Mutex
	runs       []RunEntry
	tableSyncs []TableSyncEntry
	audits     []AuditEntry
	metrics    []HealthMetricEntry
	alerts     []AlertEntry

	// Fail, when set, makes every record call return it.
	Fail error
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) RecordRun(_ context.Context, e *RunEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.runs = append(m.runs, *e)
	return nil
}

func (m *Memory) RecordTableSync(_ context.Context, e *TableSyncEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.tableSyncs = append(m.tableSyncs, *e)
	return nil
}

func (m *Memory) RecordAudit(_ context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.audits = append(m.audits, *e)
	return nil
}

func (m *Memory) RecordHealthMetric(_ context.Context, e *HealthMetricEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.metrics = append(m.metrics, *e)
	return nil
}

func (m *Memory) RecordAlert(_ context.Context, e *AlertEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.alerts = append(m.alerts, *e)
	return nil
}

// Runs returns a copy of recorded run entries.
func (m *Memory) Runs() []RunEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunEntry(nil), m.runs...)
}

// TableSyncs returns a copy of recorded table sync entries.
func (m *Memory) TableSyncs() []TableSyncEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TableSyncEntry(nil), m.tableSyncs...)
}

// Audits returns a copy of recorded audit entries.
func (m *Memory) Audits() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audits...)
}

// Metrics returns a copy of recorded health metrics.
func (m *Memory) Metrics() []HealthMetricEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HealthMetricEntry(nil), m.metrics...)
}

// Alerts returns a copy of recorded alerts.
func (m *Memory) Alerts() []AlertEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AlertEntry(nil), m.alerts...)
}

var _ Sink = (*Memory)(nil)
