package notify

import "time"

// Provider is the notification contract for run lifecycle events and
// alerts. Implementations other than Slack (email, PagerDuty) plug in
// here, and tests substitute mocks.
type Provider interface {
	// RunStarted announces a new sync run and the work it covers.
	RunStarted(runID string, instances []string, tableCount int) error

	// RunCompleted announces a run in which every table succeeded.
	RunCompleted(runID string, startedAt time.Time, duration time.Duration, tableCount int, rows int64) error

	// RunCompletedWithErrors announces a run that finished with some table failures.
	RunCompletedWithErrors(runID string, startedAt time.Time, duration time.Duration, succeeded, failed int, rows int64, failures []string) error

	// RunFailed announces a run that aborted before its tables finished.
	RunFailed(runID string, err error, duration time.Duration) error

	// TableSyncFailed announces a single table failure as it happens.
	TableSyncFailed(runID, table string, err error) error

	// AlertRaised delivers an alert already recorded in the sink.
	AlertRaised(runID, severity, source, message string) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
