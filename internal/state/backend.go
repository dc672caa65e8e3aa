// Package state persists sync run history and per-table watermarks.
// Markers advance only after a table syncs successfully, so a crashed or
// cancelled run re-reads from the last durable position instead of
// losing rows.
package state

import (
	"fmt"
	"strconv"
	"time"

	"github.com/saadactin/Nitin-sir/internal/config"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Marker kinds, matching the strategy that produced them.
const (
	MarkerPK        = "pk"
	MarkerTimestamp = "timestamp"
)

// Run represents one sync run across all configured sources.
type Run struct {
	ID           string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Status       string
	TriggeredBy  string // manual, scheduled
	TablesTotal  int
	TablesSynced int
	TablesFailed int
	RowsSynced   int64
	Error        string
}

// Marker is the durable watermark for one source table. Value holds the
// highest primary key or timestamp confirmed written to the target,
// encoded as a string. Strategy records which strategy produced it; a
// strategy change invalidates the marker.
type Marker struct {
	Instance  string
	Database  string
	Table     string // schema-qualified source name, e.g. dbo.orders
	Strategy  string
	Kind      string
	Value     string
	UpdatedAt time.Time
}

// Backend defines the interface for state persistence.
// Implementations include SQLite (full featured, with run history) and
// file-based (minimal, for cron and Airflow environments).
type Backend interface {
	// Run lifecycle
	CreateRun(run *Run) error
	CompleteRun(run *Run) error
	GetRun(id string) (*Run, error)
	ListRuns(limit int) ([]Run, error)
	GetLastIncompleteRun() (*Run, error)

	// Watermarks
	GetMarker(instance, database, table string) (*Marker, error)
	SetMarker(m *Marker) error
	ClearMarker(instance, database, table string) error
	ListMarkers(instance, database string) ([]Marker, error)

	// Lifecycle
	Close() error
}

// Open returns the backend selected by the configuration.
func Open(cfg *config.StateConfig) (Backend, error) {
	switch cfg.Backend {
	case "file":
		return NewFileStore(cfg.Dir)
	case "", "sqlite":
		return New(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// FormatTimestampMarker encodes a timestamp watermark.
func FormatTimestampMarker(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestampMarker decodes a timestamp watermark.
func ParseTimestampMarker(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// FormatPKMarker encodes a primary key watermark.
func FormatPKMarker(pk int64) string {
	return strconv.FormatInt(pk, 10)
}

// ParsePKMarker decodes a primary key watermark.
func ParsePKMarker(s string) (int64, error) {
	pk, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pk marker %q: %w", s, err)
	}
	return pk, nil
}
