package progress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saadactin/Nitin-sir/internal/logging"
	"github.com/schollz/progressbar/v3"
)

// Tracker drives the console progress bar for a run. The bar advances
// by table units because an incremental run does not know its row total
// up front; rows are counted separately for the closing summary.
type Tracker struct {
	bar       *progressbar.ProgressBar
	total     int
	done      atomic.Int64
	rows      atomic.Int64
	failed    atomic.Int64
	startTime time.Time

	// Track active tables for accurate display
	mu           sync.Mutex
	activeTables map[string]int
}

// New creates a tracker for a run of totalUnits tables.
func New(totalUnits int) *Tracker {
	t := NewSilent(totalUnits)
	t.bar = progressbar.NewOptions(
		totalUnits,
		progressbar.OptionSetDescription("Syncing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
	return t
}

// NewSilent creates a tracker with the same table and row bookkeeping
// but no terminal bar, for when a TUI or JSON reporter owns the display.
func NewSilent(totalUnits int) *Tracker {
	return &Tracker{
		total:        totalUnits,
		startTime:    time.Now(),
		activeTables: make(map[string]int),
	}
}

// AddRows adds written rows to the run counter.
func (t *Tracker) AddRows(n int64) {
	t.rows.Add(n)
}

// StartTable marks a table as actively syncing
func (t *Tracker) StartTable(table string) {
	t.mu.Lock()
	t.activeTables[table]++
	tableCount := len(t.activeTables)
	t.mu.Unlock()

	if t.bar != nil {
		if tableCount == 1 {
			t.bar.Describe(fmt.Sprintf("Syncing %s", table))
		} else {
			t.bar.Describe(fmt.Sprintf("Syncing (%d tables)", tableCount))
		}
		t.bar.RenderBlank()
	}
}

// EndTable marks a table as finished and advances the bar one unit.
func (t *Tracker) EndTable(table string, ok bool) {
	t.done.Add(1)
	if !ok {
		t.failed.Add(1)
	}

	t.mu.Lock()
	t.activeTables[table]--
	if t.activeTables[table] <= 0 {
		delete(t.activeTables, table)
	}
	tableCount := len(t.activeTables)
	// Get remaining table name if only one left
	var remaining string
	for name := range t.activeTables {
		remaining = name
		break
	}
	t.mu.Unlock()

	if t.bar != nil {
		t.bar.Add(1)
		if tableCount == 1 {
			t.bar.Describe(fmt.Sprintf("Syncing %s", remaining))
		} else if tableCount > 1 {
			t.bar.Describe(fmt.Sprintf("Syncing (%d tables)", tableCount))
		}
	}
}

// Done returns the number of finished table units.
func (t *Tracker) Done() int64 {
	return t.done.Load()
}

// Rows returns the rows written so far.
func (t *Tracker) Rows() int64 {
	return t.rows.Load()
}

// Active returns the tables currently syncing.
func (t *Tracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.activeTables))
	for name := range t.activeTables {
		out = append(out, name)
	}
	return out
}

// Finish completes the bar and logs the run summary.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
		fmt.Println()
	}

	elapsed := time.Since(t.startTime)
	rows := t.rows.Load()
	rowsPerSec := float64(rows) / elapsed.Seconds()

	if failed := t.failed.Load(); failed > 0 {
		logging.Warn("Sync finished: %d/%d tables, %d failed, %d rows in %s (%.0f rows/sec)",
			t.done.Load(), t.total, failed, rows, elapsed.Round(time.Second), rowsPerSec)
		return
	}
	logging.Info("Sync finished: %d/%d tables, %d rows in %s (%.0f rows/sec)",
		t.done.Load(), t.total, rows, elapsed.Round(time.Second), rowsPerSec)
}
