package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/saadactin/Nitin-sir/internal/state"
)

// The status reports work from the state store alone so they stay
// usable when the databases themselves are unreachable.

// LastRun returns the run still marked running if there is one,
// otherwise the most recent run. Nil when no run was ever recorded.
func LastRun(store state.Backend) (*state.Run, error) {
	run, err := store.GetLastIncompleteRun()
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	if run != nil {
		return run, nil
	}
	runs, err := store.ListRuns(1)
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// ShowStatus prints the active run if one exists, otherwise the most
// recent outcome.
func ShowStatus(store state.Backend) error {
	run, err := LastRun(store)
	if err != nil {
		return err
	}
	if run == nil {
		fmt.Println("No sync runs recorded")
		return nil
	}

	printRun(run)
	if run.Status == state.StatusRunning {
		fmt.Printf("Elapsed:   %s\n", time.Since(run.StartedAt).Round(time.Second))
		fmt.Println("\nIf no syncctl process is running, this run was interrupted.")
		fmt.Println("The next run resumes from the saved watermarks.")
	}
	return nil
}

// ShowRun prints one run by ID.
func ShowRun(store state.Backend, runID string) error {
	run, err := store.GetRun(runID)
	if err != nil {
		return fmt.Errorf("reading state: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run not found in state store: %s", runID)
	}
	printRun(run)
	return nil
}

func printRun(r *state.Run) {
	fmt.Printf("Run:       %s\n", r.ID)
	fmt.Printf("Status:    %s\n", r.Status)
	if r.TriggeredBy != "" {
		fmt.Printf("Triggered: %s\n", r.TriggeredBy)
	}
	fmt.Printf("Started:   %s\n", r.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if r.CompletedAt != nil {
		fmt.Printf("Completed: %s (%s)\n",
			r.CompletedAt.Format("2006-01-02 15:04:05 MST"),
			r.CompletedAt.Sub(r.StartedAt).Round(time.Second))
	}
	if r.TablesTotal > 0 {
		fmt.Printf("Tables:    %d total, %d synced, %d failed\n",
			r.TablesTotal, r.TablesSynced, r.TablesFailed)
	}
	if r.RowsSynced > 0 {
		fmt.Printf("Rows:      %d\n", r.RowsSynced)
	}
	if r.Error != "" {
		fmt.Printf("Error:     %s\n", r.Error)
	}
}

// ShowHistory prints recent runs, newest first.
func ShowHistory(store state.Backend, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	runs, err := store.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("reading state: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No sync history")
		return nil
	}

	fmt.Printf("%-28s %-20s %-20s %-10s %8s %8s %12s\n",
		"Run", "Started", "Completed", "Status", "Synced", "Failed", "Rows")
	fmt.Println(strings.Repeat("-", 112))
	for i := range runs {
		r := &runs[i]
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-28s %-20s %-20s %-10s %8d %8d %12d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), completed, r.Status,
			r.TablesSynced, r.TablesFailed, r.RowsSynced)
		if r.Error != "" {
			fmt.Printf("    %s\n", r.Error)
		}
	}
	return nil
}

// ShowMarkers prints the saved watermarks, optionally filtered by
// instance and database. Empty filters match everything.
func ShowMarkers(store state.Backend, instance, database string) error {
	markers, err := store.ListMarkers(instance, database)
	if err != nil {
		return fmt.Errorf("reading state: %w", err)
	}
	if len(markers) == 0 {
		fmt.Println("No watermarks stored")
		return nil
	}

	fmt.Printf("%-12s %-16s %-32s %-22s %-10s %s\n",
		"Instance", "Database", "Table", "Strategy", "Kind", "Watermark")
	fmt.Println(strings.Repeat("-", 120))
	for i := range markers {
		m := &markers[i]
		fmt.Printf("%-12s %-16s %-32s %-22s %-10s %s\n",
			m.Instance, m.Database, m.Table, m.Strategy, m.Kind, m.Value)
	}
	fmt.Printf("\n%d watermarks\n", len(markers))
	return nil
}
