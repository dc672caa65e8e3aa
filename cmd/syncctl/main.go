package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/saadactin/Nitin-sir/internal/config"
	"github.com/saadactin/Nitin-sir/internal/exitcodes"
	"github.com/saadactin/Nitin-sir/internal/logging"
	"github.com/saadactin/Nitin-sir/internal/orchestrator"
	"github.com/saadactin/Nitin-sir/internal/progress"
	"github.com/saadactin/Nitin-sir/internal/state"
	"github.com/saadactin/Nitin-sir/internal/tui"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "syncctl",
		Usage:   "Continuous SQL Server to PostgreSQL sync",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Keep stdout clean for the result payload
			if c.Bool("output-json") || c.String("output-file") != "" {
				logging.SetOutput(os.Stderr)
			}

			return nil
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Sync every configured source into the target",
				Action: runSync,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Discover and plan without writing anything",
					},
					&cli.BoolFlag{
						Name:  "tui",
						Usage: "Show a live dashboard while the run executes",
					},
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Suppress the progress bar",
					},
					&cli.BoolFlag{
						Name:  "no-audit",
						Usage: "Skip the post-sync row count audit",
					},
					&cli.BoolFlag{
						Name:  "json-progress",
						Usage: "Emit progress updates as JSON lines on stderr",
					},
					&cli.DurationFlag{
						Name:  "every",
						Usage: "Keep syncing on a fixed interval (e.g. 30m)",
					},
					&cli.StringFlag{
						Name:  "daily-at",
						Usage: "Sync once a day at HH:MM local time",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the active or most recent run",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
					&cli.BoolFlag{
						Name:  "markers",
						Usage: "List saved watermarks instead of run status",
					},
					&cli.StringFlag{
						Name:  "instance",
						Usage: "Filter watermarks by source instance",
					},
					&cli.StringFlag{
						Name:  "database",
						Usage: "Filter watermarks by database",
					},
				},
			},
			{
				Name:   "history",
				Usage:  "List recent runs, or view details of a specific run",
				Action: showHistory,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of runs to list",
					},
				},
			},
			{
				Name:   "audit",
				Usage:  "Compare source and target row counts without syncing",
				Action: runAudit,
			},
			{
				Name:   "check",
				Usage:  "Probe connectivity to the target and every source instance",
				Action: checkEndpoints,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output check results as JSON",
					},
				},
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file and show what it resolves to",
				Action: validateConfig,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "show",
						Usage: "Print the resolved configuration with secrets redacted",
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitcodes.FromError(err))
	}
}

func runSync(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchSignals(cancel)

	if c.Bool("dry-run") {
		return previewRun(ctx, c, cfg)
	}

	if c.Duration("every") > 0 || c.String("daily-at") != "" {
		return runOnSchedule(ctx, c, cfg)
	}
	return runOnce(ctx, c, cfg, "manual")
}

// runOnce executes a single sync run with a fresh orchestrator, so a
// scheduled loop never carries stale connections across cycles.
func runOnce(ctx context.Context, c *cli.Context, cfg *config.Config, trigger string) error {
	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	opts := orchestrator.RunOptions{
		TriggeredBy: trigger,
		SkipAudit:   c.Bool("no-audit"),
		NoBar:       c.Bool("quiet") || c.Bool("json-progress") || !interactive,
	}

	runCtx := ctx
	var mon *tui.Monitor
	if c.Bool("json-progress") {
		rep := progress.NewJSONReporter(os.Stderr, 2*time.Second)
		defer rep.Close()
		opts.Reporter = rep
	} else if c.Bool("tui") && interactive && trigger == "manual" {
		// The dashboard owns the terminal, so the run gets its own
		// cancel func for the ctrl+c key and the bar stays off.
		var cancelRun context.CancelFunc
		runCtx, cancelRun = context.WithCancel(ctx)
		defer cancelRun()
		mon = tui.NewMonitor(runTitle(cfg), cancelRun)
		opts.Reporter = mon
		opts.NoBar = true
	}

	report, runErr := orch.Run(runCtx, opts)

	if mon != nil {
		if err := mon.Stop(); err != nil {
			logging.Warn("Dashboard error: %v", err)
		}
		// The alt screen is gone at this point; leave the outcome behind.
		if report != nil {
			printRunReport(report)
		}
	}

	if report != nil && (c.Bool("output-json") || c.String("output-file") != "") {
		if err := outputJSON(c, buildRunResult(report, runErr)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}

	return runErr
}

// runOnSchedule loops runOnce on a fixed interval or a daily slot.
// Recoverable failures log and wait for the next cycle; configuration
// and state errors abort the loop since retrying cannot fix them.
func runOnSchedule(ctx context.Context, c *cli.Context, cfg *config.Config) error {
	every := c.Duration("every")
	dailyAt := c.String("daily-at")

	if every > 0 && dailyAt != "" {
		return exitcodes.NewExitError(
			fmt.Errorf("--every and --daily-at are mutually exclusive"), exitcodes.ConfigError)
	}

	var next func(time.Time) time.Time
	runNow := false
	if every > 0 {
		if every < time.Minute {
			return exitcodes.NewExitError(
				fmt.Errorf("--every must be at least 1m, got %s", every), exitcodes.ConfigError)
		}
		next = func(now time.Time) time.Time { return now.Add(every) }
		runNow = true
		logging.Info("Scheduler started: sync every %s", every)
	} else {
		at, err := time.Parse("15:04", dailyAt)
		if err != nil {
			return exitcodes.NewExitError(
				fmt.Errorf("--daily-at expects HH:MM, got %q", dailyAt), exitcodes.ConfigError)
		}
		next = func(now time.Time) time.Time {
			slot := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
			if !slot.After(now) {
				slot = slot.AddDate(0, 0, 1)
			}
			return slot
		}
		logging.Info("Scheduler started: sync daily at %s", dailyAt)
	}

	for {
		if !runNow {
			wakeAt := next(time.Now())
			logging.Info("Next sync at %s", wakeAt.Format("2006-01-02 15:04:05"))
			if !sleepUntil(ctx, wakeAt) {
				logging.Info("Scheduler stopped")
				return nil
			}
		}
		runNow = false

		if err := runOnce(ctx, c, cfg, "scheduled"); err != nil {
			if ctx.Err() != nil {
				return err
			}
			code := exitcodes.FromError(err)
			if !exitcodes.IsRecoverable(code) {
				return err
			}
			logging.Error("Sync failed (%s), waiting for next cycle: %v",
				exitcodes.Description(code), err)
		}
	}
}

// sleepUntil blocks until t or until the context is cancelled. It
// returns false when the wait was interrupted.
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func previewRun(ctx context.Context, c *cli.Context, cfg *config.Config) error {
	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	plan, err := orch.Preview(ctx)
	if err != nil {
		return err
	}

	if c.Bool("output-json") || c.String("output-file") != "" {
		return outputJSON(c, plan)
	}

	fmt.Printf("Dry run: %d tables in %d databases across %d instances\n",
		plan.TotalTables, plan.Databases, plan.Instances)
	fmt.Printf("Plan:    %d workers per database, batches of %d rows\n\n",
		plan.Workers, plan.BatchSize)

	fmt.Printf("%-12s %-16s %-32s %-26s %14s  %s\n",
		"Instance", "Database", "Table", "Strategy", "Est. Rows", "Resume From")
	fmt.Println(strings.Repeat("-", 120))
	for i := range plan.Tables {
		t := &plan.Tables[i]
		strategy := t.Strategy
		if t.DeleteTracking {
			strategy += "+del"
		}
		resume := "-"
		if t.HasMarker {
			resume = t.Marker
		}
		fmt.Printf("%-12s %-16s %-32s %-26s %14d  %s\n",
			t.Instance, t.Database, t.Table, strategy, t.Rows, resume)
	}
	fmt.Printf("\n%d estimated rows total; nothing was written\n", plan.TotalRows)
	return nil
}

func runAudit(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchSignals(cancel)

	orch, err := orchestrator.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer orch.Close()

	_, err = orch.Audit(ctx)
	return err
}

// runStatus is the machine-readable shape of `status --json`. The
// state record itself stays presentation-free.
type runStatus struct {
	Status       string  `json:"status"`
	RunID        string  `json:"run_id,omitempty"`
	TriggeredBy  string  `json:"triggered_by,omitempty"`
	StartedAt    string  `json:"started_at,omitempty"`
	CompletedAt  string  `json:"completed_at,omitempty"`
	DurationSecs float64 `json:"duration_seconds,omitempty"`
	TablesTotal  int     `json:"tables_total,omitempty"`
	TablesSynced int     `json:"tables_synced,omitempty"`
	TablesFailed int     `json:"tables_failed,omitempty"`
	RowsSynced   int64   `json:"rows_synced,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func showStatus(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := state.Open(&cfg.State)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	if c.Bool("markers") {
		return orchestrator.ShowMarkers(store, c.String("instance"), c.String("database"))
	}

	if c.Bool("json") {
		run, err := orchestrator.LastRun(store)
		if err != nil {
			return err
		}
		st := runStatus{Status: "no_runs"}
		if run != nil {
			st = runStatus{
				Status:       run.Status,
				RunID:        run.ID,
				TriggeredBy:  run.TriggeredBy,
				StartedAt:    run.StartedAt.Format(time.RFC3339),
				TablesTotal:  run.TablesTotal,
				TablesSynced: run.TablesSynced,
				TablesFailed: run.TablesFailed,
				RowsSynced:   run.RowsSynced,
				Error:        run.Error,
			}
			if run.CompletedAt != nil {
				st.CompletedAt = run.CompletedAt.Format(time.RFC3339)
				st.DurationSecs = run.CompletedAt.Sub(run.StartedAt).Seconds()
			}
		}
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	return orchestrator.ShowStatus(store)
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := state.Open(&cfg.State)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	if runID := c.String("run"); runID != "" {
		return orchestrator.ShowRun(store, runID)
	}
	return orchestrator.ShowHistory(store, c.Int("limit"))
}

func checkEndpoints(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchSignals(cancel)

	result := orchestrator.HealthCheck(ctx, cfg)

	if c.Bool("json") {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal check result: %w", err)
		}
		fmt.Println(string(data))
	} else {
		printCheckResult(result)
	}

	if !result.Healthy {
		bad := 0
		if !result.Target.Connected {
			bad++
		}
		for i := range result.Sources {
			if !result.Sources[i].Connected {
				bad++
			}
		}
		return exitcodes.NewExitError(
			fmt.Errorf("%d of %d endpoints unreachable", bad, 1+len(result.Sources)),
			exitcodes.ConnectionError)
	}
	return nil
}

func validateConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if c.Bool("show") {
		data, err := yaml.Marshal(cfg.Sanitized())
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	fmt.Println("Configuration OK")
	fmt.Printf("Target:  %s:%d/%s\n", cfg.Target.Host, cfg.Target.Port, cfg.Target.Database)
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		fmt.Printf("Source:  %-12s %s:%d (%d conns, %d databases skipped)\n",
			s.Name, s.Host, s.Port, s.MaxConns, len(s.SkipDatabases))
	}
	fmt.Printf("Sync:    %d workers per database, %d instances in parallel, batches of %d\n",
		cfg.Sync.Workers, cfg.Sync.ServerWorkers, cfg.Sync.BatchSize)
	fmt.Printf("State:   %s backend in %s\n", cfg.State.Backend, cfg.State.Dir)
	return nil
}

// watchSignals cancels the run on the first SIGINT/SIGTERM so tables
// finish their current batch; a second signal exits immediately.
func watchSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Tables finish their current batch; watermarks stay saved...")
		cancel()
		<-sigCh
		fmt.Fprintln(os.Stderr, "Forced exit")
		os.Exit(exitcodes.Cancelled)
	}()
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if _, err := os.Stat(path); os.IsNotExist(err) && !c.IsSet("config") {
		return nil, exitcodes.NewExitError(
			fmt.Errorf("configuration file not found: %s (pass --config or create config.yaml)", path),
			exitcodes.ConfigError)
	}
	return config.Load(path)
}

func runTitle(cfg *config.Config) string {
	names := make([]string, 0, len(cfg.Sources))
	for i := range cfg.Sources {
		names = append(names, cfg.Sources[i].Name)
	}
	return fmt.Sprintf("%s → %s", strings.Join(names, ", "), cfg.Target.Database)
}

func printRunReport(r *orchestrator.RunReport) {
	fmt.Printf("\nRun %s: %s in %s\n", r.RunID, r.Status, r.Duration.Round(time.Second))
	fmt.Printf("Tables: %d total, %d synced, %d failed, %d skipped\n",
		r.TablesTotal, r.TablesSynced, r.TablesFailed, r.TablesSkipped)
	fmt.Printf("Rows:   %d read, %d upserted, %d deleted\n",
		r.RowsRead, r.RowsUpserted, r.RowsDeleted)
	if r.Audit != nil {
		fmt.Printf("Audit:  %d tables checked, %d passed, %d failed\n",
			len(r.Audit.Checks), r.Audit.Passed(), len(r.Audit.Failed()))
	}
	for _, name := range r.FailedTables {
		fmt.Printf("  failed: %s\n", name)
	}
}

func printCheckResult(r *orchestrator.CheckResult) {
	fmt.Printf("%-8s %-32s %-8s %10s  %s\n", "Role", "Endpoint", "Status", "Latency", "Detail")
	fmt.Println(strings.Repeat("-", 84))

	printEndpoint("target", &r.Target, "")
	for i := range r.Sources {
		s := &r.Sources[i]
		detail := ""
		if s.Connected {
			detail = fmt.Sprintf("%d databases", s.Databases)
		}
		printEndpoint("source", s, detail)
	}

	if r.Healthy {
		fmt.Println("\nAll endpoints reachable")
	}
}

func printEndpoint(role string, e *orchestrator.EndpointCheck, detail string) {
	status := "ok"
	if !e.Connected {
		status = "FAIL"
		detail = e.Error
	}
	fmt.Printf("%-8s %-32s %-8s %8dms  %s\n", role, e.Name, status, e.LatencyMs, detail)
}

// runResult is the machine-readable shape of a finished run for
// --output-json and --output-file.
type runResult struct {
	RunID         string   `json:"run_id"`
	Status        string   `json:"status"`
	StartedAt     string   `json:"started_at"`
	CompletedAt   string   `json:"completed_at"`
	DurationSecs  float64  `json:"duration_seconds"`
	TablesTotal   int      `json:"tables_total"`
	TablesSynced  int      `json:"tables_synced"`
	TablesFailed  int      `json:"tables_failed"`
	TablesSkipped int      `json:"tables_skipped"`
	RowsRead      int64    `json:"rows_read"`
	RowsUpserted  int64    `json:"rows_upserted"`
	RowsDeleted   int64    `json:"rows_deleted"`
	FailedTables  []string `json:"failed_tables,omitempty"`
	AuditChecked  int      `json:"audit_checked,omitempty"`
	AuditFailed   int      `json:"audit_failed,omitempty"`
	Degraded      bool     `json:"degraded,omitempty"`
	Error         string   `json:"error,omitempty"`
}

func buildRunResult(r *orchestrator.RunReport, runErr error) *runResult {
	out := &runResult{
		RunID:         r.RunID,
		Status:        r.Status,
		StartedAt:     r.StartedAt.Format(time.RFC3339),
		CompletedAt:   r.CompletedAt.Format(time.RFC3339),
		DurationSecs:  r.Duration.Seconds(),
		TablesTotal:   r.TablesTotal,
		TablesSynced:  r.TablesSynced,
		TablesFailed:  r.TablesFailed,
		TablesSkipped: r.TablesSkipped,
		RowsRead:      r.RowsRead,
		RowsUpserted:  r.RowsUpserted,
		RowsDeleted:   r.RowsDeleted,
		FailedTables:  r.FailedTables,
		Degraded:      r.Degraded,
	}
	if r.Audit != nil {
		out.AuditChecked = len(r.Audit.Checks)
		out.AuditFailed = len(r.Audit.Failed())
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	return out
}

// outputJSON writes the result as JSON to stdout and/or a file.
func outputJSON(c *cli.Context, result any) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
