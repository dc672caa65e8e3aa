package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saadactin/Nitin-sir/internal/audit"
	"github.com/saadactin/Nitin-sir/internal/config"
	"github.com/saadactin/Nitin-sir/internal/engine"
	"github.com/saadactin/Nitin-sir/internal/exitcodes"
	"github.com/saadactin/Nitin-sir/internal/schema"
	"github.com/saadactin/Nitin-sir/internal/state"
)

func metaTable(name string, intPK bool, tsCol string) schema.Table {
	t := schema.Table{
		Database: "erp",
		Schema:   "dbo",
		Name:     name,
		Columns: []schema.Column{
			{Name: "id", DataType: "bigint"},
			{Name: "payload", DataType: "nvarchar", MaxLength: 200},
			{Name: "updated_at", DataType: "datetime2"},
		},
		TimestampColumn: tsCol,
	}
	if intPK {
		t.PrimaryKey = []string{"id"}
	}
	t.PopulatePKColumns()
	return t
}

func TestBuildUnitsAssignsStrategies(t *testing.T) {
	tables := []schema.Table{
		metaTable("orders", true, "updated_at"),
		metaTable("events", false, ""),
		metaTable("ref_codes", true, ""),
	}
	sc := &config.SyncConfig{}

	units, sum := buildUnits("prod", "erp", "prod_erp", tables, sc)
	if len(units) != 3 {
		t.Fatalf("units = %d, want 3", len(units))
	}

	want := map[string]engine.Kind{
		"orders":    engine.PrimaryKeyIncremental,
		"events":    engine.HashDedup,
		"ref_codes": engine.PrimaryKeyIncremental,
	}
	for i := range units {
		u := &units[i]
		if u.Strategy.Kind != want[u.Table.Name] {
			t.Errorf("%s strategy = %s, want %s", u.Table.Name, u.Strategy.Kind, want[u.Table.Name])
		}
		if u.Instance != "prod" || u.Database != "erp" || u.TargetSchema != "prod_erp" {
			t.Errorf("%s identity = %s/%s -> %s", u.Table.Name, u.Instance, u.Database, u.TargetSchema)
		}
	}
	if sum.pk != 2 || sum.hash != 1 {
		t.Errorf("summary = %+v, want 2 pk and 1 hash", sum)
	}
}

func TestBuildUnitsHonorsFilters(t *testing.T) {
	tables := []schema.Table{
		metaTable("orders", true, ""),
		metaTable("order_lines", true, ""),
		metaTable("staging_load", true, ""),
	}

	t.Run("exclude", func(t *testing.T) {
		sc := &config.SyncConfig{ExcludeTables: []string{"staging_*"}}
		units, sum := buildUnits("prod", "erp", "prod_erp", tables, sc)
		if len(units) != 2 {
			t.Fatalf("units = %d, want 2", len(units))
		}
		if sum.excluded != 1 {
			t.Errorf("excluded = %d, want 1", sum.excluded)
		}
		for i := range units {
			if units[i].Table.Name == "staging_load" {
				t.Error("staging_load survived the exclude filter")
			}
		}
	})

	t.Run("include wins over everything else", func(t *testing.T) {
		sc := &config.SyncConfig{IncludeTables: []string{"orders"}}
		units, _ := buildUnits("prod", "erp", "prod_erp", tables, sc)
		if len(units) != 1 || units[0].Table.Name != "orders" {
			t.Fatalf("units = %+v, want only orders", unitNames(units))
		}
	})

	t.Run("full replace override", func(t *testing.T) {
		sc := &config.SyncConfig{FullReplace: []string{"dbo.orders"}}
		units, _ := buildUnits("prod", "erp", "prod_erp", tables, sc)
		for i := range units {
			u := &units[i]
			if u.Table.Name == "orders" && u.Strategy.Kind != engine.FullReplace {
				t.Errorf("orders strategy = %s, want full_replace", u.Strategy.Kind)
			}
		}
	})
}

func TestBuildUnitsGatesDeleteTracking(t *testing.T) {
	tables := []schema.Table{
		metaTable("orders", true, ""),
		metaTable("events", false, ""),
	}
	sc := &config.SyncConfig{DeleteTracking: []string{"*"}}

	units, _ := buildUnits("prod", "erp", "prod_erp", tables, sc)
	for i := range units {
		u := &units[i]
		switch u.Table.Name {
		case "orders":
			if !u.DeleteTracking {
				t.Error("orders should track deletes: keyed table matching the pattern")
			}
		case "events":
			if u.DeleteTracking {
				t.Error("events must not track deletes: hash tables have no key to diff")
			}
		}
	}
}

func unitNames(units []engine.Unit) []string {
	names := make([]string, len(units))
	for i := range units {
		names[i] = units[i].Table.Name
	}
	return names
}

func TestRunOutcome(t *testing.T) {
	cases := []struct {
		name       string
		ctxErr     error
		total      int
		synced     int
		failed     int
		discFailed []string
		auditErr   error
		wantStatus string
		wantExit   int
	}{
		{
			name: "all synced", total: 10, synced: 10,
			wantStatus: state.StatusSucceeded, wantExit: exitcodes.Success,
		},
		{
			name: "clean sync but audit mismatch", total: 10, synced: 10,
			auditErr:   errors.New("audit found 2 mismatched tables"),
			wantStatus: state.StatusSucceeded, wantExit: exitcodes.PartialError,
		},
		{
			name: "some tables failed", total: 10, synced: 7, failed: 3,
			wantStatus: state.StatusPartial, wantExit: exitcodes.PartialError,
		},
		{
			name: "every table failed", total: 10, failed: 10,
			wantStatus: state.StatusFailed, wantExit: exitcodes.SyncError,
		},
		{
			name: "cancelled mid-run", ctxErr: context.Canceled, total: 10, synced: 4, failed: 1,
			wantStatus: state.StatusCancelled, wantExit: exitcodes.Cancelled,
		},
		{
			name: "instance down and nothing synced", total: 5, failed: 5,
			discFailed: []string{"prod"},
			wantStatus: state.StatusFailed, wantExit: exitcodes.ConnectionError,
		},
		{
			name: "instance down but others synced", total: 5, synced: 5,
			discFailed: []string{"prod"},
			wantStatus: state.StatusPartial, wantExit: exitcodes.PartialError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, err := runOutcome(tc.ctxErr, tc.total, tc.synced, tc.failed, tc.discFailed, tc.auditErr)
			if status != tc.wantStatus {
				t.Errorf("status = %s, want %s", status, tc.wantStatus)
			}
			if got := exitcodes.FromError(err); got != tc.wantExit {
				t.Errorf("exit code = %d (err %v), want %d", got, err, tc.wantExit)
			}
		})
	}
}

func TestRunOutcomeCancellationIsUnwrappable(t *testing.T) {
	_, err := runOutcome(context.Canceled, 10, 3, 0, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled in the chain", err)
	}
}

func TestCollectorAggregatesConcurrently(t *testing.T) {
	col := newCollector(30)
	u := func(name string) *engine.Unit {
		tbl := metaTable(name, true, "")
		return &engine.Unit{Instance: "prod", Database: "erp", Table: &tbl}
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			col.noteResult(u(fmt.Sprintf("ok_%d", i)), &engine.Result{
				Status: engine.StatusSucceeded, RowsRead: 10, RowsUpserted: 7, RowsDeleted: 1,
			})
		}(i)
		go func(i int) {
			defer wg.Done()
			col.noteResult(u(fmt.Sprintf("bad_%d", i)), &engine.Result{
				Status: engine.StatusFailed, Err: errors.New("boom"),
			})
		}(i)
		go func(i int) {
			defer wg.Done()
			col.noteResult(u(fmt.Sprintf("skip_%d", i)), &engine.Result{Status: engine.StatusSkipped})
		}(i)
	}
	wg.Wait()

	synced, failed, skipped, rows := col.snapshot()
	if synced != 10 || failed != 10 || skipped != 10 {
		t.Errorf("snapshot = %d/%d/%d, want 10/10/10", synced, failed, skipped)
	}
	if rows != 70 {
		t.Errorf("rows = %d, want 70", rows)
	}

	read, upserted, deleted := col.rowTotals()
	if read != 100 || upserted != 70 || deleted != 10 {
		t.Errorf("row totals = %d/%d/%d, want 100/70/10", read, upserted, deleted)
	}

	keys := col.failedKeys()
	if len(keys) != 10 {
		t.Fatalf("failed keys = %d, want 10", len(keys))
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, "prod/erp/dbo.bad_") {
			t.Errorf("unexpected failed key %q", k)
		}
	}
}

func TestCollectorAuditReport(t *testing.T) {
	col := newCollector(2)
	col.noteAudit(audit.TableCheck{Table: "dbo.a", Within: true})
	col.noteAudit(audit.TableCheck{Table: "dbo.b", Within: false, Err: errors.New("off by 12")})

	if err := col.auditErr(); err == nil || !strings.Contains(err.Error(), "1 mismatched") {
		t.Errorf("auditErr = %v, want 1 mismatched table", err)
	}
	rep := col.auditReport()
	if len(rep.Checks) != 2 || rep.Passed() != 1 {
		t.Errorf("report = %d checks %d passed, want 2 and 1", len(rep.Checks), rep.Passed())
	}
	if rep.StartedAt.IsZero() || rep.CompletedAt.IsZero() {
		t.Error("report timestamps not set")
	}
}

func TestSeverityForSyncError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"target gone", &engine.ConnectivityError{Endpoint: "pg:5432", Err: errors.New("refused")}, audit.SeverityCritical},
		{"wrapped connectivity", fmt.Errorf("table x: %w", &engine.ConnectivityError{Endpoint: "pg:5432", Err: errors.New("refused")}), audit.SeverityCritical},
		{"partial write", &engine.PartialWriteError{Table: "dbo.x", RowsWritten: 10, Err: errors.New("boom")}, audit.SeverityHigh},
		{"table deadline", fmt.Errorf("sync: %w", context.DeadlineExceeded), audit.SeverityHigh},
		{"plain failure", errors.New("bad value"), audit.SeverityMedium},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := severityForSyncError(tc.err); got != tc.want {
				t.Errorf("severity = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestNewRunIDShape(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 45, 0, time.UTC)
	id := newRunID(now)
	if !strings.HasPrefix(id, "run_20260314_093045_") {
		t.Fatalf("id = %q, want run_20260314_093045_ prefix", id)
	}
	suffix := strings.TrimPrefix(id, "run_20260314_093045_")
	if len(suffix) != 8 {
		t.Errorf("suffix = %q, want 8 chars", suffix)
	}
	if id2 := newRunID(now); id2 == id {
		t.Error("two runs at the same second must get distinct IDs")
	}
}
