package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/saadactin/Nitin-sir/internal/schema"
	"github.com/saadactin/Nitin-sir/internal/state"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func ordersTbl(withTS bool) *schema.Table {
	cols := []schema.Column{
		{Name: "id", DataType: "bigint", OrdinalPos: 1},
		{Name: "amount", DataType: "int", OrdinalPos: 2},
	}
	tsCol := ""
	if withTS {
		cols = append(cols, schema.Column{Name: "updated_at", DataType: "datetime2", OrdinalPos: 3})
		tsCol = "updated_at"
	}
	return tableWith("orders", []string{"id"}, tsCol, cols...)
}

func heapTbl() *schema.Table {
	return tableWith("import_staging", nil, "",
		schema.Column{Name: "code", DataType: "nvarchar", MaxLength: 20, OrdinalPos: 1},
		schema.Column{Name: "qty", DataType: "int", OrdinalPos: 2},
	)
}

func linesTbl() *schema.Table {
	return tableWith("order_lines", []string{"id", "line_no"}, "updated_at",
		schema.Column{Name: "id", DataType: "bigint", OrdinalPos: 1},
		schema.Column{Name: "line_no", DataType: "int", OrdinalPos: 2},
		schema.Column{Name: "qty", DataType: "int", OrdinalPos: 3},
		schema.Column{Name: "updated_at", DataType: "datetime2", OrdinalPos: 4},
	)
}

func syncUnit(tbl *schema.Table, patterns ...string) *Unit {
	return &Unit{
		Instance:     "prod",
		Database:     "erp",
		Table:        tbl,
		TargetSchema: "prod_erp",
		Strategy:     Select(tbl, patterns),
	}
}

func pkMarker(value string) *state.Marker {
	return &state.Marker{
		Instance: "prod",
		Database: "erp",
		Table:    "dbo.orders",
		Strategy: "pk_incremental",
		Kind:     state.MarkerPK,
		Value:    value,
	}
}

// sliceIter feeds pre-chunked batches.
type sliceIter struct {
	batches [][][]any
	idx     int
	closed  bool
}

func (it *sliceIter) Next() ([][]any, error) {
	if it.idx >= len(it.batches) {
		return nil, nil
	}
	b := it.batches[it.idx]
	it.idx++
	return b, nil
}

func (it *sliceIter) Close() error {
	it.closed = true
	return nil
}

// fakeSource serves rows out of a slice and logs every read it gets
// asked to do.
type fakeSource struct {
	table *schema.Table
	rows  [][]any
	batch int // rows per iterator batch; 0 means everything at once
	reads []string
}

func (f *fakeSource) colIdx(name string) int {
	for i, c := range f.table.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

func (f *fakeSource) iter(rows [][]any) *sliceIter {
	size := f.batch
	if size <= 0 {
		size = len(rows)
	}
	var batches [][][]any
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[start:end])
	}
	return &sliceIter{batches: batches}
}

func (f *fakeSource) ReadAll(_ context.Context, _ *schema.Table, _ int) (RowIter, error) {
	f.reads = append(f.reads, "all")
	return f.iter(f.rows), nil
}

func (f *fakeSource) ReadSincePK(_ context.Context, t *schema.Table, sincePK int64, _ int) (RowIter, error) {
	f.reads = append(f.reads, fmt.Sprintf("since_pk %d", sincePK))
	idx := f.colIdx(t.PrimaryKey[0])
	var out [][]any
	for _, r := range f.rows {
		if v, ok := toInt64(r[idx]); ok && v > sincePK {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := toInt64(out[i][idx])
		b, _ := toInt64(out[j][idx])
		return a < b
	})
	return f.iter(out), nil
}

func (f *fakeSource) ReadSinceTimestamp(_ context.Context, t *schema.Table, since time.Time, _ int) (RowIter, error) {
	f.reads = append(f.reads, "since_ts")
	idx := f.colIdx(t.TimestampColumn)
	var out [][]any
	for _, r := range f.rows {
		if v, ok := r[idx].(time.Time); ok && v.After(since) {
			out = append(out, r)
		}
	}
	return f.iter(out), nil
}

func (f *fakeSource) ReadUpdatedSince(_ context.Context, t *schema.Table, since time.Time, pkMax int64, _ int) (RowIter, error) {
	f.reads = append(f.reads, fmt.Sprintf("updated_since %d", pkMax))
	tsIdx := f.colIdx(t.TimestampColumn)
	pkIdx := f.colIdx(t.PrimaryKey[0])
	var out [][]any
	for _, r := range f.rows {
		ts, tok := r[tsIdx].(time.Time)
		pk, pok := toInt64(r[pkIdx])
		if tok && pok && ts.After(since) && pk <= pkMax {
			out = append(out, r)
		}
	}
	return f.iter(out), nil
}

func (f *fakeSource) ReadAllKeys(_ context.Context, t *schema.Table, _ int) (RowIter, error) {
	f.reads = append(f.reads, "keys")
	idx := f.colIdx(t.PrimaryKey[0])
	out := make([][]any, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, []any{r[idx]})
	}
	it := f.iter(out)
	it.cols = t.PKColumns
	return it, nil
}

func (f *fakeSource) PendingSince(_ context.Context, _ *schema.Table, column string, marker any) (int64, error) {
	f.reads = append(f.reads, "pending "+column)
	idx := f.colIdx(column)
	var n int64
	switch m := marker.(type) {
	case int64:
		for _, r := range f.rows {
			if v, ok := toInt64(r[idx]); ok && v > m {
				n++
			}
		}
	case time.Time:
		for _, r := range f.rows {
			if v, ok := r[idx].(time.Time); ok && v.After(m) {
				n++
			}
		}
	}
	return n, nil
}

// fakeTarget keeps rows keyed by primary key and, like the real merge,
// does not count a write that changes nothing.
type fakeTarget struct {
	ensureAdded []string
	ensureErr   error

	live map[string][]any
	keys map[string][]any

	upsertCalls int
	lastCols    []string
	lastPKs     []string

	failOn  int // 1-based upsert call that fails
	failErr error

	cancelOn int // 1-based upsert call after which ctx gets cancelled
	cancel   context.CancelFunc

	shadowName  string
	shadowRows  [][]any
	swapped     bool
	deletedKeys [][]any
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{live: map[string][]any{}, keys: map[string][]any{}}
}

func rowKey(cols, pkCols []string, row []any) string {
	var sb strings.Builder
	for _, pk := range pkCols {
		for i, c := range cols {
			if strings.EqualFold(c, pk) {
				fmt.Fprintf(&sb, "%v|", row[i])
				break
			}
		}
	}
	return sb.String()
}

func (f *fakeTarget) EnsureTable(_ context.Context, _ *schema.Table, _ string) ([]string, error) {
	return f.ensureAdded, f.ensureErr
}

func (f *fakeTarget) UpsertBatch(_ context.Context, _, _ string, cols, pkCols []string, rows [][]any) (int64, error) {
	f.upsertCalls++
	f.lastCols = append([]string(nil), cols...)
	f.lastPKs = append([]string(nil), pkCols...)

	if f.failOn > 0 && f.upsertCalls == f.failOn {
		return 0, f.failErr
	}

	var changed int64
	for _, row := range rows {
		key := rowKey(cols, pkCols, row)
		if prev, ok := f.live[key]; ok && reflect.DeepEqual(prev, row) {
			continue
		}
		f.live[key] = append([]any(nil), row...)
		var pkVals []any
		for _, pk := range pkCols {
			for i, c := range cols {
				if strings.EqualFold(c, pk) {
					pkVals = append(pkVals, row[i])
					break
				}
			}
		}
		f.keys[key] = pkVals
		changed++
	}

	if f.cancelOn > 0 && f.upsertCalls == f.cancelOn && f.cancel != nil {
		f.cancel()
	}
	return changed, nil
}

func (f *fakeTarget) DeleteKeys(_ context.Context, _, _ string, _ []string, keys [][]any) (int64, error) {
	var n int64
	for _, kv := range keys {
		var sb strings.Builder
		for _, v := range kv {
			fmt.Fprintf(&sb, "%v|", v)
		}
		k := sb.String()
		if _, ok := f.live[k]; ok {
			delete(f.live, k)
			delete(f.keys, k)
			n++
		}
		f.deletedKeys = append(f.deletedKeys, kv)
	}
	return n, nil
}

func (f *fakeTarget) FetchKeys(_ context.Context, _, _ string, _ []string) ([][]any, error) {
	ks := make([]string, 0, len(f.keys))
	for k := range f.keys {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	out := make([][]any, 0, len(ks))
	for _, k := range ks {
		out = append(out, f.keys[k])
	}
	return out, nil
}

func (f *fakeTarget) CreateShadowTable(_ context.Context, t *schema.Table, _ string) (string, error) {
	f.shadowName = t.Name + "__sync_new"
	f.shadowRows = nil
	return f.shadowName, nil
}

func (f *fakeTarget) CopyRows(_ context.Context, _, _ string, _ []string, rows [][]any) (int64, error) {
	f.shadowRows = append(f.shadowRows, rows...)
	return int64(len(rows)), nil
}

func (f *fakeTarget) SwapShadowTable(_ context.Context, _ *schema.Table, _, _ string) error {
	f.swapped = true
	return nil
}

func seedTarget(t *testing.T, tgt *fakeTarget, tbl *schema.Table, rows [][]any) {
	t.Helper()
	if _, err := tgt.UpsertBatch(context.Background(), "prod_erp", tbl.Name, tbl.ColumnNames(), tbl.PrimaryKey, rows); err != nil {
		t.Fatal(err)
	}
	tgt.upsertCalls = 0
}

func TestFirstRunSyncsEverything(t *testing.T) {
	tbl := ordersTbl(false)
	src := &fakeSource{table: tbl, batch: 2, rows: [][]any{
		{int64(1), 100},
		{int64(2), 200},
		{int64(3), 300},
	}}
	tgt := newFakeTarget()

	res := New(src, tgt, 2).SyncTable(context.Background(), syncUnit(tbl), nil)

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if res.RowsRead != 3 || res.RowsUpserted != 3 {
		t.Errorf("rows read/upserted = %d/%d, want 3/3", res.RowsRead, res.RowsUpserted)
	}
	if res.Marker == nil {
		t.Fatal("first successful run must produce a watermark")
	}
	if res.Marker.Value != "3" {
		t.Errorf("marker = %q, want 3", res.Marker.Value)
	}
	if res.Marker.Kind != state.MarkerPK || res.Marker.Strategy != "pk_incremental" {
		t.Errorf("marker kind/strategy = %q/%q", res.Marker.Kind, res.Marker.Strategy)
	}
	if len(tgt.live) != 3 {
		t.Errorf("target holds %d rows, want 3", len(tgt.live))
	}
	if len(src.reads) != 1 || src.reads[0] != "all" {
		t.Errorf("reads = %v, want a single full read", src.reads)
	}
}

func TestIncrementalPullsNewAndUpdatedRows(t *testing.T) {
	tbl := ordersTbl(true)
	src := &fakeSource{table: tbl, rows: [][]any{
		{int64(1), 100, day(1)},
		{int64(2), 250, day(11)}, // updated since the last run
		{int64(3), 300, day(3)},
		{int64(4), 400, day(12)}, // inserted since the last run
	}}
	tgt := newFakeTarget()
	seedTarget(t, tgt, tbl, [][]any{
		{int64(1), 100, day(1)},
		{int64(2), 200, day(2)},
		{int64(3), 300, day(3)},
	})

	prior := pkMarker("3|" + day(10).UTC().Format(time.RFC3339Nano))
	res := New(src, tgt, 0).SyncTable(context.Background(), syncUnit(tbl), prior)

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if res.RowsRead != 2 || res.RowsUpserted != 2 {
		t.Errorf("rows read/upserted = %d/%d, want 2/2", res.RowsRead, res.RowsUpserted)
	}

	want := "4|" + day(12).UTC().Format(time.RFC3339Nano)
	if res.Marker == nil || res.Marker.Value != want {
		t.Errorf("marker = %v, want %q", res.Marker, want)
	}

	if len(tgt.live) != 4 {
		t.Errorf("target holds %d rows, want 4", len(tgt.live))
	}
	if got := tgt.live["2|"]; got == nil || got[1] != 250 {
		t.Errorf("row 2 = %v, want amount 250", got)
	}

	wantReads := []string{"pending id", "since_pk 3", "updated_since 3"}
	if !reflect.DeepEqual(src.reads, wantReads) {
		t.Errorf("reads = %v, want %v", src.reads, wantReads)
	}
}

func TestUpToDateTableShortCircuits(t *testing.T) {
	tbl := ordersTbl(false)
	src := &fakeSource{table: tbl, rows: [][]any{
		{int64(1), 100},
		{int64(2), 200},
		{int64(3), 300},
	}}
	tgt := newFakeTarget()

	res := New(src, tgt, 0).SyncTable(context.Background(), syncUnit(tbl), pkMarker("3"))

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if res.RowsRead != 0 || res.RowsUpserted != 0 {
		t.Errorf("rows read/upserted = %d/%d, want 0/0", res.RowsRead, res.RowsUpserted)
	}
	if res.Marker != nil {
		t.Errorf("marker = %v, want nil so the stored one stays put", res.Marker)
	}
	if tgt.upsertCalls != 0 {
		t.Errorf("upsert calls = %d, want none", tgt.upsertCalls)
	}
	if want := []string{"pending id"}; !reflect.DeepEqual(src.reads, want) {
		t.Errorf("reads = %v, want %v", src.reads, want)
	}
}

func TestReplayAfterLostMarkerIsIdempotent(t *testing.T) {
	tbl := ordersTbl(false)
	src := &fakeSource{table: tbl, rows: [][]any{
		{int64(1), 100},
		{int64(2), 200},
		{int64(3), 300},
	}}
	tgt := newFakeTarget()
	s := New(src, tgt, 0)

	first := s.SyncTable(context.Background(), syncUnit(tbl), nil)
	if first.RowsUpserted != 3 {
		t.Fatalf("first run upserted %d, want 3", first.RowsUpserted)
	}

	// Same pull again, as if the watermark was lost.
	second := s.SyncTable(context.Background(), syncUnit(tbl), nil)
	if second.Status != StatusSucceeded {
		t.Fatalf("replay status = %q, err = %v", second.Status, second.Err)
	}
	if second.RowsRead != 3 {
		t.Errorf("replay read %d rows, want 3", second.RowsRead)
	}
	if second.RowsUpserted != 0 {
		t.Errorf("replay changed %d rows, want 0", second.RowsUpserted)
	}
	if len(tgt.live) != 3 {
		t.Errorf("target holds %d rows after replay, want 3", len(tgt.live))
	}
	if second.Marker == nil || second.Marker.Value != "3" {
		t.Errorf("replay marker = %v, want 3", second.Marker)
	}
}

func TestHashSyncUnchangedSourceWritesNothing(t *testing.T) {
	tbl := heapTbl()
	src := &fakeSource{table: tbl, rows: [][]any{
		{"a", 1}, {"b", 2}, {"c", 3}, {"d", 4}, {"e", 5},
	}}
	tgt := newFakeTarget()
	s := New(src, tgt, 0)
	u := syncUnit(tbl)

	first := s.SyncTable(context.Background(), u, nil)
	if first.Status != StatusSucceeded || first.RowsUpserted != 5 {
		t.Fatalf("first run: status %q upserted %d, err = %v", first.Status, first.RowsUpserted, first.Err)
	}
	if len(tgt.lastCols) == 0 || tgt.lastCols[len(tgt.lastCols)-1] != HashColumn {
		t.Errorf("upsert columns = %v, want trailing %s", tgt.lastCols, HashColumn)
	}
	if !reflect.DeepEqual(tgt.lastPKs, []string{HashColumn}) {
		t.Errorf("upsert keys = %v, want [%s]", tgt.lastPKs, HashColumn)
	}

	second := s.SyncTable(context.Background(), u, nil)
	if second.Status != StatusSucceeded {
		t.Fatalf("second run status = %q, err = %v", second.Status, second.Err)
	}
	if second.RowsRead != 5 || second.RowsUpserted != 0 {
		t.Errorf("unchanged source: read/upserted = %d/%d, want 5/0", second.RowsRead, second.RowsUpserted)
	}
	if second.Marker != nil {
		t.Errorf("hash sync must not carry a watermark, got %v", second.Marker)
	}
}

func TestHashSyncRebuildsLegacyTable(t *testing.T) {
	tbl := heapTbl()
	src := &fakeSource{table: tbl, rows: [][]any{
		{"a", 1}, {"b", 2}, {"c", 3},
	}}
	tgt := newFakeTarget()
	tgt.ensureAdded = []string{HashColumn} // pre-existing table without the hash key

	res := New(src, tgt, 0).SyncTable(context.Background(), syncUnit(tbl), nil)

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if !res.Rebuilt {
		t.Error("expected a rebuild when the hash key constraint is missing")
	}
	if !tgt.swapped {
		t.Error("rebuild must go through the shadow swap")
	}
	if len(tgt.shadowRows) != 3 {
		t.Errorf("shadow holds %d rows, want 3", len(tgt.shadowRows))
	}
	if len(tgt.shadowRows[0]) != 3 {
		t.Errorf("shadow row width = %d, want source columns plus hash", len(tgt.shadowRows[0]))
	}
	if res.RowsUpserted != 3 {
		t.Errorf("rows upserted = %d, want 3", res.RowsUpserted)
	}
}

func TestFullReplaceSwapsShadow(t *testing.T) {
	tbl := ordersTbl(false)
	src := &fakeSource{table: tbl, batch: 2, rows: [][]any{
		{int64(1), 100},
		{int64(2), 200},
		{int64(3), 300},
	}}
	tgt := newFakeTarget()

	res := New(src, tgt, 2).SyncTable(context.Background(), syncUnit(tbl, "dbo.orders"), nil)

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if res.RowsRead != 3 || res.RowsUpserted != 3 {
		t.Errorf("rows = %d/%d, want 3/3", res.RowsRead, res.RowsUpserted)
	}
	if res.Marker != nil {
		t.Errorf("full replace must not carry a watermark, got %v", res.Marker)
	}
	if tgt.shadowName != "orders__sync_new" {
		t.Errorf("shadow name = %q", tgt.shadowName)
	}
	if !tgt.swapped || len(tgt.shadowRows) != 3 {
		t.Errorf("swapped = %v, shadow rows = %d", tgt.swapped, len(tgt.shadowRows))
	}
	if tgt.upsertCalls != 0 {
		t.Errorf("full replace used %d upsert calls, want none", tgt.upsertCalls)
	}
}

func TestTargetFailureLeavesWatermarkUntouched(t *testing.T) {
	tbl := ordersTbl(false)
	src := &fakeSource{table: tbl, batch: 1, rows: [][]any{
		{int64(1), 100},
		{int64(2), 200},
		{int64(3), 300},
		{int64(4), 400},
		{int64(5), 500},
	}}
	tgt := newFakeTarget()

	base := errors.New("dial tcp 10.0.0.8:5432: connect: connection refused")
	tgt.failOn = 2
	tgt.failErr = &ConnectivityError{Endpoint: "warehouse:5432", Err: base}

	res := New(src, tgt, 1).SyncTable(context.Background(), syncUnit(tbl), pkMarker("3"))

	if res.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if res.Marker != nil {
		t.Errorf("failed run produced marker %v, must stay on the prior watermark", res.Marker)
	}
	if res.RowsUpserted != 1 {
		t.Errorf("rows upserted before failure = %d, want 1", res.RowsUpserted)
	}

	var pw *PartialWriteError
	if !errors.As(res.Err, &pw) {
		t.Fatalf("err = %v, want a partial write error", res.Err)
	}
	if pw.RowsWritten != 1 {
		t.Errorf("RowsWritten = %d, want 1", pw.RowsWritten)
	}

	var ce *ConnectivityError
	if !errors.As(res.Err, &ce) {
		t.Fatalf("connectivity cause lost in %v", res.Err)
	}
	if ce.Endpoint != "warehouse:5432" {
		t.Errorf("endpoint = %q", ce.Endpoint)
	}
	if !errors.Is(res.Err, base) {
		t.Error("base error lost in the chain")
	}
}

func TestStrategyChangeResetsWatermark(t *testing.T) {
	tbl := ordersTbl(false)
	src := &fakeSource{table: tbl, rows: [][]any{
		{int64(1), 100},
		{int64(2), 200},
		{int64(3), 300},
	}}
	tgt := newFakeTarget()

	prior := &state.Marker{
		Instance: "prod", Database: "erp", Table: "dbo.orders",
		Strategy: "timestamp_incremental",
		Kind:     state.MarkerTimestamp,
		Value:    state.FormatTimestampMarker(day(10)),
	}
	res := New(src, tgt, 0).SyncTable(context.Background(), syncUnit(tbl), prior)

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if !res.ClearMarker {
		t.Error("strategy change must clear the stored watermark")
	}
	if want := []string{"all"}; !reflect.DeepEqual(src.reads, want) {
		t.Errorf("reads = %v, want a full re-read", src.reads)
	}
	if res.Marker == nil || res.Marker.Value != "3" {
		t.Errorf("marker = %v, want a fresh 3", res.Marker)
	}
}

func TestCorruptWatermarkFallsBackToFullRead(t *testing.T) {
	tbl := ordersTbl(false)
	src := &fakeSource{table: tbl, rows: [][]any{
		{int64(1), 100},
		{int64(2), 200},
		{int64(3), 300},
	}}
	tgt := newFakeTarget()

	res := New(src, tgt, 0).SyncTable(context.Background(), syncUnit(tbl), pkMarker("garbage"))

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if want := []string{"all"}; !reflect.DeepEqual(src.reads, want) {
		t.Errorf("reads = %v, want a full re-read", src.reads)
	}
	if res.Marker == nil || res.Marker.Value != "3" {
		t.Errorf("marker = %v, want a repaired 3", res.Marker)
	}
}

func TestWatermarkNeverMovesBackwards(t *testing.T) {
	tbl := ordersTbl(true)
	// Only an update to an old row: its key sits below the watermark.
	src := &fakeSource{table: tbl, rows: [][]any{
		{int64(7), 700, day(12)},
	}}
	tgt := newFakeTarget()

	prior := pkMarker("10|" + day(10).UTC().Format(time.RFC3339Nano))
	res := New(src, tgt, 0).SyncTable(context.Background(), syncUnit(tbl), prior)

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if res.RowsUpserted != 1 {
		t.Errorf("rows upserted = %d, want 1", res.RowsUpserted)
	}
	want := "10|" + day(12).UTC().Format(time.RFC3339Nano)
	if res.Marker == nil || res.Marker.Value != want {
		t.Errorf("marker = %v, want %q (key watermark held at 10)", res.Marker, want)
	}
}

func TestDeleteTrackingRemovesVanishedRows(t *testing.T) {
	tbl := ordersTbl(false)
	src := &fakeSource{table: tbl, rows: [][]any{
		{int64(1), 100},
		{int64(3), 300},
	}}
	tgt := newFakeTarget()
	seedTarget(t, tgt, tbl, [][]any{
		{int64(1), 100},
		{int64(2), 200},
		{int64(3), 300},
	})

	u := syncUnit(tbl)
	u.DeleteTracking = true
	res := New(src, tgt, 0).SyncTable(context.Background(), u, pkMarker("3"))

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if res.RowsDeleted != 1 {
		t.Errorf("rows deleted = %d, want 1", res.RowsDeleted)
	}
	if len(tgt.live) != 2 {
		t.Errorf("target holds %d rows, want 2", len(tgt.live))
	}
	if _, gone := tgt.live["2|"]; gone {
		t.Error("row 2 still present after delete tracking")
	}
	if res.Marker == nil || res.Marker.Value != "3" {
		t.Errorf("marker = %v, want 3 preserved through a delete-only run", res.Marker)
	}
}

func TestCancellationStopsBetweenBatches(t *testing.T) {
	tbl := ordersTbl(false)
	src := &fakeSource{table: tbl, batch: 2, rows: [][]any{
		{int64(1), 100},
		{int64(2), 200},
		{int64(3), 300},
		{int64(4), 400},
	}}
	tgt := newFakeTarget()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tgt.cancelOn = 1
	tgt.cancel = cancel

	res := New(src, tgt, 2).SyncTable(ctx, syncUnit(tbl), nil)

	if res.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}
	if res.RowsUpserted != 2 {
		t.Errorf("rows upserted = %d, want the first batch only", res.RowsUpserted)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in the chain", res.Err)
	}
	if res.Marker != nil {
		t.Errorf("cancelled run produced marker %v", res.Marker)
	}
}

func TestTimestampStrategySyncsByTrackingColumn(t *testing.T) {
	tbl := linesTbl()
	src := &fakeSource{table: tbl, rows: [][]any{
		{int64(1), 1, 10, day(1)},
		{int64(1), 2, 20, day(12)},
		{int64(2), 1, 30, day(13)},
	}}
	tgt := newFakeTarget()

	prior := &state.Marker{
		Instance: "prod", Database: "erp", Table: "dbo.order_lines",
		Strategy: "timestamp_incremental",
		Kind:     state.MarkerTimestamp,
		Value:    state.FormatTimestampMarker(day(10)),
	}
	res := New(src, tgt, 0).SyncTable(context.Background(), syncUnit(tbl), prior)

	if res.Status != StatusSucceeded {
		t.Fatalf("status = %q, err = %v", res.Status, res.Err)
	}
	if res.RowsUpserted != 2 {
		t.Errorf("rows upserted = %d, want 2", res.RowsUpserted)
	}
	if !reflect.DeepEqual(tgt.lastPKs, []string{"id", "line_no"}) {
		t.Errorf("upsert keys = %v, want the composite key", tgt.lastPKs)
	}
	if res.Marker == nil || res.Marker.Kind != state.MarkerTimestamp {
		t.Fatalf("marker = %v, want a timestamp watermark", res.Marker)
	}
	if want := state.FormatTimestampMarker(day(13)); res.Marker.Value != want {
		t.Errorf("marker = %q, want %q", res.Marker.Value, want)
	}
}

func TestMarkerCodecRoundTrip(t *testing.T) {
	t.Run("key only", func(t *testing.T) {
		pk, ts, err := decodePKMarker(encodePKMarker(987654321, time.Time{}))
		if err != nil || pk != 987654321 || !ts.IsZero() {
			t.Errorf("got pk=%d ts=%v err=%v", pk, ts, err)
		}
	})
	t.Run("key and tracking column", func(t *testing.T) {
		in := time.Date(2024, 3, 7, 11, 22, 33, 123456789, time.UTC)
		pk, ts, err := decodePKMarker(encodePKMarker(42, in))
		if err != nil || pk != 42 || !ts.Equal(in) {
			t.Errorf("got pk=%d ts=%v err=%v", pk, ts, err)
		}
	})
	t.Run("rejects garbage", func(t *testing.T) {
		if _, _, err := decodePKMarker("abc|2024-01-01T00:00:00Z"); err == nil {
			t.Error("bad key part accepted")
		}
		if _, _, err := decodePKMarker("42|yesterday"); err == nil {
			t.Error("bad timestamp part accepted")
		}
	})
}

func TestRowHashing(t *testing.T) {
	a := []any{int64(1), "alpha", day(1)}
	b := []any{int64(1), "alpha", day(1)}
	c := []any{int64(1), "beta", day(1)}

	if hashRow(a) != hashRow(b) {
		t.Error("identical rows must hash identically")
	}
	if hashRow(a) == hashRow(c) {
		t.Error("different rows must not collide on trivial input")
	}
	if len(hashRow(a)) != 32 {
		t.Errorf("hash length = %d, want 32 hex chars", len(hashRow(a)))
	}

	batch := [][]any{a}
	hashed := appendRowHashes(batch)
	if len(hashed[0]) != 4 {
		t.Errorf("hashed row width = %d, want 4", len(hashed[0]))
	}
	if len(batch[0]) != 3 {
		t.Error("input row was mutated")
	}
}
