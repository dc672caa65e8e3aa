package engine

import (
	"context"
	"strings"
	"time"

	"github.com/saadactin/Nitin-sir/internal/schema"
	"github.com/saadactin/Nitin-sir/internal/state"
)

// markerTracker watches the watermark columns while batches stream
// through, so the new marker can be computed without a second pass.
type markerTracker struct {
	pkIdx int
	tsIdx int

	sawPK bool
	maxPK int64
	sawTS bool
	maxTS time.Time
}

func newMarkerTracker(cols []schema.Column, strat Strategy) *markerTracker {
	mt := &markerTracker{pkIdx: -1, tsIdx: -1}
	for i := range cols {
		if strat.PKColumn != "" && strings.EqualFold(cols[i].Name, strat.PKColumn) {
			mt.pkIdx = i
		}
		if strat.TimestampColumn != "" && strings.EqualFold(cols[i].Name, strat.TimestampColumn) {
			mt.tsIdx = i
		}
	}
	return mt
}

// seed primes the tracker with the prior watermark so the new marker
// never moves backwards, even on runs that only pull updates.
func (mt *markerTracker) seed(pk int64, hasPK bool, ts time.Time) {
	if hasPK {
		mt.sawPK = true
		mt.maxPK = pk
	}
	if !ts.IsZero() {
		mt.sawTS = true
		mt.maxTS = ts
	}
}

func (mt *markerTracker) observe(batch [][]any) {
	for _, row := range batch {
		if mt.pkIdx >= 0 && mt.pkIdx < len(row) {
			if v, ok := toInt64(row[mt.pkIdx]); ok {
				if !mt.sawPK || v > mt.maxPK {
					mt.sawPK = true
					mt.maxPK = v
				}
			}
		}
		if mt.tsIdx >= 0 && mt.tsIdx < len(row) {
			if v, ok := row[mt.tsIdx].(time.Time); ok {
				if !mt.sawTS || v.After(mt.maxTS) {
					mt.sawTS = true
					mt.maxTS = v
				}
			}
		}
	}
}

// marker returns the watermark to persist, or nil when nothing was
// observed.
func (mt *markerTracker) marker(u *Unit) *state.Marker {
	m := &state.Marker{
		Instance: u.Instance,
		Database: u.Database,
		Table:    u.Table.FullName(),
		Strategy: u.Strategy.Kind.String(),
	}

	switch u.Strategy.Kind {
	case PrimaryKeyIncremental:
		if !mt.sawPK {
			return nil
		}
		m.Kind = state.MarkerPK
		var ts time.Time
		if mt.sawTS {
			ts = mt.maxTS
		}
		m.Value = encodePKMarker(mt.maxPK, ts)
	case TimestampIncremental:
		if !mt.sawTS {
			return nil
		}
		m.Kind = state.MarkerTimestamp
		m.Value = state.FormatTimestampMarker(mt.maxTS)
	default:
		return nil
	}
	return m
}

// applyUpserts drains the iterator into fixed-size upsert batches.
// Cancellation is honored at batch boundaries: the in-flight batch
// lands, then the loop stops. Each batch merge is a single atomic
// statement, so no partial batch is ever visible.
func (s *Syncer) applyUpserts(ctx context.Context, u *Unit, iter RowIter, mt *markerTracker) (read, upserted int64, err error) {
	defer iter.Close()

	cols := u.Table.ColumnNames()
	for {
		if err := ctx.Err(); err != nil {
			return read, upserted, wrapPartial(u, upserted, err)
		}

		batch, nextErr := iter.Next()
		if nextErr != nil {
			return read, upserted, wrapPartial(u, upserted, nextErr)
		}
		if len(batch) == 0 {
			return read, upserted, nil
		}

		mt.observe(batch)
		n, upErr := s.tgt.UpsertBatch(ctx, u.TargetSchema, u.Table.Name, cols, u.Table.PrimaryKey, batch)
		if upErr != nil {
			return read, upserted, wrapPartial(u, upserted, upErr)
		}
		read += int64(len(batch))
		upserted += n
	}
}

// wrapPartial tags an error with the rows already committed, but only
// once something has actually landed.
func wrapPartial(u *Unit, rowsWritten int64, err error) error {
	if rowsWritten == 0 {
		return err
	}
	return &PartialWriteError{Table: u.Table.FullName(), RowsWritten: rowsWritten, Err: err}
}

// loadShadow streams the iterator into a fresh shadow table and swaps
// it over the live one. t may differ from u.Table when the load carries
// a synthetic hash column.
func (s *Syncer) loadShadow(ctx context.Context, u *Unit, t *schema.Table, iter RowIter, withHash bool) (int64, error) {
	defer iter.Close()

	shadow, err := s.tgt.CreateShadowTable(ctx, t, u.TargetSchema)
	if err != nil {
		return 0, &SchemaError{Table: t.FullName(), Err: err}
	}

	cols := t.ColumnNames()
	var loaded int64
	for {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}

		batch, err := iter.Next()
		if err != nil {
			return loaded, err
		}
		if len(batch) == 0 {
			break
		}
		if withHash {
			batch = appendRowHashes(batch)
		}

		n, err := s.tgt.CopyRows(ctx, u.TargetSchema, shadow, cols, batch)
		if err != nil {
			return loaded, err
		}
		loaded += n
	}

	if err := s.tgt.SwapShadowTable(ctx, t, u.TargetSchema, shadow); err != nil {
		return loaded, err
	}
	return loaded, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}
