package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/saadactin/Nitin-sir/internal/logging"
	"github.com/saadactin/Nitin-sir/internal/schema"
	"github.com/saadactin/Nitin-sir/internal/state"
)

// HashColumn is the synthetic identity column hash-synced tables carry
// on the target.
const HashColumn = "_row_hash"

// fullReplace reads everything and swaps a freshly loaded shadow table
// over the live one. Readers never see a half-written table.
func (s *Syncer) fullReplace(ctx context.Context, u *Unit, res *Result) error {
	iter, err := s.src.ReadAll(ctx, u.Table, s.batchSize)
	if err != nil {
		return err
	}

	loaded, err := s.loadShadow(ctx, u, u.Table, iter, false)
	res.RowsRead = loaded
	res.RowsUpserted = loaded
	return err
}

// pkIncremental pulls rows past the key watermark, plus in-place
// updates via the tracking column when the table has one. Deletes are
// detected by key diff only when the table opted in.
func (s *Syncer) pkIncremental(ctx context.Context, u *Unit, prior *state.Marker, res *Result) error {
	t := u.Table

	added, err := s.tgt.EnsureTable(ctx, t, u.TargetSchema)
	if err != nil {
		return &SchemaError{Table: t.FullName(), Err: err}
	}
	res.ColumnsAdded = added
	if len(added) > 0 {
		logging.Info("Table %s: added target columns %s", t.FullName(), strings.Join(added, ", "))
	}

	mt := newMarkerTracker(t.Columns, u.Strategy)

	var (
		sincePK int64
		sinceTS time.Time
	)
	full := prior == nil
	if !full {
		var derr error
		sincePK, sinceTS, derr = decodePKMarker(prior.Value)
		if derr != nil {
			logging.Warn("Table %s: unreadable watermark %q, re-reading from the start: %v",
				t.FullName(), prior.Value, derr)
			full = true
		}
	}

	if full {
		iter, err := s.src.ReadAll(ctx, t, s.batchSize)
		if err != nil {
			return err
		}
		read, upserted, err := s.applyUpserts(ctx, u, iter, mt)
		res.RowsRead += read
		res.RowsUpserted += upserted
		if err != nil {
			return err
		}
	} else {
		pullUpdates := u.Strategy.TimestampColumn != "" && !sinceTS.IsZero()

		// Count before pulling; most tables have nothing new on most
		// runs.
		if !u.DeleteTracking {
			pending, err := s.src.PendingSince(ctx, t, u.Strategy.PKColumn, sincePK)
			if err != nil {
				return err
			}
			if pending == 0 && pullUpdates {
				pending, err = s.src.PendingSince(ctx, t, u.Strategy.TimestampColumn, sinceTS)
				if err != nil {
					return err
				}
			}
			if pending == 0 {
				return nil
			}
		}

		mt.seed(sincePK, true, sinceTS)

		iter, err := s.src.ReadSincePK(ctx, t, sincePK, s.batchSize)
		if err != nil {
			return err
		}
		read, upserted, err := s.applyUpserts(ctx, u, iter, mt)
		res.RowsRead += read
		res.RowsUpserted += upserted
		if err != nil {
			return err
		}

		if pullUpdates {
			uiter, err := s.src.ReadUpdatedSince(ctx, t, sinceTS, sincePK, s.batchSize)
			if err != nil {
				return err
			}
			read, upserted, err = s.applyUpserts(ctx, u, uiter, mt)
			res.RowsRead += read
			res.RowsUpserted += upserted
			if err != nil {
				return err
			}
		}
	}

	if u.DeleteTracking {
		deleted, err := s.trackDeletes(ctx, u)
		res.RowsDeleted = deleted
		if err != nil {
			return err
		}
	}

	res.Marker = mt.marker(u)
	return nil
}

// timestampIncremental pulls rows whose tracking column passed the
// high-water mark and upserts them by primary key. Deletes are not
// detectable here; the auditor flags the resulting drift.
func (s *Syncer) timestampIncremental(ctx context.Context, u *Unit, prior *state.Marker, res *Result) error {
	t := u.Table

	added, err := s.tgt.EnsureTable(ctx, t, u.TargetSchema)
	if err != nil {
		return &SchemaError{Table: t.FullName(), Err: err}
	}
	res.ColumnsAdded = added

	mt := newMarkerTracker(t.Columns, u.Strategy)

	var iter RowIter
	full := prior == nil
	if !full {
		since, perr := state.ParseTimestampMarker(prior.Value)
		if perr != nil {
			logging.Warn("Table %s: unreadable watermark %q, re-reading from the start: %v",
				t.FullName(), prior.Value, perr)
			full = true
		} else {
			pending, err := s.src.PendingSince(ctx, t, u.Strategy.TimestampColumn, since)
			if err != nil {
				return err
			}
			if pending == 0 {
				return nil
			}
			mt.seed(0, false, since)
			iter, err = s.src.ReadSinceTimestamp(ctx, t, since, s.batchSize)
			if err != nil {
				return err
			}
		}
	}
	if full {
		iter, err = s.src.ReadAll(ctx, t, s.batchSize)
		if err != nil {
			return err
		}
	}

	read, upserted, err := s.applyUpserts(ctx, u, iter, mt)
	res.RowsRead = read
	res.RowsUpserted = upserted
	if err != nil {
		return err
	}

	res.Marker = mt.marker(u)
	return nil
}

// hashDedup hashes every source row and relies on the hash key
// constraint to discard rows the target already holds. No watermark, no
// deletes.
func (s *Syncer) hashDedup(ctx context.Context, u *Unit, res *Result) error {
	t := u.Table
	eff := hashedDescriptor(t)

	added, err := s.tgt.EnsureTable(ctx, eff, u.TargetSchema)
	if err != nil {
		return &SchemaError{Table: t.FullName(), Err: err}
	}
	res.ColumnsAdded = added

	if containsFold(added, HashColumn) {
		// The table predates hash sync and lacks the hash key
		// constraint; rebuild it through a shadow load.
		logging.Info("Table %s: rebuilding with row hash key", t.FullName())
		iter, err := s.src.ReadAll(ctx, t, s.batchSize)
		if err != nil {
			return err
		}
		loaded, err := s.loadShadow(ctx, u, eff, iter, true)
		res.Rebuilt = true
		res.RowsRead = loaded
		res.RowsUpserted = loaded
		return err
	}

	iter, err := s.src.ReadAll(ctx, t, s.batchSize)
	if err != nil {
		return err
	}
	defer iter.Close()

	cols := eff.ColumnNames()
	for {
		if err := ctx.Err(); err != nil {
			return wrapPartial(u, res.RowsUpserted, err)
		}

		batch, err := iter.Next()
		if err != nil {
			return wrapPartial(u, res.RowsUpserted, err)
		}
		if len(batch) == 0 {
			return nil
		}

		hashed := appendRowHashes(batch)
		n, err := s.tgt.UpsertBatch(ctx, u.TargetSchema, t.Name, cols, eff.PrimaryKey, hashed)
		if err != nil {
			return wrapPartial(u, res.RowsUpserted, err)
		}
		res.RowsRead += int64(len(batch))
		res.RowsUpserted += n
	}
}

// trackDeletes removes target rows whose key no longer exists on the
// source. Costs a full key scan on both sides, which is why it is
// opt-in per table.
func (s *Syncer) trackDeletes(ctx context.Context, u *Unit) (int64, error) {
	t := u.Table

	iter, err := s.src.ReadAllKeys(ctx, t, s.batchSize)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	live := make(map[int64]struct{})
	for {
		batch, err := iter.Next()
		if err != nil {
			return 0, err
		}
		if len(batch) == 0 {
			break
		}
		for _, row := range batch {
			if len(row) == 0 {
				continue
			}
			if k, ok := toInt64(row[0]); ok {
				live[k] = struct{}{}
			}
		}
	}

	targetKeys, err := s.tgt.FetchKeys(ctx, u.TargetSchema, t.Name, t.PrimaryKey)
	if err != nil {
		return 0, err
	}

	var doomed [][]any
	for _, key := range targetKeys {
		if len(key) == 0 {
			continue
		}
		k, ok := toInt64(key[0])
		if !ok {
			continue
		}
		if _, alive := live[k]; !alive {
			doomed = append(doomed, []any{k})
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	return s.tgt.DeleteKeys(ctx, u.TargetSchema, t.Name, t.PrimaryKey, doomed)
}

// hashedDescriptor returns a copy of the table carrying the synthetic
// row hash column as its key.
func hashedDescriptor(t *schema.Table) *schema.Table {
	eff := *t
	eff.Columns = make([]schema.Column, len(t.Columns)+1)
	copy(eff.Columns, t.Columns)
	eff.Columns[len(t.Columns)] = schema.Column{
		Name:       HashColumn,
		DataType:   "varchar",
		MaxLength:  32,
		OrdinalPos: len(t.Columns) + 1,
	}
	eff.PrimaryKey = []string{HashColumn}
	eff.PopulatePKColumns()
	return &eff
}

// appendRowHashes returns new rows with the row hash appended as the
// last value. Input rows are not mutated.
func appendRowHashes(batch [][]any) [][]any {
	out := make([][]any, len(batch))
	for i, row := range batch {
		r := make([]any, len(row)+1)
		copy(r, row)
		r[len(row)] = hashRow(row)
		out[i] = r
	}
	return out
}

// hashRow digests all column values in order. Column order matters: the
// same values in a different order hash differently.
func hashRow(row []any) string {
	var sb strings.Builder
	for i, v := range row {
		if i > 0 {
			sb.WriteByte('|')
		}
		fmt.Fprintf(&sb, "%v", v)
	}
	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// encodePKMarker packs the key watermark and, when update capture is
// active, the tracking column watermark into one value.
func encodePKMarker(pk int64, ts time.Time) string {
	if ts.IsZero() {
		return strconv.FormatInt(pk, 10)
	}
	return strconv.FormatInt(pk, 10) + "|" + ts.UTC().Format(time.RFC3339Nano)
}

func decodePKMarker(value string) (int64, time.Time, error) {
	head, tail, found := strings.Cut(value, "|")
	pk, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid key watermark %q: %w", value, err)
	}
	if !found {
		return pk, time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, tail)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid tracking watermark %q: %w", value, err)
	}
	return pk, ts, nil
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
