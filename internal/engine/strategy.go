package engine

import (
	"path/filepath"
	"strings"

	"github.com/saadactin/Nitin-sir/internal/schema"
)

// Kind identifies a sync strategy. The set is closed: every table gets
// exactly one of these per run.
type Kind int

const (
	// FullReplace rebuilds the target table from scratch behind a
	// shadow table and swaps it in atomically.
	FullReplace Kind = iota
	// PrimaryKeyIncremental pulls rows past the key watermark, plus
	// in-place updates via the tracking column when one exists.
	PrimaryKeyIncremental
	// TimestampIncremental pulls rows whose tracking column passed the
	// high-water mark and upserts them by primary key.
	TimestampIncremental
	// HashDedup hashes every row and inserts only unseen hashes. For
	// tables with no usable identity at all.
	HashDedup
)

func (k Kind) String() string {
	switch k {
	case FullReplace:
		return "full_replace"
	case PrimaryKeyIncremental:
		return "pk_incremental"
	case TimestampIncremental:
		return "timestamp_incremental"
	case HashDedup:
		return "hash_dedup"
	default:
		return "unknown"
	}
}

// Strategy is the selected variant plus the columns it operates on.
type Strategy struct {
	Kind Kind

	// PKColumn is the ordered key column (pk_incremental only).
	PKColumn string

	// TimestampColumn is the tracking column: the watermark for
	// timestamp_incremental, the update-capture column for
	// pk_incremental when present.
	TimestampColumn string
}

// Select picks the strategy for a table from its metadata. Selection is
// deterministic: the same metadata and configuration always yield the
// same strategy. Priority: configured full-replace override, then an
// ordered single integer key, then a tracking column on a keyed table,
// then hashing for keyless tables. Keyed tables with no usable order
// and no tracking column fall back to a full replace, the only variant
// that stays correct without a change signal.
func Select(t *schema.Table, fullReplacePatterns []string) Strategy {
	if MatchTable(fullReplacePatterns, t) {
		return Strategy{Kind: FullReplace}
	}

	if t.HasSinglePK() {
		if col := t.GetPKColumn(); col != nil && col.IsIntegerType() {
			return Strategy{
				Kind:            PrimaryKeyIncremental,
				PKColumn:        col.Name,
				TimestampColumn: t.TimestampColumn,
			}
		}
	}

	if t.HasPK() && t.HasTimestamp() {
		return Strategy{Kind: TimestampIncremental, TimestampColumn: t.TimestampColumn}
	}

	if !t.HasPK() {
		return Strategy{Kind: HashDedup}
	}

	return Strategy{Kind: FullReplace}
}

// MatchTable reports whether any pattern matches the table. Patterns
// are shell globs compared case-insensitively against the bare table
// name, schema.table, and database.schema.table.
func MatchTable(patterns []string, t *schema.Table) bool {
	if len(patterns) == 0 {
		return false
	}

	candidates := []string{
		strings.ToLower(t.Name),
		strings.ToLower(t.Schema + "." + t.Name),
		strings.ToLower(t.Database + "." + t.Schema + "." + t.Name),
	}

	for _, pattern := range patterns {
		p := strings.ToLower(pattern)
		for _, c := range candidates {
			if matched, err := filepath.Match(p, c); err == nil && matched {
				return true
			}
		}
	}
	return false
}
