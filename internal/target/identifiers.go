package target

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/saadactin/Nitin-sir/internal/schema"
)

// maxPGIdentLen is the PostgreSQL identifier length limit (NAMEDATALEN-1).
const maxPGIdentLen = 63

// quotePGIdent safely quotes a PostgreSQL identifier, escaping embedded quotes.
func quotePGIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// qualifyPGTable returns a fully qualified, quoted table reference.
func qualifyPGTable(schemaName, table string) string {
	return quotePGIdent(schemaName) + "." + quotePGIdent(table)
}

// SanitizePGIdentifier converts a SQL Server identifier to a PostgreSQL-friendly format.
// Rules:
// 1. Convert to lowercase
// 2. Replace non-alphanumeric characters with underscores
// 3. If it starts with a digit, prefix with "col_"
// 4. If empty (unlikely), fallback to "col_"
func SanitizePGIdentifier(ident string) string {
	if ident == "" {
		return "col_"
	}

	s := strings.ToLower(ident)

	var sb strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	result := sb.String()

	if r := rune(result[0]); unicode.IsDigit(r) {
		result = "col_" + result
	}
	return result
}

// SchemaFor returns the target schema name for a source database. Each
// database from each instance lands in its own schema, named
// <instance>_<database>, so same-named databases on different instances
// never collide.
func SchemaFor(instance, database string) string {
	return SanitizePGIdentifier(instance + "_" + database)
}

// IdentifierChange records a source identifier that sanitization will
// rename on the target.
type IdentifierChange struct {
	Kind     string // "table" or "column"
	Table    string // source table name
	Original string
	Renamed  string
}

// CollectIdentifierChanges reports every table and column name that
// sanitization changes, so renames surface before a sync instead of
// being discovered in the warehouse.
func CollectIdentifierChanges(tables []schema.Table) []IdentifierChange {
	var changes []IdentifierChange
	for i := range tables {
		t := &tables[i]
		if s := SanitizePGIdentifier(t.Name); s != t.Name {
			changes = append(changes, IdentifierChange{
				Kind:     "table",
				Table:    t.Name,
				Original: t.Name,
				Renamed:  s,
			})
		}
		for j := range t.Columns {
			col := t.Columns[j].Name
			if s := SanitizePGIdentifier(col); s != col {
				changes = append(changes, IdentifierChange{
					Kind:     "column",
					Table:    t.Name,
					Original: col,
					Renamed:  s,
				})
			}
		}
	}
	return changes
}

// FormatIdentifierChanges renders changes for log output, one per line.
func FormatIdentifierChanges(changes []IdentifierChange) string {
	if len(changes) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, c := range changes {
		switch c.Kind {
		case "table":
			fmt.Fprintf(&sb, "  table  %s -> %s\n", c.Original, c.Renamed)
		default:
			fmt.Fprintf(&sb, "  column %s.%s -> %s\n", c.Table, c.Original, c.Renamed)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
