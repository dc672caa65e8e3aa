package target

import (
	"fmt"
	"strings"

	"github.com/saadactin/Nitin-sir/internal/schema"
)

// BuildCreateTable generates the CREATE TABLE statement for a source
// table, mapping SQL Server types to their PostgreSQL equivalents. The
// table name is passed separately so the same descriptor can create both
// the live table and its shadow. When withPK is true and the source has
// a primary key, the constraint is inlined; incremental tables need it
// up front because the merge relies on ON CONFLICT.
func BuildCreateTable(t *schema.Table, schemaName, tableName string, withPK bool) string {
	var defs []string
	for i := range t.Columns {
		defs = append(defs, buildColumnDef(&t.Columns[i]))
	}

	if withPK && t.HasPK() {
		pkCols := make([]string, len(t.PrimaryKey))
		for i, col := range t.PrimaryKey {
			pkCols[i] = quotePGIdent(SanitizePGIdentifier(col))
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pkCols, ", ")))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", qualifyPGTable(schemaName, tableName)))
	sb.WriteString("    " + strings.Join(defs, ",\n    "))
	sb.WriteString("\n)")
	return sb.String()
}

func buildColumnDef(c *schema.Column) string {
	def := quotePGIdent(SanitizePGIdentifier(c.Name)) + " " + c.PostgresType()
	if !c.IsNullable {
		def += " NOT NULL"
	}
	return def
}
