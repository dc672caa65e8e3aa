package source

import (
	"strings"

	"github.com/saadactin/Nitin-sir/internal/schema"
)

// timestampCandidates are change-tracking column names in priority order.
// Modified/updated variants come first; created variants still catch
// inserts on append-only tables.
var timestampCandidates = []string{
	"modified_date", "modifieddate",
	"modified_at", "modifiedat",
	"modified_on", "modifiedon",
	"last_modified", "lastmodified",
	"date_modified", "datemodified",
	"updated_at", "updatedat",
	"updated_date", "updateddate",
	"updated_on", "updatedon",
	"last_updated", "lastupdated",
	"change_date", "changedate",
	"changed_at", "changedat",
	"created_date", "createddate",
	"created_at", "createdat",
	"create_date", "createdate",
}

// detectTimestampColumn picks the best change-tracking column for a table
// and records it on the descriptor. Only well-known column names qualify;
// arbitrary datetime columns (order dates, birth dates) must not drive
// incremental sync.
func detectTimestampColumn(t *schema.Table) {
	for _, candidate := range timestampCandidates {
		for i := range t.Columns {
			col := &t.Columns[i]
			if strings.EqualFold(col.Name, candidate) && col.IsDateTimeType() {
				t.TimestampColumn = col.Name
				t.TimestampType = col.DataType
				return
			}
		}
	}
}
