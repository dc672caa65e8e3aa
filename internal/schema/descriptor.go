// Package schema holds table metadata extracted from source databases and
// the type mapping used to mirror it in PostgreSQL.
package schema

import "strings"

// Table represents a source table with its metadata.
type Table struct {
	Database        string   `json:"database"`
	Schema          string   `json:"schema"`
	Name            string   `json:"name"`
	Columns         []Column `json:"columns"`
	PrimaryKey      []string `json:"primary_key"`
	PKColumns       []Column `json:"pk_columns"` // Full column metadata for PKs
	RowCount        int64    `json:"row_count"`
	TimestampColumn string   `json:"timestamp_column,omitempty"` // Best change-tracking datetime column
	TimestampType   string   `json:"timestamp_type,omitempty"`
}

// FullName returns the schema-qualified table name (schema.table).
func (t *Table) FullName() string {
	return t.Schema + "." + t.Name
}

// HasPK returns true if the table has a primary key.
func (t *Table) HasPK() bool {
	return len(t.PrimaryKey) > 0
}

// HasSinglePK returns true if table has a single-column primary key.
func (t *Table) HasSinglePK() bool {
	return len(t.PrimaryKey) == 1
}

// HasTimestamp returns true if a change-tracking datetime column was found.
func (t *Table) HasTimestamp() bool {
	return t.TimestampColumn != ""
}

// PopulatePKColumns fills PKColumns with full column metadata from Columns.
// Call this after both PrimaryKey and Columns are populated.
func (t *Table) PopulatePKColumns() {
	t.PKColumns = nil // Reset
	for _, pkCol := range t.PrimaryKey {
		for _, col := range t.Columns {
			if col.Name == pkCol {
				t.PKColumns = append(t.PKColumns, col)
				break
			}
		}
	}
}

// GetPKColumn returns the PK column metadata if single-column PK.
func (t *Table) GetPKColumn() *Column {
	if len(t.PKColumns) == 1 {
		return &t.PKColumns[0]
	}
	return nil
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i]
		}
	}
	return nil
}

// ColumnNames returns the column names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// Column represents a table column.
type Column struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	MaxLength  int    `json:"max_length"`
	Precision  int    `json:"precision"`
	Scale      int    `json:"scale"`
	IsNullable bool   `json:"is_nullable"`
	IsIdentity bool   `json:"is_identity"`
	OrdinalPos int    `json:"ordinal_position"`
}

// IsIntegerType returns true if the column is an integer type.
func (c *Column) IsIntegerType() bool {
	switch strings.ToLower(c.DataType) {
	case "int", "integer", "bigint", "smallint", "tinyint":
		return true
	}
	return false
}

// IsDateTimeType returns true if the column holds a point in time usable
// for change tracking.
func (c *Column) IsDateTimeType() bool {
	switch strings.ToLower(c.DataType) {
	case "datetime", "datetime2", "smalldatetime", "datetimeoffset", "date":
		return true
	}
	return false
}
