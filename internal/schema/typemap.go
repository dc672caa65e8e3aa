package schema

import (
	"fmt"
	"strings"
)

// TypeMapping defines a simple 1:1 type mapping to PostgreSQL.
type TypeMapping struct {
	MSSQL    string // SQL Server type name
	Postgres string // PostgreSQL type name
}

// SizedTypeMapping defines type mappings that require length/precision handling.
type SizedTypeMapping struct {
	MSSQL             string // SQL Server type name
	Postgres          string // PostgreSQL type name
	PostgresMax       string // PostgreSQL type for unlimited length (e.g., "text")
	PreservePrecision bool   // Whether to preserve precision/scale
	PreserveLength    bool   // Whether to preserve length
}

// SimpleTypeMappings defines 1:1 type mappings between MSSQL and PostgreSQL.
// These types don't require length or precision handling.
var SimpleTypeMappings = []TypeMapping{
	// Boolean
	{MSSQL: "bit", Postgres: "boolean"},

	// Integer types
	{MSSQL: "tinyint", Postgres: "smallint"},
	{MSSQL: "smallint", Postgres: "smallint"},
	{MSSQL: "int", Postgres: "integer"},
	{MSSQL: "bigint", Postgres: "bigint"},

	// Floating point
	{MSSQL: "float", Postgres: "double precision"},
	{MSSQL: "real", Postgres: "real"},

	// Fixed precision money
	{MSSQL: "money", Postgres: "numeric(19,4)"},
	{MSSQL: "smallmoney", Postgres: "numeric(10,4)"},

	// Date/time types
	{MSSQL: "date", Postgres: "date"},
	{MSSQL: "time", Postgres: "time"},
	{MSSQL: "datetime", Postgres: "timestamp"},
	{MSSQL: "datetime2", Postgres: "timestamp"},
	{MSSQL: "smalldatetime", Postgres: "timestamp"},
	{MSSQL: "datetimeoffset", Postgres: "timestamptz"},

	// Row version (opaque counter, kept comparable as binary)
	{MSSQL: "rowversion", Postgres: "bytea"},
	{MSSQL: "timestamp", Postgres: "bytea"},

	// GUID
	{MSSQL: "uniqueidentifier", Postgres: "uuid"},

	// XML
	{MSSQL: "xml", Postgres: "xml"},

	// Legacy text types
	{MSSQL: "text", Postgres: "text"},
	{MSSQL: "ntext", Postgres: "text"},
	{MSSQL: "image", Postgres: "bytea"},

	// Other
	{MSSQL: "hierarchyid", Postgres: "text"},
	{MSSQL: "sql_variant", Postgres: "text"},
	{MSSQL: "geometry", Postgres: "text"},
	{MSSQL: "geography", Postgres: "text"},
}

// SizedTypeMappings defines type mappings that require length/precision handling.
var SizedTypeMappings = []SizedTypeMapping{
	// String types
	{MSSQL: "char", Postgres: "char", PostgresMax: "text", PreserveLength: true},
	{MSSQL: "nchar", Postgres: "char", PostgresMax: "text", PreserveLength: true},
	{MSSQL: "varchar", Postgres: "varchar", PostgresMax: "text", PreserveLength: true},
	{MSSQL: "nvarchar", Postgres: "varchar", PostgresMax: "text", PreserveLength: true},

	// Binary types
	{MSSQL: "binary", Postgres: "bytea", PostgresMax: "bytea"},
	{MSSQL: "varbinary", Postgres: "bytea", PostgresMax: "bytea"},

	// Decimal types
	{MSSQL: "decimal", Postgres: "numeric", PostgresMax: "numeric", PreservePrecision: true},
	{MSSQL: "numeric", Postgres: "numeric", PostgresMax: "numeric", PreservePrecision: true},
}

// PostgreSQL maximum varchar length before converting to text
const pgMaxVarcharLength = 10485760

// MapToPostgres returns the PostgreSQL type for an MSSQL type. Unknown
// types fall back to text; callers use IsKnownType to warn about those.
func MapToPostgres(mssqlType string, maxLength, precision, scale int) string {
	mssqlType = strings.ToLower(mssqlType)

	// Check simple mappings first
	for _, m := range SimpleTypeMappings {
		if m.MSSQL == mssqlType {
			return m.Postgres
		}
	}

	// Check sized mappings
	for _, m := range SizedTypeMappings {
		if m.MSSQL == mssqlType {
			return applySizedMapping(m, maxLength, precision, scale)
		}
	}

	// Default fallback
	return "text"
}

// IsKnownType returns true if the MSSQL type has a static PostgreSQL mapping.
func IsKnownType(mssqlType string) bool {
	mssqlType = strings.ToLower(mssqlType)
	for _, m := range SimpleTypeMappings {
		if m.MSSQL == mssqlType {
			return true
		}
	}
	for _, m := range SizedTypeMappings {
		if m.MSSQL == mssqlType {
			return true
		}
	}
	return false
}

// PostgresType returns the mapped PostgreSQL type for this column.
func (c *Column) PostgresType() string {
	return MapToPostgres(c.DataType, c.MaxLength, c.Precision, c.Scale)
}

// applySizedMapping applies a sized type mapping to get a PostgreSQL type.
func applySizedMapping(m SizedTypeMapping, maxLength, precision, scale int) string {
	// Handle MAX length (-1 in MSSQL)
	if maxLength == -1 {
		return m.PostgresMax
	}

	// Handle precision for decimal types
	if m.PreservePrecision && precision > 0 {
		return fmt.Sprintf("%s(%d,%d)", m.Postgres, precision, scale)
	}

	// Handle length for string types
	if m.PreserveLength && maxLength > 0 {
		if maxLength > pgMaxVarcharLength {
			return m.PostgresMax
		}
		return fmt.Sprintf("%s(%d)", m.Postgres, maxLength)
	}

	// Default to max type
	return m.PostgresMax
}
