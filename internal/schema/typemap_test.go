package schema

import "testing"

func TestMapToPostgres(t *testing.T) {
	tests := []struct {
		name      string
		mssqlType string
		maxLength int
		precision int
		scale     int
		want      string
	}{
		{"int", "int", 0, 0, 0, "integer"},
		{"bigint", "bigint", 0, 0, 0, "bigint"},
		{"tinyint", "tinyint", 0, 0, 0, "smallint"},
		{"bit", "bit", 0, 0, 0, "boolean"},
		{"float", "float", 0, 0, 0, "double precision"},
		{"money", "money", 0, 0, 0, "numeric(19,4)"},
		{"datetime", "datetime", 0, 0, 0, "timestamp"},
		{"datetime2", "datetime2", 0, 0, 0, "timestamp"},
		{"datetimeoffset", "datetimeoffset", 0, 0, 0, "timestamptz"},
		{"rowversion", "rowversion", 0, 0, 0, "bytea"},
		{"uniqueidentifier", "uniqueidentifier", 0, 0, 0, "uuid"},
		{"varchar with length", "varchar", 255, 0, 0, "varchar(255)"},
		{"nvarchar with length", "nvarchar", 100, 0, 0, "varchar(100)"},
		{"varchar max", "varchar", -1, 0, 0, "text"},
		{"nvarchar max", "nvarchar", -1, 0, 0, "text"},
		{"varchar over pg limit", "varchar", 20000000, 0, 0, "text"},
		{"char with length", "char", 10, 0, 0, "char(10)"},
		{"decimal with precision", "decimal", 0, 18, 4, "numeric(18,4)"},
		{"numeric without precision", "numeric", 0, 0, 0, "numeric"},
		{"varbinary", "varbinary", 16, 0, 0, "bytea"},
		{"varbinary max", "varbinary", -1, 0, 0, "bytea"},
		{"ntext", "ntext", 0, 0, 0, "text"},
		{"image", "image", 0, 0, 0, "bytea"},
		{"geography", "geography", 0, 0, 0, "text"},
		{"mixed case", "DateTime", 0, 0, 0, "timestamp"},
		{"unknown type falls back", "clr_custom", 0, 0, 0, "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapToPostgres(tt.mssqlType, tt.maxLength, tt.precision, tt.scale)
			if got != tt.want {
				t.Errorf("MapToPostgres(%q, %d, %d, %d) = %q, want %q",
					tt.mssqlType, tt.maxLength, tt.precision, tt.scale, got, tt.want)
			}
		})
	}
}

func TestIsKnownType(t *testing.T) {
	known := []string{"int", "varchar", "nvarchar", "decimal", "geography", "UNIQUEIDENTIFIER"}
	for _, typ := range known {
		if !IsKnownType(typ) {
			t.Errorf("expected %q to be a known type", typ)
		}
	}
	unknown := []string{"clr_custom", "fancytype", ""}
	for _, typ := range unknown {
		if IsKnownType(typ) {
			t.Errorf("expected %q to be unknown", typ)
		}
	}
}

func TestColumnPostgresType(t *testing.T) {
	col := Column{Name: "title", DataType: "nvarchar", MaxLength: 200}
	if got := col.PostgresType(); got != "varchar(200)" {
		t.Errorf("PostgresType() = %q, want varchar(200)", got)
	}
}
