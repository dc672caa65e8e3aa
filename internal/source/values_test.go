package source

import (
	"testing"
	"time"
)

func TestFormatUUID(t *testing.T) {
	// SQL Server returns GUID bytes mixed-endian: the first three groups
	// are little-endian, the rest big-endian.
	b := []byte{
		0x33, 0x22, 0x11, 0x00,
		0x55, 0x44,
		0x77, 0x66,
		0x88, 0x99,
		0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
	}
	want := "00112233-4455-6677-8899-aabbccddeeff"
	if got := formatUUID(b); got != want {
		t.Errorf("formatUUID = %q, want %q", got, want)
	}

	// Non-16-byte input falls back to hex
	if got := formatUUID([]byte{0xab, 0xcd}); got != "abcd" {
		t.Errorf("formatUUID short input = %q, want abcd", got)
	}
}

func TestProcessValue(t *testing.T) {
	guid := []byte{
		0x33, 0x22, 0x11, 0x00,
		0x55, 0x44,
		0x77, 0x66,
		0x88, 0x99,
		0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff,
	}
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		val     any
		colType string
		want    any
	}{
		{"nil passes through", nil, "int", nil},
		{"plain int", int64(42), "bigint", int64(42)},
		{"uniqueidentifier bytes", guid, "uniqueidentifier", "00112233-4455-6677-8899-aabbccddeeff"},
		{"uniqueidentifier string", "00112233-4455-6677-8899-aabbccddeeff", "uniqueidentifier", "00112233-4455-6677-8899-aabbccddeeff"},
		{"bit from int64", int64(1), "bit", true},
		{"bit zero", int64(0), "bit", false},
		{"bit already bool", true, "bit", true},
		{"datetime in range", ts, "datetime", ts},
		{"empty varbinary becomes nil", []byte{}, "varbinary", nil},
		{"varbinary passes bytes", []byte{0x01, 0x02}, "varbinary", nil}, // compared separately below
		{"mixed-case type", int64(1), "BIT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := processValue(tt.val, tt.colType)
			if tt.name == "varbinary passes bytes" {
				b, ok := got.([]byte)
				if !ok || len(b) != 2 || b[0] != 0x01 {
					t.Errorf("processValue = %v, want original bytes", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("processValue(%v, %q) = %v, want %v", tt.val, tt.colType, got, tt.want)
			}
		})
	}
}

func TestProcessValueSentinelDates(t *testing.T) {
	// Year zero timestamps (below the SQL Server datetime floor) become NULL
	zero := time.Time{}
	if got := processValue(zero, "datetime"); got != nil {
		t.Errorf("expected nil for zero time, got %v", got)
	}
	ok := time.Date(1753, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := processValue(ok, "datetime2"); got != ok {
		t.Errorf("expected 1753 date to pass, got %v", got)
	}
}
