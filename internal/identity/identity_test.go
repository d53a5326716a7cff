package identity

import (
	"testing"

	"github.com/ledgerline/recona/internal/docstore"
)

func TestBuildUniqueID(t *testing.T) {
	row := docstore.Document{
		"trade_id": "T100",
		"leg":      2.0,
		"venue":    " NYSE ",
	}
	tests := []struct {
		name   string
		fields []string
		want   string
	}{
		{"single", []string{"trade_id"}, "T100"},
		{"composite", []string{"trade_id", "leg"}, "T100_2"},
		{"trimmed component", []string{"trade_id", "venue"}, "T100_NYSE"},
		{"missing component", []string{"trade_id", "absent"}, ""},
		{"empty fields", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildUniqueID(row, tt.fields); got != tt.want {
				t.Errorf("BuildUniqueID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildUniqueID_Deterministic(t *testing.T) {
	row := docstore.Document{"a": "x", "b": 1.5}
	fields := []string{"a", "b"}
	first := BuildUniqueID(row, fields)
	for i := 0; i < 10; i++ {
		if got := BuildUniqueID(row, fields); got != first {
			t.Fatalf("run %d: got %q, want %q", i, got, first)
		}
	}
	if first != "x_1.5" {
		t.Errorf("got %q, want x_1.5", first)
	}
}

func TestBuildUniqueID_NullComponent(t *testing.T) {
	row := docstore.Document{"a": "x", "b": nil}
	if got := BuildUniqueID(row, []string{"a", "b"}); got != "" {
		t.Errorf("got %q, want empty for null component", got)
	}
}

func TestBuildUniqueID_IntegralFloat(t *testing.T) {
	// JSON round trips render whole numbers as floats; the key must not
	// grow a ".0" because of that.
	row := docstore.Document{"n": 42.0}
	if got := BuildUniqueID(row, []string{"n"}); got != "42" {
		t.Errorf("got %q, want 42", got)
	}
}

func TestBuildMappingKey_Fallbacks(t *testing.T) {
	tests := []struct {
		name   string
		row    docstore.Document
		fields []string
		docID  string
		want   string
	}{
		{
			"composite wins",
			docstore.Document{"ref": "R1", "unique_id": "U1"},
			[]string{"ref"}, "D1", "R1",
		},
		{
			"composite incomplete means no key",
			docstore.Document{"unique_id": "U1"},
			[]string{"ref"}, "D1", "",
		},
		{
			"unique_id fallback",
			docstore.Document{"unique_id": "U1"},
			nil, "D1", "U1",
		},
		{
			"doc id fallback",
			docstore.Document{},
			nil, "D1", "D1",
		},
		{
			"nothing",
			docstore.Document{},
			nil, "", "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildMappingKey(tt.row, tt.fields, tt.docID); got != tt.want {
				t.Errorf("BuildMappingKey = %q, want %q", got, tt.want)
			}
		})
	}
}
