package watch

import "testing"

func TestSourceForFile(t *testing.T) {
	tests := []struct {
		name   string
		source string
		ok     bool
	}{
		{"orders__2024-03-15.csv", "orders", true},
		{"orders__batch__7.csv", "orders", true},
		{"orders.csv", "orders", true},
		{"Orders.CSV", "orders", true},
		{"/inbox/bank__feed.csv", "bank", true},
		{"notes.txt", "", false},
		{"orders.csv.bak", "", false},
		{"__orders.csv", "__orders", true}, // no source prefix, whole stem
	}
	for _, tt := range tests {
		got, ok := sourceForFile(tt.name)
		if ok != tt.ok || got != tt.source {
			t.Errorf("sourceForFile(%q) = (%q, %v), want (%q, %v)",
				tt.name, got, ok, tt.source, tt.ok)
		}
	}
}
