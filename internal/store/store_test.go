package store

import (
	"strings"
	"testing"
)

// TestFindingsUpsertQuery tests placeholder numbering and argument order.
func TestFindingsUpsertQuery(t *testing.T) {
	counts := map[string]int64{
		"phone": 12,
		"email": 7,
		"name":  3,
	}

	query, args := findingsUpsertQuery("run-1", counts)

	if !strings.Contains(query, "($1, $2, $3),($4, $5, $6),($7, $8, $9)") {
		t.Errorf("Placeholders wrong:\n%s", query)
	}
	if !strings.Contains(query, "ON CONFLICT (run_id, category) DO UPDATE") {
		t.Errorf("Missing upsert clause:\n%s", query)
	}

	// Categories come out sorted, triplets of (run_id, category, count).
	want := []interface{}{"run-1", "email", int64(7), "run-1", "name", int64(3), "run-1", "phone", int64(12)}
	if len(args) != len(want) {
		t.Fatalf("Args = %d, want %d", len(args), len(want))
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("Arg %d = %v, want %v", i, args[i], want[i])
		}
	}
}

// TestMaskDatabaseURL tests credential masking for log output.
func TestMaskDatabaseURL(t *testing.T) {
	cases := map[string]string{
		"postgres://audit:hunter2@db:5432/sanraksh": "postgres://audit:***@db:5432/sanraksh",
		"postgres://db:5432/sanraksh":               "postgres://db:5432/sanraksh",
	}
	for in, want := range cases {
		if got := maskDatabaseURL(in); got != want {
			t.Errorf("maskDatabaseURL(%s) = %s, want %s", in, got, want)
		}
	}
}
