package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lykmapipo/moron/internal/metrics"
)

func TestVerb(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"SELECT * FROM t":           "select",
		"  insert INTO t VALUES ()": "insert",
		"UPDATE t SET a = 1":        "update",
		"DELETE FROM t WHERE 1":     "delete",
		"BEGIN":                     "other",
		"":                          "other",
	}
	for query, want := range tests {
		if got := metrics.Verb(query); got != want {
			t.Errorf("Verb(%q) = %q, want %q", query, got, want)
		}
	}
}

func TestCollectorCountsStatements(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewWithRegistry(reg)

	c.Log(t.Context(), "SELECT 1", 1, 2)
	c.Log(t.Context(), "SELECT 2")
	c.Log(t.Context(), "DELETE FROM t WHERE id = ?", 3)

	if got := testutil.ToFloat64(c.Statements.WithLabelValues("select")); got != 2 {
		t.Errorf("select = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Statements.WithLabelValues("delete")); got != 1 {
		t.Errorf("delete = %v, want 1", got)
	}

	counts, err := metrics.Counts(reg)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if got := metrics.Format(counts); got != "delete=1 select=2" {
		t.Errorf("Format = %q", got)
	}
}
