// Package metrics counts the statements an orm.DB issues.
package metrics

import (
	"context"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cast"

	"github.com/lykmapipo/moron/orm"
)

// Collector is an orm.Logger that counts statements by SQL verb and
// records how many bind arguments each one carries.
type Collector struct {
	Statements *prometheus.CounterVec
	BindArgs   prometheus.Histogram
}

var _ orm.Logger = (*Collector)(nil)

// New creates a collector registered with the default registerer.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "moron",
				Name:      "statements_total",
				Help:      "Total number of SQL statements issued",
			},
			[]string{"verb"},
		),
		BindArgs: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "moron",
				Name:      "statement_bind_args",
				Help:      "Number of bind arguments per statement",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
			},
		),
	}
	reg.MustRegister(c.Statements, c.BindArgs)
	return c
}

// Log implements orm.Logger.
func (c *Collector) Log(_ context.Context, query string, args ...any) {
	c.Statements.WithLabelValues(Verb(query)).Inc()
	c.BindArgs.Observe(float64(len(args)))
}

// Verb returns the lower-cased leading keyword of a statement, or "other"
// for anything but SELECT, INSERT, UPDATE and DELETE.
func Verb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return "other"
	}
	switch v := strings.ToLower(fields[0]); v {
	case "select", "insert", "update", "delete":
		return v
	}
	return "other"
}

// Counts gathers the statement counters from g, keyed by verb.
func Counts(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	out := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != "moron_statements_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "verb" {
					out[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	return out, nil
}

// Format renders counts as "verb=n" pairs in verb order.
func Format(counts map[string]float64) string {
	verbs := make([]string, 0, len(counts))
	for v := range counts {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)

	parts := make([]string, len(verbs))
	for i, v := range verbs {
		parts[i] = v + "=" + cast.ToString(counts[v])
	}
	return strings.Join(parts, " ")
}
