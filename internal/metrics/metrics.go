// Package metrics holds shared Prometheus label names and bucket
// definitions. No package imports it; internal/cache/metrics.go defines
// its counters without these helpers.
package metrics

// LatencyBuckets is the shared histogram bucket set (seconds) for
// query/sync duration metrics across the module.
var LatencyBuckets = []float64{
	.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120,
}

// DatasourceLabels is attached to metrics scoped to a single datasource.
var DatasourceLabels = []string{"datasource"}

// TableLabels is attached to metrics scoped to a single destination table.
var TableLabels = []string{"datasource", "table"}

// DialectLabels is attached to metrics scoped to a SQL dialect.
var DialectLabels = []string{"dialect"}
