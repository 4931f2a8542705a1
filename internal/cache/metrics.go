package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	sourceLocal  = "local"
	sourceShared = "shared"
	sourceAny    = ""
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "query_cache_hits_total",
		Help: "the number of query-cache lookups that found an entry",
	}, []string{"source"})
	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "query_cache_misses_total",
		Help: "the number of query-cache lookups that found no entry",
	}, []string{"source"})
)

// cacheCounters narrows the hits/misses vectors to the single label this
// package needs, so Cache itself never touches the prometheus API directly.
type cacheCounters struct {
	vec *prometheus.CounterVec
}

var cacheHits = &cacheCounters{vec: cacheHitsTotal}
var cacheMisses = &cacheCounters{vec: cacheMissesTotal}

func (c *cacheCounters) inc(source string) {
	c.vec.WithLabelValues(source).Inc()
}
