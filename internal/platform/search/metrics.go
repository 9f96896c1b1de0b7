package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the search engine's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	SearchesTotal    *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	MatchesReturned  *prometheus.HistogramVec
	IncludesReturned *prometheus.HistogramVec
	Warnings         *prometheus.CounterVec

	// Index cache
	IndexCacheHits   prometheus.Counter
	IndexCacheMisses prometheus.Counter
}

// NewMetrics creates and registers the search metrics on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fhirsearch_searches_total",
				Help: "Total number of searches by resource type and outcome",
			},
			[]string{"resource_type", "outcome"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fhirsearch_search_duration_seconds",
				Help:    "Search evaluation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"resource_type"},
		),
		MatchesReturned: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fhirsearch_search_matches",
				Help:    "Number of resources matching a search",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"resource_type"},
		),
		IncludesReturned: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fhirsearch_search_includes",
				Help:    "Number of included resources returned with a page",
				Buckets: prometheus.ExponentialBuckets(1, 4, 6),
			},
			[]string{"resource_type"},
		),
		Warnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fhirsearch_search_warnings_total",
				Help: "Total number of parameters dropped under lenient handling",
			},
			[]string{"resource_type"},
		),
		IndexCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fhirsearch_index_cache_hits_total",
				Help: "Total number of index cache hits",
			},
		),
		IndexCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fhirsearch_index_cache_misses_total",
				Help: "Total number of index cache misses",
			},
		),
	}

	registry.MustRegister(
		m.SearchesTotal,
		m.SearchDuration,
		m.MatchesReturned,
		m.IncludesReturned,
		m.Warnings,
		m.IndexCacheHits,
		m.IndexCacheMisses,
	)
	return m
}

func (m *Metrics) observe(resourceType, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(resourceType, outcome).Inc()
	m.SearchDuration.WithLabelValues(resourceType).Observe(time.Since(start).Seconds())
}

func (m *Metrics) result(resourceType string, res *Result) {
	if m == nil {
		return
	}
	m.MatchesReturned.WithLabelValues(resourceType).Observe(float64(res.Matched))
	var includes int
	for _, e := range res.Entries {
		if e.Mode == ModeInclude {
			includes++
		}
	}
	m.IncludesReturned.WithLabelValues(resourceType).Observe(float64(includes))
	if n := len(res.Warnings); n > 0 {
		m.Warnings.WithLabelValues(resourceType).Add(float64(n))
	}
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.IndexCacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.IndexCacheMisses.Inc()
	}
}
