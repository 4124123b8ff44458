package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search aggregation Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patsearch",
			Name:      "search_requests_total",
			Help:      "Total number of aggregated search requests",
		},
		[]string{"status"}, // "ok" / "degraded" / "error"
	)

	SearchKeywordQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "patsearch",
			Name:      "search_keyword_queries_total",
			Help:      "Total number of per-keyword vector queries",
		},
		[]string{"status"}, // "ok" / "error"
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "patsearch",
			Name:      "search_duration_seconds",
			Help:      "End-to-end search aggregation duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers Prometheus search metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchKeywordQueriesTotal)
	prometheus.MustRegister(SearchDuration)
	searchMetricsRegistered = true
}
