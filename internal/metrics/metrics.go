package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchTotal counts search requests by outcome.
	SearchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "espg_search_requests_total",
			Help: "Total number of search requests",
		},
		[]string{"path", "status"},
	)
	// SearchDuration is the end-to-end latency of a search.
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "espg_search_duration_seconds",
			Help:    "Search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
	// AggregationDuration times each evaluated aggregation node.
	AggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "espg_aggregation_node_duration_seconds",
			Help:    "Time spent evaluating one aggregation node including its children",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
	// TempRelationsCreated counts temporary relations materialized.
	TempRelationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "espg_temp_relations_created_total",
			Help: "Total number of temporary relations created",
		},
	)
	// TempRelationsActive is the number of temporary relations not yet
	// dropped. It returns to its previous value after every request.
	TempRelationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "espg_temp_relations_active",
			Help: "Temporary relations currently alive",
		},
	)
	// SessionsDiscarded counts connections closed because cleanup failed.
	SessionsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "espg_sessions_discarded_total",
			Help: "Pinned connections closed instead of returned to the pool",
		},
	)
)
