package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search and tool Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragtools",
			Name:      "search_requests_total",
			Help:      "Total number of k-NN search requests",
		},
		[]string{"collection", "status"},
	)

	SearchRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragtools",
			Name:      "search_request_duration_seconds",
			Help:      "k-NN search duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"collection"},
	)

	ToolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragtools",
			Name:      "tool_invocations_total",
			Help:      "Total tool invocations by outcome",
		},
		[]string{"tool", "outcome"}, // "ok" / "empty" / "failed"
	)

	ToolInvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragtools",
			Name:      "tool_invocation_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tool"},
	)

	MissingAssetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragtools",
			Name:      "missing_assets_total",
			Help:      "Image hits whose file was not found on disk",
		},
		[]string{"tool"},
	)
)

var registered bool

// RegisterMetrics registers embedding, search and tool metrics. Must be called once from main.
func RegisterMetrics() {
	if registered {
		return
	}
	prometheus.MustRegister(
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingTokensTotal,
		EmbeddingErrorsTotal,
		EmbeddingCacheTotal,
		IngestRecordsTotal,
		SearchRequestsTotal,
		SearchRequestDuration,
		ToolInvocationsTotal,
		ToolInvocationDuration,
		MissingAssetsTotal,
	)
	registered = true
}
