// Package metrics provides Prometheus instrumentation for the memory
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MemoriesIngested counts ingestion outcomes.
	// Labels: result (persisted, deduplicated, rejected)
	MemoriesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "ingest",
			Name:      "memories_total",
			Help:      "Total memory candidates processed by ingestion outcome",
		},
		[]string{"result"},
	)

	// IngestDuration tracks end-to-end add latency.
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of add operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// SearchDuration tracks semantic search latency.
	// Labels: reranker (store, local)
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Duration of search operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"reranker"},
	)

	// SearchHits tracks how many hits each search returned.
	SearchHits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "search",
			Name:      "hits",
			Help:      "Number of hits returned per search",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)

	// EmbedBatchSize tracks how many texts each embedding call carried.
	EmbedBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "embeddings",
			Name:      "batch_size",
			Help:      "Number of texts per embedding request",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// LifecycleOperations counts update and delete operations.
	// Labels: operation (update, soft_delete, hard_delete), result (success, not_found, error)
	LifecycleOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Total memory lifecycle operations by outcome",
		},
		[]string{"operation", "result"},
	)

	// NormalizationFallbacks counts requests where the LLM reply was
	// unusable and the raw input was echoed through.
	NormalizationFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "normalize",
			Name:      "fallbacks_total",
			Help:      "Total normalization requests that fell back to the raw input",
		},
	)
)

// RecordIngest records one candidate's ingestion outcome.
func RecordIngest(result string) {
	MemoriesIngested.WithLabelValues(result).Inc()
}

// RecordLifecycle records one lifecycle operation outcome.
func RecordLifecycle(operation string, err error, found bool) {
	switch {
	case err != nil:
		LifecycleOperations.WithLabelValues(operation, "error").Inc()
	case !found:
		LifecycleOperations.WithLabelValues(operation, "not_found").Inc()
	default:
		LifecycleOperations.WithLabelValues(operation, "success").Inc()
	}
}
