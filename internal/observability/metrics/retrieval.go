package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/retrieval-engine/internal/core/domain"
	"github.com/kirillkom/retrieval-engine/internal/core/ports"
)

// RetrievalMetrics records one observation per served retrieval. It hangs off
// the orchestrator as an observer, so the serving code never touches
// Prometheus types directly.
type RetrievalMetrics struct {
	requestsTotal     *prometheus.CounterVec
	cacheLookupsTotal *prometheus.CounterVec
	graphTotal        prometheus.Counter
	rerankTotal       *prometheus.CounterVec
	resultCount       *prometheus.HistogramVec
	duration          *prometheus.HistogramVec
}

func newRetrievalMetrics(registry *prometheus.Registry, service string) *RetrievalMetrics {
	constLabels := prometheus.Labels{"service": service}

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "requests_total",
			Help:        "Total served retrievals by mode.",
			ConstLabels: constLabels,
		},
		[]string{"mode"},
	)
	cacheLookupsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "cache_lookups_total",
			Help:        "Response cache lookups by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	graphTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "graph_enhanced_total",
			Help:        "Total retrievals enriched from the entity graph.",
			ConstLabels: constLabels,
		},
	)
	rerankTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "rerank_total",
			Help:        "Rerank passes by outcome (applied or skipped).",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	resultCount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "result_count",
			Help:        "Distribution of result counts per retrieval.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
			ConstLabels: constLabels,
		},
		[]string{"mode"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "duration_seconds",
			Help:        "End-to-end retrieval duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"mode", "cache"},
	)

	registry.MustRegister(requestsTotal, cacheLookupsTotal, graphTotal, rerankTotal, resultCount, duration)

	return &RetrievalMetrics{
		requestsTotal:     requestsTotal,
		cacheLookupsTotal: cacheLookupsTotal,
		graphTotal:        graphTotal,
		rerankTotal:       rerankTotal,
		resultCount:       resultCount,
		duration:          duration,
	}
}

var _ ports.RetrievalObserver = (*RetrievalMetrics)(nil)

func (m *RetrievalMetrics) ObserveRetrieval(_ context.Context, event domain.RetrievalEvent) {
	mode := string(event.Mode)
	m.requestsTotal.WithLabelValues(mode).Inc()
	m.resultCount.WithLabelValues(mode).Observe(float64(event.ResultCount))

	cacheOutcome := "miss"
	if event.CacheHit {
		cacheOutcome = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(cacheOutcome).Inc()
	m.duration.WithLabelValues(mode, cacheOutcome).Observe(event.DurationMS / 1000.0)

	if event.GraphEnhanced {
		m.graphTotal.Inc()
	}
	if event.Reranked {
		m.rerankTotal.WithLabelValues("applied").Inc()
	}
	if event.RerankSkipped {
		m.rerankTotal.WithLabelValues("skipped").Inc()
	}
}
