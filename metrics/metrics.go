package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	stageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "braid_stage_latency_ms",
		Help:    "Latency of pipeline stages in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 75, 100, 150, 200, 300, 500, 800, 1200, 2000, 5000},
	}, []string{"stage"})

	signalLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "braid_signal_latency_ms",
		Help:    "Latency of retrieval signal calls in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 75, 100, 150, 200, 300, 500, 800, 1200},
	}, []string{"method"})

	signalResults = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "braid_signal_results",
		Help:    "Number of results returned by a retrieval signal",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	}, []string{"method"})

	fusionInputs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "braid_fusion_input_lists",
		Help:    "Number of ranked lists fused per sub-query",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 12},
	})

	queryType = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "braid_query_type_total",
		Help: "Classified query type count",
	}, []string{"type"})

	decompositionOutcome = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "braid_decomposition_outcome_total",
		Help: "Decomposition outcome count (templated/provider_parsed/fallback)",
	}, []string{"outcome"})

	rerankFallback = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "braid_rerank_fallback_total",
		Help: "Rerank calls that fell back to fused order",
	}, []string{"method"})

	degradedRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "braid_degraded_runs_total",
		Help: "Pipeline runs that completed with partial results",
	})

	cacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "braid_cache_events_total",
		Help: "Cache hits and misses by cache name",
	}, []string{"cache", "event"})

	rerankImprovement = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "braid_rerank_improvement",
		Help:    "Aggregate rerank score improvement over fused order",
		Buckets: []float64{-0.5, -0.2, -0.1, 0, 0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0},
	})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(stageLatency, signalLatency, signalResults, fusionInputs,
			queryType, decompositionOutcome, rerankFallback, degradedRuns, cacheEvents, rerankImprovement)
	})
}

// ObserveStage records the latency of a pipeline stage.
func ObserveStage(stage string, start time.Time) {
	ensureRegistered()
	stageLatency.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
}

// ObserveSignal records latency and result size for a retrieval method.
func ObserveSignal(method string, start time.Time, results int) {
	ensureRegistered()
	signalLatency.WithLabelValues(method).Observe(float64(time.Since(start).Milliseconds()))
	signalResults.WithLabelValues(method).Observe(float64(results))
}

// ObserveFusion records how many lists were fused.
func ObserveFusion(n int) {
	ensureRegistered()
	fusionInputs.Observe(float64(n))
}

// IncQueryType increments the classified-type counter.
func IncQueryType(t string) {
	ensureRegistered()
	queryType.WithLabelValues(t).Inc()
}

// IncDecompositionOutcome records how a decomposition was produced.
func IncDecompositionOutcome(outcome string) {
	ensureRegistered()
	decompositionOutcome.WithLabelValues(outcome).Inc()
}

// IncRerankFallback records a rerank call that degraded to fused order.
func IncRerankFallback(method string) {
	ensureRegistered()
	rerankFallback.WithLabelValues(method).Inc()
}

// IncDegradedRun records a run that returned partial results.
func IncDegradedRun() {
	ensureRegistered()
	degradedRuns.Inc()
}

// IncCacheHit records a cache hit for the named cache.
func IncCacheHit(cache string) {
	ensureRegistered()
	cacheEvents.WithLabelValues(cache, "hit").Inc()
}

// IncCacheMiss records a cache miss for the named cache.
func IncCacheMiss(cache string) {
	ensureRegistered()
	cacheEvents.WithLabelValues(cache, "miss").Inc()
}

// ObserveRerankImprovement records the aggregate score delta of a rerank pass.
func ObserveRerankImprovement(delta float64) {
	ensureRegistered()
	rerankImprovement.Observe(delta)
}

// Collectors exposes all collectors for external registration with a custom registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		stageLatency, signalLatency, signalResults, fusionInputs,
		queryType, decompositionOutcome, rerankFallback, degradedRuns, cacheEvents, rerankImprovement,
	}
}
