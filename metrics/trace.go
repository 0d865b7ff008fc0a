package metrics

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"go.uber.org/zap"
)

// QueryTrace records the complete timeline of a single pipeline run.
// It is filled in as stages complete and emitted once as a structured
// log line; emission is fire-and-forget and never affects the run.
type QueryTrace struct {
	QueryID     string    `json:"query_id"`
	QueryDigest string    `json:"query_digest"`
	Timestamp   time.Time `json:"timestamp"`

	QueryType     string `json:"query_type,omitempty"`
	ProfileName   string `json:"profile_name,omitempty"`
	SubQueryCount int    `json:"sub_query_count,omitempty"`
	PlanOutcome   string `json:"plan_outcome,omitempty"`
	DecomposeMs   int64  `json:"decompose_ms,omitempty"`

	SignalStats    map[string]SignalStats `json:"signal_stats,omitempty"`
	TotalRetrieved int                    `json:"total_retrieved"`
	SignalsSkipped []string               `json:"signals_skipped,omitempty"`

	FusionStrategy    string `json:"fusion_strategy,omitempty"`
	FusionResultCount int    `json:"fusion_result_count"`
	FusionMs          int64  `json:"fusion_ms,omitempty"`

	RerankMethod      string  `json:"rerank_method,omitempty"`
	RerankMs          int64   `json:"rerank_ms,omitempty"`
	RerankResultCount int     `json:"rerank_result_count,omitempty"`
	MeanConfidence    float64 `json:"mean_confidence,omitempty"`
	ScoreImprovement  float64 `json:"score_improvement,omitempty"`

	TotalMs  int64  `json:"total_ms"`
	Degraded bool   `json:"degraded"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// SignalStats aggregates per-method retrieval figures across sub-queries.
type SignalStats struct {
	Method      string  `json:"method"`
	Calls       int     `json:"calls"`
	LatencyMs   int64   `json:"latency_ms"`
	ResultCount int     `json:"result_count"`
	AvgScore    float64 `json:"avg_score"`
	TopScore    float64 `json:"top_score"`
	Failures    int     `json:"failures,omitempty"`
}

// NewQueryTrace starts a trace for the given query. The raw query text
// is never stored; only a short digest travels with the trace.
func NewQueryTrace(queryID, query string) *QueryTrace {
	return &QueryTrace{
		QueryID:     queryID,
		QueryDigest: QueryDigest(query),
		Timestamp:   time.Now(),
		SignalStats: make(map[string]SignalStats),
	}
}

// QueryDigest returns a short stable digest of the query text.
func QueryDigest(query string) string {
	sum := sha1.Sum([]byte(query))
	return hex.EncodeToString(sum[:8])
}

// AddSignalStats merges per-call stats into the running figures for a method.
func (t *QueryTrace) AddSignalStats(stats SignalStats) {
	if t.SignalStats == nil {
		t.SignalStats = make(map[string]SignalStats)
	}
	key := stats.Method
	if existing, ok := t.SignalStats[key]; ok {
		existing.Calls += stats.Calls
		existing.LatencyMs += stats.LatencyMs
		existing.ResultCount += stats.ResultCount
		existing.Failures += stats.Failures
		if stats.TopScore > existing.TopScore {
			existing.TopScore = stats.TopScore
		}
		existing.AvgScore = (existing.AvgScore + stats.AvgScore) / 2
		t.SignalStats[key] = existing
	} else {
		t.SignalStats[key] = stats
	}
	t.TotalRetrieved += stats.ResultCount
}

// AddSkippedSignal records a retrieval method that was not attempted.
func (t *QueryTrace) AddSkippedSignal(method string) {
	t.SignalsSkipped = append(t.SignalsSkipped, method)
}

// RecordPlan records the classified type and decomposition shape.
func (t *QueryTrace) RecordPlan(queryType, outcome string, subQueries int) {
	t.QueryType = queryType
	t.PlanOutcome = outcome
	t.SubQueryCount = subQueries
}

// RecordFusion records the fusion stage figures.
func (t *QueryTrace) RecordFusion(strategy string, resultCount int, elapsed time.Duration) {
	t.FusionStrategy = strategy
	t.FusionResultCount = resultCount
	t.FusionMs = elapsed.Milliseconds()
}

// RecordRerank records the rerank stage figures.
func (t *QueryTrace) RecordRerank(method string, resultCount int, meanConfidence, improvement float64, elapsed time.Duration) {
	t.RerankMethod = method
	t.RerankResultCount = resultCount
	t.MeanConfidence = meanConfidence
	t.ScoreImprovement = improvement
	t.RerankMs = elapsed.Milliseconds()
}

// Finish stamps the total latency and emits the trace as one log line.
func (t *QueryTrace) Finish(logger *zap.Logger) {
	if logger == nil {
		return
	}
	t.TotalMs = time.Since(t.Timestamp).Milliseconds()
	fields := []zap.Field{
		zap.String("query_id", t.QueryID),
		zap.String("query_digest", t.QueryDigest),
		zap.String("query_type", t.QueryType),
		zap.String("plan_outcome", t.PlanOutcome),
		zap.Int("sub_query_count", t.SubQueryCount),
		zap.Int64("decompose_ms", t.DecomposeMs),
		zap.Int("total_retrieved", t.TotalRetrieved),
		zap.String("fusion_strategy", t.FusionStrategy),
		zap.Int("fusion_result_count", t.FusionResultCount),
		zap.Int64("fusion_ms", t.FusionMs),
		zap.String("rerank_method", t.RerankMethod),
		zap.Int("rerank_result_count", t.RerankResultCount),
		zap.Int64("rerank_ms", t.RerankMs),
		zap.Float64("mean_confidence", t.MeanConfidence),
		zap.Float64("score_improvement", t.ScoreImprovement),
		zap.Bool("degraded", t.Degraded),
		zap.Int64("total_ms", t.TotalMs),
		zap.Any("signal_stats", t.SignalStats),
	}
	if t.ProfileName != "" {
		fields = append(fields, zap.String("profile", t.ProfileName))
	}
	if len(t.SignalsSkipped) > 0 {
		fields = append(fields, zap.Strings("signals_skipped", t.SignalsSkipped))
	}
	if t.ErrorMsg != "" {
		fields = append(fields, zap.String("error", t.ErrorMsg))
	}
	logger.Info("query trace", fields...)
}
