// Package orchestrator executes decomposition plans. Sub-queries are
// dispatched in dependency waves over a bounded worker pool; each one
// fans out to the enabled retrieval signals, fuses the ranked lists,
// and reranks the fused set. Results aggregate into a single ranked
// list with degraded-status reporting; the scheduler never fails a run.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/braidsearch/braid/common/httpx"
	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/fusion"
	"github.com/braidsearch/braid/index"
	"github.com/braidsearch/braid/metrics"
	"github.com/braidsearch/braid/plan"
	"github.com/braidsearch/braid/post"
	"github.com/braidsearch/braid/schema"
)

// Scheduler runs sub-queries against shared indexes. Index searches are
// read-only; the completed-set mutex is the only synchronization point
// between dependent sub-queries.
type Scheduler struct {
	cfg      *config.SchedulerConfig
	indexes  map[string]index.Index
	order    []string
	strategy fusion.Strategy
	reranker *post.Reranker
	profiles []profileRuntime
	logger   *zap.Logger

	traceMu sync.Mutex
}

// profileRuntime is a compiled retrieval profile: strategy resolved,
// query types lowered for lookup.
type profileRuntime struct {
	name          string
	queryTypes    map[string]bool
	signals       []string
	topK          int
	perSignalTopK int
	strategy      fusion.Strategy
}

// NewScheduler compiles the configured profiles and wires the shared
// stages. The http client is only needed when a profile selects learned
// fusion.
func NewScheduler(cfg *config.Config, indexes []index.Index, strategy fusion.Strategy, reranker *post.Reranker, httpClient *httpx.Client, logger *zap.Logger) (*Scheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if strategy == nil {
		return nil, fmt.Errorf("fusion strategy is required")
	}
	if reranker == nil {
		return nil, fmt.Errorf("reranker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:      &cfg.Scheduler,
		indexes:  make(map[string]index.Index, len(indexes)),
		strategy: strategy,
		reranker: reranker,
		logger:   logger.Named("orchestrator"),
	}
	for _, idx := range indexes {
		if idx == nil {
			continue
		}
		s.indexes[idx.Name()] = idx
		s.order = append(s.order, idx.Name())
	}
	if len(s.indexes) == 0 {
		return nil, fmt.Errorf("at least one index is required")
	}
	for i := range cfg.Profiles {
		rt, err := compileProfile(&cfg.Profiles[i], &cfg.Fusion, httpClient, logger)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", cfg.Profiles[i].Name, err)
		}
		s.profiles = append(s.profiles, rt)
	}
	return s, nil
}

func compileProfile(p *config.Profile, base *config.FusionConfig, httpClient *httpx.Client, logger *zap.Logger) (profileRuntime, error) {
	rt := profileRuntime{
		name:          p.Name,
		queryTypes:    make(map[string]bool, len(p.QueryTypes)),
		signals:       p.Signals,
		topK:          p.TopK,
		perSignalTopK: p.PerSignalTopK,
	}
	for _, qt := range p.QueryTypes {
		rt.queryTypes[strings.ToLower(strings.TrimSpace(qt))] = true
	}
	if p.Fusion != "" || len(p.Weights) > 0 {
		fc := *base
		if p.Fusion != "" {
			fc.Strategy = p.Fusion
		}
		if len(p.Weights) > 0 {
			fc.Strategy = firstNonEmpty(p.Fusion, "weighted")
			fc.Weights = p.Weights
		}
		strat, err := fusion.NewStrategy(&fc, httpClient, logger)
		if err != nil {
			return profileRuntime{}, err
		}
		rt.strategy = strat
	}
	return rt, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// selectProfile returns the first profile claiming the query type; the
// zero value means built-in defaults (every signal, scheduler bounds).
func (s *Scheduler) selectProfile(qtype schema.QueryType) profileRuntime {
	key := strings.ToLower(string(qtype))
	for _, p := range s.profiles {
		if p.queryTypes[key] {
			return p
		}
	}
	return profileRuntime{name: "default"}
}

// Execute runs every sub-query of the plan in dependency waves and
// aggregates the per-sub-query reranked lists into one. Sub-query
// failures degrade the result instead of failing it; only the plan
// itself is required.
func (s *Scheduler) Execute(ctx context.Context, dec *schema.DecompositionResult, topK int, trace *metrics.QueryTrace) *schema.AggregatedResult {
	start := time.Now()
	defer metrics.ObserveStage("execute", start)

	agg := &schema.AggregatedResult{
		Query:         dec.Query,
		Decomposition: dec,
		Results:       []schema.RerankedResult{},
		PerSubQuery:   make(map[string]int, len(dec.SubQueries)),
	}

	profile := s.selectProfile(dec.Type)
	if trace != nil {
		s.traceMu.Lock()
		trace.ProfileName = profile.name
		s.traceMu.Unlock()
	}

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)

	var (
		mu             sync.Mutex
		completed      = make(map[string]bool, len(dec.ExecutionOrder))
		perSub         = make(map[string][]schema.RerankedResult, len(dec.ExecutionOrder))
		failures       []string
		signalFailures int
	)

	pending := append([]string(nil), dec.ExecutionOrder...)
	for len(pending) > 0 {
		if ctx.Err() != nil {
			agg.Degraded = true
			failures = append(failures, fmt.Sprintf("deadline exceeded with %d sub-queries pending", len(pending)))
			break
		}

		// Every sub-query whose dependencies are all completed forms
		// the next wave.
		wave := make([]string, 0, len(pending))
		next := make([]string, 0, len(pending))
		mu.Lock()
		for _, id := range pending {
			if depsCompleted(dec.Dependencies[id], completed) {
				wave = append(wave, id)
			} else {
				next = append(next, id)
			}
		}
		mu.Unlock()
		if len(wave) == 0 {
			// Unreachable with a valid topological order.
			s.logger.Warn("no runnable sub-queries, dropping remainder", zap.Int("pending", len(next)))
			agg.Degraded = true
			failures = append(failures, fmt.Sprintf("%d sub-queries unrunnable", len(next)))
			break
		}

		var wg sync.WaitGroup
		for _, id := range wave {
			sq := dec.SubQueryByID(id)
			if sq == nil {
				mu.Lock()
				completed[id] = true
				mu.Unlock()
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(sq *schema.SubQuery) {
				defer wg.Done()
				defer func() { <-sem }()
				results, failed, err := s.runSubQuery(ctx, sq, profile, trace)
				mu.Lock()
				completed[sq.ID] = true
				perSub[sq.ID] = results
				signalFailures += failed
				if err != nil {
					failures = append(failures, fmt.Sprintf("%s: %v", sq.ID, err))
				}
				mu.Unlock()
			}(sq)
		}
		wg.Wait()
		pending = next
	}

	for id, results := range perSub {
		agg.PerSubQuery[id] = len(results)
	}
	agg.Results = aggregate(perSub, resolveLimit(topK, profile))
	if signalFailures > 0 {
		agg.Degraded = true
		failures = append(failures, fmt.Sprintf("%d signal calls failed", signalFailures))
	}
	if len(failures) > 0 {
		agg.Degraded = true
		agg.FailureReason = strings.Join(failures, "; ")
	}
	if agg.Degraded {
		metrics.IncDegradedRun()
	}
	agg.Elapsed = time.Since(start)
	return agg
}

func depsCompleted(deps []string, completed map[string]bool) bool {
	for _, d := range deps {
		if !completed[d] {
			return false
		}
	}
	return true
}

func resolveLimit(topK int, profile profileRuntime) int {
	if topK > 0 {
		return topK
	}
	if profile.topK > 0 {
		return profile.topK
	}
	return 10
}

// runSubQuery fans one sub-query out to the profile's signals, fuses the
// ranked lists, and reranks the fused set. Signal failures degrade to
// whatever the other signals returned and are reported in the count; the
// returned error marks the sub-query as failed only when nothing usable
// came back before its deadline.
func (s *Scheduler) runSubQuery(ctx context.Context, sq *schema.SubQuery, profile profileRuntime, trace *metrics.QueryTrace) ([]schema.RerankedResult, int, error) {
	timeout := time.Duration(s.cfg.SubQueryTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	signals := profile.signals
	if len(signals) == 0 {
		signals = s.order
	}
	perSignalTopK := profile.perSignalTopK
	if perSignalTopK <= 0 {
		perSignalTopK = s.cfg.PerSignalTopK
	}
	if perSignalTopK <= 0 {
		perSignalTopK = 20
	}

	var wg sync.WaitGroup
	resCh := make(chan fusion.RetrieverResult, len(signals))
	errCh := make(chan string, len(signals))
	for _, method := range signals {
		idx, ok := s.indexes[method]
		if !ok {
			s.recordSkip(trace, method)
			continue
		}
		wg.Add(1)
		go func(method string, idx index.Index, q string) {
			defer wg.Done()
			callStart := time.Now()
			results, err := idx.Search(qctx, q, perSignalTopK)
			metrics.ObserveSignal(method, callStart, len(results))
			if err != nil {
				s.logger.Warn("signal search failed",
					zap.String("signal", method),
					zap.String("sub_query", sq.ID),
					zap.Error(err))
				s.recordSignal(trace, metrics.SignalStats{
					Method:    method,
					Calls:     1,
					LatencyMs: time.Since(callStart).Milliseconds(),
					Failures:  1,
				})
				errCh <- method
				return
			}
			s.recordSignal(trace, signalStats(method, callStart, results))
			if len(results) > 0 {
				resCh <- fusion.RetrieverResult{Query: q, Method: method, Results: results}
			}
		}(method, idx, queryForSignal(sq, method))
	}
	wg.Wait()
	close(resCh)
	close(errCh)

	failed := 0
	for range errCh {
		failed++
	}
	inputs := make([]fusion.RetrieverResult, 0, len(signals))
	for rr := range resCh {
		inputs = append(inputs, rr)
	}
	metrics.ObserveFusion(len(inputs))

	strategy := profile.strategy
	if strategy == nil {
		strategy = s.strategy
	}
	fuseStart := time.Now()
	fused, err := strategy.Fuse(qctx, inputs)
	if err != nil {
		// Degrade to a plain best-score merge of the raw lists.
		s.logger.Warn("fusion failed, merging raw lists",
			zap.String("strategy", strategy.Name()),
			zap.String("sub_query", sq.ID),
			zap.Error(err))
		lists := make([][]schema.SearchResult, 0, len(inputs))
		for _, in := range inputs {
			lists = append(lists, in.Results)
		}
		fused = fusion.MergeBest(lists...)
	}
	if trace != nil {
		s.traceMu.Lock()
		trace.RecordFusion(strategy.Name(), len(fused), time.Since(fuseStart))
		s.traceMu.Unlock()
	}
	if len(fused) == 0 {
		if qctx.Err() != nil {
			return nil, failed, fmt.Errorf("sub-query timed out: %w", qctx.Err())
		}
		return nil, failed, nil
	}

	rerankStart := time.Now()
	reranked, err := s.reranker.Rerank(qctx, sq.Text, fused, "")
	if err != nil {
		return nil, failed, fmt.Errorf("rerank: %w", err)
	}
	if trace != nil {
		meanConf, improvement := post.Summarize(fused, reranked)
		s.traceMu.Lock()
		trace.RecordRerank(s.reranker.Method(), len(reranked), meanConf, improvement, time.Since(rerankStart))
		s.traceMu.Unlock()
	}
	return reranked, failed, nil
}

// queryForSignal prefers the planner's per-signal rewrite variant when
// one is attached. Sparse encoders take the original text.
func queryForSignal(sq *schema.SubQuery, method string) string {
	if sq.Metadata == nil {
		return sq.Text
	}
	var key string
	switch method {
	case schema.MethodBM25:
		key = plan.MetaRewriteLexical
	case schema.MethodDense:
		key = plan.MetaRewriteDense
	}
	if key != "" {
		if v, ok := sq.Metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return sq.Text
}

func (s *Scheduler) recordSignal(trace *metrics.QueryTrace, stats metrics.SignalStats) {
	if trace == nil {
		return
	}
	s.traceMu.Lock()
	trace.AddSignalStats(stats)
	s.traceMu.Unlock()
}

func (s *Scheduler) recordSkip(trace *metrics.QueryTrace, method string) {
	if trace == nil {
		return
	}
	s.traceMu.Lock()
	trace.AddSkippedSignal(method)
	s.traceMu.Unlock()
}

func signalStats(method string, start time.Time, results []schema.SearchResult) metrics.SignalStats {
	st := metrics.SignalStats{
		Method:      method,
		Calls:       1,
		LatencyMs:   time.Since(start).Milliseconds(),
		ResultCount: len(results),
	}
	if len(results) > 0 {
		var sum float64
		top := results[0].Score
		for _, r := range results {
			sum += r.Score
			if r.Score > top {
				top = r.Score
			}
		}
		st.AvgScore = sum / float64(len(results))
		st.TopScore = top
	}
	return st
}

// aggregate keeps each document's best rerank outcome across sub-queries
// with the union of contributing methods, ordered by descending rerank
// score, ties by ascending id, truncated to limit.
func aggregate(perSub map[string][]schema.RerankedResult, limit int) []schema.RerankedResult {
	best := make(map[string]schema.RerankedResult)
	for _, results := range perSub {
		for _, rr := range results {
			id := rr.Document.ID
			if id == "" {
				continue
			}
			existing, ok := best[id]
			if !ok {
				best[id] = rr
				continue
			}
			methods := unionMethods(existing.Methods, rr.Methods)
			if rr.RerankScore > existing.RerankScore {
				existing = rr
			}
			existing.Methods = methods
			best[id] = existing
		}
	}

	out := make([]schema.RerankedResult, 0, len(best))
	for _, rr := range best {
		out = append(out, rr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RerankScore == out[j].RerankScore {
			return out[i].Document.ID < out[j].Document.ID
		}
		return out[i].RerankScore > out[j].RerankScore
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func unionMethods(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, m := range list {
			if m == "" || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
