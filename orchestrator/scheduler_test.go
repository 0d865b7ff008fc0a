package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/fusion"
	"github.com/braidsearch/braid/index"
	"github.com/braidsearch/braid/metrics"
	"github.com/braidsearch/braid/post"
	"github.com/braidsearch/braid/schema"
)

// stubIndex serves canned results keyed by query text and records the
// order queries arrive in.
type stubIndex struct {
	name    string
	results map[string][]schema.SearchResult
	err     error

	mu      sync.Mutex
	queries []string
}

func (s *stubIndex) Name() string { return s.name }

func (s *stubIndex) AddDocuments(ctx context.Context, docs []schema.Document) (int, error) {
	return len(docs), nil
}

func (s *stubIndex) Search(ctx context.Context, query string, topK int) ([]schema.SearchResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	res := s.results[query]
	if len(res) > topK {
		res = res[:topK]
	}
	return res, nil
}

func (s *stubIndex) Save(ctx context.Context, baseURL string) error { return nil }
func (s *stubIndex) Load(ctx context.Context, baseURL string) error { return nil }
func (s *stubIndex) Clear(ctx context.Context) error                { return nil }
func (s *stubIndex) Size() int                                      { return 0 }

func (s *stubIndex) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func hit(id string, score float64, method string) schema.SearchResult {
	return schema.SearchResult{
		Document: schema.Document{ID: id, Content: "content of " + id},
		Score:    score,
		Methods:  []string{method},
	}
}

func testScheduler(t *testing.T, cfg *config.Config, indexes ...index.Index) *Scheduler {
	t.Helper()
	rcfg := &config.RerankConfig{
		Method:             schema.RerankCrossEncoder,
		TopK:               10,
		ConfidenceMidpoint: 0.5,
		ConfidenceSlope:    4.0,
	}
	reranker, err := post.NewReranker(rcfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewReranker: %v", err)
	}
	s, err := NewScheduler(cfg, indexes, fusion.NewRRF(fusion.DefaultRRFK), reranker, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return s
}

func chainPlan() *schema.DecompositionResult {
	return &schema.DecompositionResult{
		Query: "one and two, then three",
		Type:  schema.QueryComparative,
		SubQueries: []schema.SubQuery{
			{ID: "sq1", Text: "one", Type: schema.QuerySimple},
			{ID: "sq2", Text: "two", Type: schema.QuerySimple},
			{ID: "sq3", Text: "three", Type: schema.QueryComparative, DependsOn: []string{"sq1", "sq2"}},
		},
		Dependencies:   map[string][]string{"sq1": {}, "sq2": {}, "sq3": {"sq1", "sq2"}},
		ExecutionOrder: []string{"sq1", "sq2", "sq3"},
	}
}

func TestScheduler_SimplePlan(t *testing.T) {
	idx := &stubIndex{name: schema.MethodBM25, results: map[string][]schema.SearchResult{
		"what is raft": {hit("a", 0.9, schema.MethodBM25), hit("b", 0.4, schema.MethodBM25)},
	}}
	s := testScheduler(t, config.Default(), idx)

	dec := &schema.DecompositionResult{
		Query:          "what is raft",
		Type:           schema.QuerySimple,
		SubQueries:     []schema.SubQuery{{ID: "sq1", Text: "what is raft", Type: schema.QuerySimple}},
		Dependencies:   map[string][]string{"sq1": {}},
		ExecutionOrder: []string{"sq1"},
		IsSimple:       true,
	}
	agg := s.Execute(context.Background(), dec, 5, nil)

	if agg.Degraded {
		t.Fatalf("unexpected degraded run: %s", agg.FailureReason)
	}
	if len(agg.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(agg.Results))
	}
	if agg.Results[0].Document.ID != "a" {
		t.Fatalf("expected a first, got %s", agg.Results[0].Document.ID)
	}
	if agg.PerSubQuery["sq1"] != 2 {
		t.Fatalf("per-sub-query count = %d, want 2", agg.PerSubQuery["sq1"])
	}
}

func TestScheduler_DependentsRunAfterDependencies(t *testing.T) {
	idx := &stubIndex{name: schema.MethodBM25, results: map[string][]schema.SearchResult{
		"one":   {hit("a", 0.9, schema.MethodBM25)},
		"two":   {hit("b", 0.8, schema.MethodBM25)},
		"three": {hit("c", 0.7, schema.MethodBM25)},
	}}
	s := testScheduler(t, config.Default(), idx)

	agg := s.Execute(context.Background(), chainPlan(), 10, nil)
	if agg.Degraded {
		t.Fatalf("unexpected degraded run: %s", agg.FailureReason)
	}

	seen := idx.seen()
	if len(seen) != 3 {
		t.Fatalf("expected 3 searches, got %d: %v", len(seen), seen)
	}
	if seen[2] != "three" {
		t.Fatalf("dependent ran before its dependencies: %v", seen)
	}
	if len(agg.Results) != 3 {
		t.Fatalf("expected 3 aggregated results, got %d", len(agg.Results))
	}
}

func TestScheduler_SignalFailureDegradesButReturns(t *testing.T) {
	broken := &stubIndex{name: schema.MethodBM25, err: fmt.Errorf("posting list corrupt: %w", schema.ErrIndex)}
	healthy := &stubIndex{name: schema.MethodDense, results: map[string][]schema.SearchResult{
		"q": {hit("a", 0.9, schema.MethodDense)},
	}}
	s := testScheduler(t, config.Default(), broken, healthy)

	dec := &schema.DecompositionResult{
		Query:          "q",
		Type:           schema.QuerySimple,
		SubQueries:     []schema.SubQuery{{ID: "sq1", Text: "q", Type: schema.QuerySimple}},
		Dependencies:   map[string][]string{"sq1": {}},
		ExecutionOrder: []string{"sq1"},
		IsSimple:       true,
	}
	agg := s.Execute(context.Background(), dec, 5, nil)

	if len(agg.Results) != 1 || agg.Results[0].Document.ID != "a" {
		t.Fatalf("expected the healthy signal's result, got %+v", agg.Results)
	}
	if !agg.Degraded {
		t.Fatal("signal failure must mark the run degraded")
	}
	if agg.FailureReason == "" {
		t.Fatal("degraded run must carry a failure reason")
	}
}

func TestScheduler_CancelledContextReturnsPartial(t *testing.T) {
	idx := &stubIndex{name: schema.MethodBM25}
	s := testScheduler(t, config.Default(), idx)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	agg := s.Execute(ctx, chainPlan(), 5, nil)

	if !agg.Degraded {
		t.Fatal("cancelled run must be degraded")
	}
	if agg.FailureReason == "" {
		t.Fatal("expected a failure reason naming pending sub-queries")
	}
	if len(agg.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(agg.Results))
	}
}

func TestScheduler_ProfileSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Profiles = []config.Profile{{
		Name:       "compare",
		QueryTypes: []string{"comparative"},
		Signals:    []string{schema.MethodBM25, schema.MethodSparse},
		TopK:       3,
	}}

	bm25 := &stubIndex{name: schema.MethodBM25, results: map[string][]schema.SearchResult{
		"one":   {hit("a", 0.9, schema.MethodBM25)},
		"two":   {hit("b", 0.8, schema.MethodBM25)},
		"three": {hit("c", 0.7, schema.MethodBM25)},
	}}
	dense := &stubIndex{name: schema.MethodDense}
	s := testScheduler(t, cfg, bm25, dense)

	trace := metrics.NewQueryTrace("t1", "one and two, then three")
	agg := s.Execute(context.Background(), chainPlan(), 0, trace)

	if agg.Degraded {
		t.Fatalf("unexpected degraded run: %s", agg.FailureReason)
	}
	if got := len(dense.seen()); got != 0 {
		t.Fatalf("profile excludes dense, but it saw %d queries", got)
	}
	if trace.ProfileName != "compare" {
		t.Fatalf("trace profile = %q, want compare", trace.ProfileName)
	}
	// sparse is named by the profile but no sparse index exists.
	if len(trace.SignalsSkipped) == 0 || trace.SignalsSkipped[0] != schema.MethodSparse {
		t.Fatalf("expected sparse to be recorded as skipped, got %v", trace.SignalsSkipped)
	}
	if len(agg.Results) != 3 {
		t.Fatalf("profile topK=3, got %d results", len(agg.Results))
	}
}

func TestScheduler_RewriteVariantRouting(t *testing.T) {
	idx := &stubIndex{name: schema.MethodBM25, results: map[string][]schema.SearchResult{
		"raft consensus": {hit("a", 0.9, schema.MethodBM25)},
	}}
	s := testScheduler(t, config.Default(), idx)

	dec := &schema.DecompositionResult{
		Query: "what is the raft consensus",
		Type:  schema.QuerySimple,
		SubQueries: []schema.SubQuery{{
			ID:       "sq1",
			Text:     "what is the raft consensus",
			Type:     schema.QuerySimple,
			Metadata: map[string]any{"rewrite_lexical": "raft consensus"},
		}},
		Dependencies:   map[string][]string{"sq1": {}},
		ExecutionOrder: []string{"sq1"},
		IsSimple:       true,
	}
	agg := s.Execute(context.Background(), dec, 5, nil)

	seen := idx.seen()
	if len(seen) != 1 || seen[0] != "raft consensus" {
		t.Fatalf("lexical signal did not receive the rewrite variant: %v", seen)
	}
	if len(agg.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(agg.Results))
	}
}

func TestAggregate_BestScoreAndMethodUnion(t *testing.T) {
	perSub := map[string][]schema.RerankedResult{
		"sq1": {{
			SearchResult: schema.SearchResult{Document: schema.Document{ID: "a"}, Methods: []string{schema.MethodBM25}},
			RerankScore:  0.4,
		}},
		"sq2": {
			{
				SearchResult: schema.SearchResult{Document: schema.Document{ID: "a"}, Methods: []string{schema.MethodDense}},
				RerankScore:  0.9,
			},
			{
				SearchResult: schema.SearchResult{Document: schema.Document{ID: "b"}, Methods: []string{schema.MethodDense}},
				RerankScore:  0.5,
			},
		},
	}

	out := aggregate(perSub, 10)
	if len(out) != 2 {
		t.Fatalf("expected 2 aggregated documents, got %d", len(out))
	}
	if out[0].Document.ID != "a" || out[0].RerankScore != 0.9 {
		t.Fatalf("best score not kept: %+v", out[0])
	}
	if len(out[0].Methods) != 2 {
		t.Fatalf("methods not unioned: %v", out[0].Methods)
	}
	if out[1].Document.ID != "b" {
		t.Fatalf("expected b second, got %s", out[1].Document.ID)
	}

	if got := aggregate(perSub, 1); len(got) != 1 {
		t.Fatalf("limit not applied: %d", len(got))
	}
}
