// Package braid is a hybrid retrieval-and-reranking pipeline: queries are
// classified and decomposed into dependency-ordered sub-queries, each
// sub-query fans out to lexical, dense and sparse signals, the ranked
// lists are fused and reranked, and the per-sub-query outcomes aggregate
// into one ranked list with an optional token-budgeted context string.
//
// Client is the embeddable entry point; cmd/braid exposes the same
// operations as MCP tools over stdio.
package braid

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/braidsearch/braid/cache"
	"github.com/braidsearch/braid/common/httpx"
	"github.com/braidsearch/braid/common/logging"
	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/embedding"
	"github.com/braidsearch/braid/fusion"
	"github.com/braidsearch/braid/index"
	"github.com/braidsearch/braid/llm"
	"github.com/braidsearch/braid/metrics"
	"github.com/braidsearch/braid/orchestrator"
	"github.com/braidsearch/braid/plan"
	"github.com/braidsearch/braid/post"
	"github.com/braidsearch/braid/schema"
	"github.com/braidsearch/braid/vectordb"
)

// Client wires the full pipeline behind a handful of operations. All
// methods are safe for concurrent use; construction fails fast on
// invalid configuration and never at query time.
type Client struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpClient *httpx.Client

	llmProvider llm.Provider
	embedder    embedding.Provider
	sparse      embedding.SparseProvider
	store       vectordb.Store

	decomposer *plan.Decomposer
	indexes    map[string]index.Index
	order      []string
	reranker   *post.Reranker
	scheduler  *orchestrator.Scheduler
	contexts   *post.ContextBuilder

	results    cache.Cache
	resultsTTL time.Duration
	revision   string
}

type options struct {
	logger   *zap.Logger
	llm      llm.Provider
	embedder embedding.Provider
	sparse   embedding.SparseProvider
	store    vectordb.Store
}

// Option overrides one injected dependency of New. Anything not
// overridden is built from config.
type Option func(*options)

// WithLogger injects the logger instead of building one from config.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// WithLLMProvider injects the completion provider used by decomposition
// and LLM reranking.
func WithLLMProvider(p llm.Provider) Option { return func(o *options) { o.llm = p } }

// WithEmbeddingProvider injects the dense embedding provider.
func WithEmbeddingProvider(p embedding.Provider) Option { return func(o *options) { o.embedder = p } }

// WithSparseProvider injects the sparse encoder provider.
func WithSparseProvider(p embedding.SparseProvider) Option { return func(o *options) { o.sparse = p } }

// WithVectorStore injects the dense vector store.
func WithVectorStore(s vectordb.Store) Option { return func(o *options) { o.store = s } }

// New builds a pipeline client from config. Providers left uninjected
// are constructed from their config sections; signals whose providers
// are absent are skipped, and at least one signal must remain.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg.ApplyDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Env, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	c := &Client{
		cfg:        cfg,
		logger:     logger.Named("braid"),
		httpClient: httpx.NewFromConfig(&cfg.HTTP, logger),
	}

	c.llmProvider = o.llm
	if c.llmProvider == nil && cfg.LLM.Provider != "" {
		p, err := llm.NewProvider(&cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("build llm provider: %w", err)
		}
		c.llmProvider = p
	}

	if err := c.buildIndexes(&o); err != nil {
		return nil, err
	}

	decomposer, err := plan.NewDecomposer(&cfg.Plan, c.llmProvider, logger)
	if err != nil {
		return nil, fmt.Errorf("build decomposer: %w", err)
	}
	c.decomposer = decomposer

	strategy, err := fusion.NewStrategy(&cfg.Fusion, c.httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("build fusion strategy: %w", err)
	}

	reranker, err := post.NewReranker(&cfg.Rerank, c.llmProvider, c.httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("build reranker: %w", err)
	}
	c.reranker = reranker

	indexes := make([]index.Index, 0, len(c.order))
	for _, name := range c.order {
		indexes = append(indexes, c.indexes[name])
	}
	scheduler, err := orchestrator.NewScheduler(cfg, indexes, strategy, reranker, c.httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	c.scheduler = scheduler

	contexts, err := post.NewContextBuilder(&cfg.Rerank.Context)
	if err != nil {
		return nil, fmt.Errorf("build context builder: %w", err)
	}
	c.contexts = contexts

	if cfg.Cache.Results.Enable {
		c.resultsTTL = time.Duration(cfg.Cache.Results.TTLSeconds) * time.Second
		c.results = cache.NewLRU(cfg.Cache.Results.MaxEntries, c.resultsTTL)
	}
	c.revision = fmt.Sprintf("%s|%s|%d", cfg.Fusion.Strategy, cfg.Rerank.Method, cfg.Rerank.TopK)

	c.logger.Info("pipeline ready",
		zap.Strings("signals", c.order),
		zap.String("fusion", cfg.Fusion.Strategy),
		zap.String("rerank", cfg.Rerank.Method),
		zap.Bool("llm", c.llmProvider != nil),
		zap.Bool("result_cache", c.results != nil))
	return c, nil
}

// buildIndexes constructs every enabled signal whose providers are
// available. Sparse quietly stays off without an encoder endpoint; dense
// without an embedder is a configuration error only when explicitly
// enabled.
func (c *Client) buildIndexes(o *options) error {
	cfg := c.cfg
	c.indexes = make(map[string]index.Index, 3)

	add := func(idx index.Index) {
		c.indexes[idx.Name()] = idx
		c.order = append(c.order, idx.Name())
	}

	if cfg.Indexes.Lexical.Enabled == nil || *cfg.Indexes.Lexical.Enabled {
		removeStop := cfg.Indexes.Lexical.RemoveStopwords == nil || *cfg.Indexes.Lexical.RemoveStopwords
		add(index.NewLexicalIndex(cfg.Indexes.Lexical.K1, cfg.Indexes.Lexical.B, removeStop))
	}

	if cfg.Indexes.Dense.Enabled == nil || *cfg.Indexes.Dense.Enabled {
		c.embedder = o.embedder
		if c.embedder == nil {
			p, err := embedding.NewProvider(&cfg.Embedding, c.logger)
			if err != nil {
				return fmt.Errorf("build embedding provider: %w", err)
			}
			c.embedder = p
		}
		store, err := c.buildStore(o)
		if err != nil {
			return err
		}
		c.store = store
		dense, err := index.NewDenseIndex(c.embedder, store)
		if err != nil {
			return fmt.Errorf("build dense index: %w", err)
		}
		add(dense)
	}

	if cfg.Indexes.Sparse.Enabled {
		c.sparse = o.sparse
		if c.sparse == nil && cfg.Indexes.Sparse.Endpoint != "" {
			c.sparse = embedding.NewHTTPSparseProvider(
				cfg.Indexes.Sparse.Endpoint,
				cfg.Indexes.Sparse.Model,
				cfg.Indexes.Sparse.APIKey,
				c.httpClient,
				c.logger,
			)
		}
		if c.sparse == nil {
			c.logger.Info("sparse signal disabled, no encoder endpoint configured")
		} else {
			sparse, err := index.NewSparseIndex(c.sparse)
			if err != nil {
				return fmt.Errorf("build sparse index: %w", err)
			}
			add(sparse)
		}
	}

	if len(c.indexes) == 0 {
		return fmt.Errorf("no retrieval signal enabled")
	}
	return nil
}

func (c *Client) buildStore(o *options) (vectordb.Store, error) {
	if o.store != nil {
		return o.store, nil
	}
	switch c.cfg.Indexes.Dense.Store {
	case "", "memory":
		return vectordb.NewMemoryStore(c.cfg.Indexes.Dense.Similarity)
	case "milvus":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return vectordb.NewMilvusStore(ctx, &c.cfg.VectorDB, c.cfg.Embedding.Dimensions, c.logger)
	default:
		return nil, fmt.Errorf("unsupported dense store: %s", c.cfg.Indexes.Dense.Store)
	}
}

// Decompose classifies the query and returns its execution plan. The
// plan always comes back usable; provider trouble is reflected in its
// Outcome, never as an error.
func (c *Client) Decompose(ctx context.Context, query string) (*schema.DecompositionResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	start := time.Now()
	defer metrics.ObserveStage("decompose", start)
	return c.decomposer.Decompose(ctx, query), nil
}

// Search runs one retrieval signal directly. Unknown methods are a
// caller error; a known method whose signal is not enabled reports
// which signals are.
func (c *Client) Search(ctx context.Context, query, method string, topK int) ([]schema.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	switch method {
	case schema.MethodBM25, schema.MethodDense, schema.MethodSparse:
	default:
		return nil, schema.UnknownMethod("search method", method,
			schema.MethodBM25, schema.MethodDense, schema.MethodSparse)
	}
	idx, ok := c.indexes[method]
	if !ok {
		return nil, fmt.Errorf("signal %q not enabled (have %s)", method, strings.Join(c.order, ", "))
	}
	if topK <= 0 {
		topK = 10
	}
	start := time.Now()
	results, err := idx.Search(ctx, query, topK)
	metrics.ObserveSignal(method, start, len(results))
	return results, err
}

// Rerank reorders candidates for the query with the given method, or
// the configured one when method is empty.
func (c *Client) Rerank(ctx context.Context, query string, results []schema.SearchResult, method string) ([]schema.RerankedResult, error) {
	return c.reranker.Rerank(ctx, query, results, method)
}

// Run executes the full pipeline: decompose, retrieve per sub-query,
// fuse, rerank, aggregate. It degrades instead of failing; the only
// errors are empty input and a cancelled context before any work.
func (c *Client) Run(ctx context.Context, query string, topK int) (*schema.AggregatedResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	start := time.Now()
	defer metrics.ObserveStage("run", start)

	key := c.cacheKey(query, topK)
	if c.results != nil {
		if v, ok := c.results.Get(key); ok {
			metrics.IncCacheHit("results")
			return cloneAggregated(v.(*schema.AggregatedResult)), nil
		}
		metrics.IncCacheMiss("results")
	}

	trace := metrics.NewQueryTrace(uuid.NewString(), query)

	decomposeStart := time.Now()
	dec := c.decomposer.Decompose(ctx, query)
	metrics.ObserveStage("decompose", decomposeStart)
	trace.DecomposeMs = time.Since(decomposeStart).Milliseconds()
	trace.RecordPlan(string(dec.Type), string(dec.Outcome), len(dec.SubQueries))

	agg := c.scheduler.Execute(ctx, dec, topK, trace)
	agg.Context = c.contexts.Build(agg.Results)

	trace.Degraded = agg.Degraded
	if agg.FailureReason != "" {
		trace.ErrorMsg = agg.FailureReason
	}
	trace.Finish(c.logger)

	if c.results != nil && !agg.Degraded {
		c.results.Set(key, cloneAggregated(agg), c.resultsTTL)
	}
	return agg, nil
}

// AddDocuments indexes the batch into every enabled signal and returns
// how many documents were accepted. The signals stay consistent: a
// failing signal aborts the batch with its name in the error.
func (c *Client) AddDocuments(ctx context.Context, docs []schema.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	for i, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return 0, fmt.Errorf("document %d has no id", i)
		}
	}
	start := time.Now()
	defer metrics.ObserveStage("ingest", start)

	for _, name := range c.order {
		if _, err := c.indexes[name].AddDocuments(ctx, docs); err != nil {
			return 0, fmt.Errorf("add to %s index: %w", name, err)
		}
	}
	c.logger.Info("documents indexed",
		zap.Int("count", len(docs)),
		zap.Strings("signals", c.order))
	return len(docs), nil
}

// SaveIndexes snapshots every signal under the configured snapshot URL.
func (c *Client) SaveIndexes(ctx context.Context) error {
	base := c.cfg.Indexes.SnapshotURL
	if base == "" {
		return fmt.Errorf("indexes.snapshot_url is not configured")
	}
	for _, name := range c.order {
		if err := c.indexes[name].Save(ctx, base); err != nil {
			return fmt.Errorf("save %s index: %w", name, err)
		}
	}
	return nil
}

// LoadIndexes restores every signal from the configured snapshot URL. A
// signal that fails to load is reported and left empty; the remaining
// signals stay usable.
func (c *Client) LoadIndexes(ctx context.Context) error {
	base := c.cfg.Indexes.SnapshotURL
	if base == "" {
		return fmt.Errorf("indexes.snapshot_url is not configured")
	}
	var failed []string
	for _, name := range c.order {
		if err := c.indexes[name].Load(ctx, base); err != nil {
			c.logger.Warn("index load failed", zap.String("signal", name), zap.Error(err))
			failed = append(failed, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("load indexes: %s: %w", strings.Join(failed, "; "), schema.ErrIndex)
	}
	return nil
}

// ClearIndexes drops every signal's documents.
func (c *Client) ClearIndexes(ctx context.Context) error {
	for _, name := range c.order {
		if err := c.indexes[name].Clear(ctx); err != nil {
			return fmt.Errorf("clear %s index: %w", name, err)
		}
	}
	if c.results != nil {
		c.results.Purge()
	}
	return nil
}

// Stats reports the document count per enabled signal.
func (c *Client) Stats() map[string]int {
	stats := make(map[string]int, len(c.indexes))
	for name, idx := range c.indexes {
		stats[name] = idx.Size()
	}
	return stats
}

// Close releases the vector store connection.
func (c *Client) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func (c *Client) cacheKey(query string, topK int) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	base := fmt.Sprintf("%s|%d|%s", normalized, topK, c.revision)
	sum := sha1.Sum([]byte(base))
	return hex.EncodeToString(sum[:])
}

// cloneAggregated copies the cached value deep enough that callers
// cannot mutate cache state through documents or methods slices.
func cloneAggregated(in *schema.AggregatedResult) *schema.AggregatedResult {
	out := &schema.AggregatedResult{
		Query:         in.Query,
		Decomposition: in.Decomposition,
		Results:       make([]schema.RerankedResult, len(in.Results)),
		PerSubQuery:   make(map[string]int, len(in.PerSubQuery)),
		Context:       in.Context,
		Degraded:      in.Degraded,
		FailureReason: in.FailureReason,
		Elapsed:       in.Elapsed,
	}
	for i, r := range in.Results {
		out.Results[i] = schema.RerankedResult{
			SearchResult: schema.SearchResult{
				Document: schema.CloneDocument(r.Document),
				Score:    r.Score,
			},
			RerankScore: r.RerankScore,
			Confidence:  r.Confidence,
			Method:      r.Method,
		}
		if r.Methods != nil {
			out.Results[i].Methods = append([]string(nil), r.Methods...)
		}
	}
	for k, v := range in.PerSubQuery {
		out.PerSubQuery[k] = v
	}
	return out
}
