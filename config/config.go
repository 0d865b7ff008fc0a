// Package config defines the pipeline configuration tree, YAML loading with
// environment expansion, defaults, and construction-time validation.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the retrieval pipeline.
type Config struct {
	Indexes   IndexesConfig   `json:"indexes" yaml:"indexes"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	VectorDB  VectorDBConfig  `json:"vectordb,omitempty" yaml:"vectordb,omitempty"`
	Plan      PlanConfig      `json:"plan" yaml:"plan"`
	Fusion    FusionConfig    `json:"fusion" yaml:"fusion"`
	Rerank    RerankConfig    `json:"rerank" yaml:"rerank"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	// Profiles select per-query-type retrieval behavior. The first profile
	// whose QueryTypes contains the classified type wins; absent a match the
	// scheduler uses the built-in default.
	Profiles []Profile         `json:"profiles,omitempty" yaml:"profiles,omitempty"`
	Cache    CacheConfig       `json:"cache" yaml:"cache"`
	HTTP     HTTPClientConfig  `json:"http" yaml:"http"`
	Logging  LoggingConfig     `json:"logging" yaml:"logging"`
}

// IndexesConfig holds per-signal index settings.
type IndexesConfig struct {
	Lexical LexicalConfig `json:"lexical" yaml:"lexical"`
	Dense   DenseConfig   `json:"dense" yaml:"dense"`
	Sparse  SparseConfig  `json:"sparse" yaml:"sparse"`
	// SnapshotURL is the base location for index snapshots, any scheme the
	// storage layer understands (file:///var/lib/braid, s3://bucket/prefix).
	// Save and load fail when unset.
	SnapshotURL string `json:"snapshot_url,omitempty" yaml:"snapshot_url,omitempty"`
}

// LexicalConfig configures the BM25 inverted index.
type LexicalConfig struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// K1 and B are the BM25 saturation and length-normalization constants.
	K1 float64 `json:"k1,omitempty" yaml:"k1,omitempty"`
	B  float64 `json:"b,omitempty" yaml:"b,omitempty"`
	// RemoveStopwords drops common English stopwords during tokenization.
	RemoveStopwords *bool `json:"remove_stopwords,omitempty" yaml:"remove_stopwords,omitempty"`
}

// DenseConfig configures embedding-based nearest-neighbor search.
type DenseConfig struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Similarity: "cosine" (default) or "ip".
	Similarity string `json:"similarity,omitempty" yaml:"similarity,omitempty"`
	// Store: "memory" (default, snapshot-capable) or "milvus".
	Store string `json:"store,omitempty" yaml:"store,omitempty"`
}

// SparseConfig configures the optional learned sparse-term index. The
// pipeline runs without it whenever it is disabled or the encoder endpoint
// is unset.
type SparseConfig struct {
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Endpoint of the sparse encoder service (text -> indices/values).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// EmbeddingConfig configures the dense embedding provider.
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider"` // "openai" or any OpenAI-compatible endpoint
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	TimeoutMs  int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	// Cache enables the LRU+TTL embedding cache decorator.
	Cache CacheLayerConfig `json:"cache,omitempty" yaml:"cache,omitempty"`
}

// LLMConfig configures the completion provider used by decomposition and
// LLM reranking. An empty provider disables both LLM paths; the pipeline
// then always takes the documented fallbacks.
type LLMConfig struct {
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty"`
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TimeoutMs   int     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// VectorDBConfig configures the external Milvus vector store, used only
// when indexes.dense.store is "milvus".
type VectorDBConfig struct {
	Host       string `json:"host,omitempty" yaml:"host,omitempty"`
	Port       int    `json:"port,omitempty" yaml:"port,omitempty"`
	Database   string `json:"database,omitempty" yaml:"database,omitempty"`
	Collection string `json:"collection,omitempty" yaml:"collection,omitempty"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	// MetricType: "COSINE" (default), "IP" or "L2".
	MetricType string `json:"metric_type,omitempty" yaml:"metric_type,omitempty"`
}

// PlanConfig configures classification and decomposition.
type PlanConfig struct {
	// MaxSubQueries caps LLM decomposition output. Hard ceiling 5.
	MaxSubQueries int `json:"max_sub_queries,omitempty" yaml:"max_sub_queries,omitempty"`
	// Templates enables template decomposition per query type. Types absent
	// from the map keep their defaults: comparative and multi_hop on,
	// aggregation/temporal/conditional off (those defer to the LLM).
	Templates map[string]bool `json:"templates,omitempty" yaml:"templates,omitempty"`
	// UseLLM enables the LLM decomposition fallback when templates miss.
	UseLLM *bool `json:"use_llm,omitempty" yaml:"use_llm,omitempty"`
	// SimpleMaxWords is the word-count bound of the Simple heuristic.
	SimpleMaxWords int `json:"simple_max_words,omitempty" yaml:"simple_max_words,omitempty"`
	// PromptBudgetTokens bounds the decomposition prompt. Zero applies
	// the default; a negative value disables the budget and skips the
	// tokenizer.
	PromptBudgetTokens int `json:"prompt_budget_tokens,omitempty" yaml:"prompt_budget_tokens,omitempty"`
	// Rewrite optionally fans each sub-query into surface variants.
	Rewrite RewriteConfig `json:"rewrite,omitempty" yaml:"rewrite,omitempty"`
}

// RewriteConfig controls deterministic sub-query rewriting.
type RewriteConfig struct {
	Enable bool `json:"enable,omitempty" yaml:"enable,omitempty"`
	// Variants: subset of {"lexical", "dense"}.
	Variants []string `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// FusionConfig selects and parameterizes the fusion strategy.
type FusionConfig struct {
	// Strategy: "rrf" (default), "weighted", "adaptive", "learned".
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	// RRFK is the reciprocal-rank smoothing constant.
	RRFK int `json:"rrf_k,omitempty" yaml:"rrf_k,omitempty"`
	// Weights are static per-signal weights for weighted fusion.
	Weights map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
	// Learned fusion: snapshot URI (file:// or http(s)://), cache TTL,
	// rollout percentage, and the strategy used off-rollout or on failure.
	WeightsURI     string `json:"weights_uri,omitempty" yaml:"weights_uri,omitempty"`
	RefreshSeconds int    `json:"refresh_seconds,omitempty" yaml:"refresh_seconds,omitempty"`
	TrafficPercent int    `json:"traffic_percent,omitempty" yaml:"traffic_percent,omitempty"`
	Fallback       string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// RerankConfig configures the reranking stage.
type RerankConfig struct {
	// Method: "cross_encoder" (default), "llm", or "hybrid".
	Method string `json:"method,omitempty" yaml:"method,omitempty"`
	TopK   int    `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	// ConfidenceThreshold filters reranked results; 0 keeps everything.
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty" yaml:"confidence_threshold,omitempty"`
	// CrossEncoder is the external pairwise scoring service.
	CrossEncoder CrossEncoderConfig `json:"cross_encoder,omitempty" yaml:"cross_encoder,omitempty"`
	// HybridWindow is the top-N slice handed to the LLM in hybrid mode.
	HybridWindow int `json:"hybrid_window,omitempty" yaml:"hybrid_window,omitempty"`
	// CrossWeight/LLMWeight blend scores inside the hybrid window.
	CrossWeight float64 `json:"cross_weight,omitempty" yaml:"cross_weight,omitempty"`
	LLMWeight   float64 `json:"llm_weight,omitempty" yaml:"llm_weight,omitempty"`
	// OmittedScore is assigned to candidates the LLM leaves out.
	OmittedScore float64 `json:"omitted_score,omitempty" yaml:"omitted_score,omitempty"`
	// ConfidenceMidpoint/ConfidenceSlope shape the logistic squash mapping
	// raw scores onto [0,1].
	ConfidenceMidpoint float64 `json:"confidence_midpoint,omitempty" yaml:"confidence_midpoint,omitempty"`
	ConfidenceSlope    float64 `json:"confidence_slope,omitempty" yaml:"confidence_slope,omitempty"`
	// PromptBudgetTokens bounds the LLM rerank prompt. Zero applies the
	// default; a negative value disables the budget and skips the
	// tokenizer entirely.
	PromptBudgetTokens int `json:"prompt_budget_tokens,omitempty" yaml:"prompt_budget_tokens,omitempty"`
	// Context assembles the final context string for Run.
	Context ContextConfig `json:"context,omitempty" yaml:"context,omitempty"`
}

// CrossEncoderConfig points at an HTTP scoring service. An empty endpoint
// means the capability is absent and cross_encoder reranking falls back.
type CrossEncoderConfig struct {
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// ContextConfig bounds the assembled context for aggregated results.
type ContextConfig struct {
	// MaxTokens bounds the assembled context. Zero applies the default;
	// a negative value disables the budget and skips the tokenizer.
	MaxTokens int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Encoding  string `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty"`
}

// SchedulerConfig bounds sub-query execution.
type SchedulerConfig struct {
	// Workers is the worker-pool size for concurrent sub-query dispatch.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`
	// SubQueryTimeoutMs caps each sub-query's retrieval fan-out.
	SubQueryTimeoutMs int `json:"sub_query_timeout_ms,omitempty" yaml:"sub_query_timeout_ms,omitempty"`
	// PerSignalTopK caps each signal's candidate list before fusion.
	PerSignalTopK int `json:"per_signal_top_k,omitempty" yaml:"per_signal_top_k,omitempty"`
}

// Profile overrides retrieval behavior for a set of query types.
type Profile struct {
	Name       string   `json:"name" yaml:"name"`
	QueryTypes []string `json:"query_types,omitempty" yaml:"query_types,omitempty"`
	// Signals: subset of {"bm25", "dense", "sparse"}; empty means all enabled.
	Signals       []string           `json:"signals,omitempty" yaml:"signals,omitempty"`
	TopK          int                `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	PerSignalTopK int                `json:"per_signal_top_k,omitempty" yaml:"per_signal_top_k,omitempty"`
	Fusion        string             `json:"fusion,omitempty" yaml:"fusion,omitempty"`
	Weights       map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// CacheConfig controls the query-result cache.
type CacheConfig struct {
	Results CacheLayerConfig `json:"results,omitempty" yaml:"results,omitempty"`
}

// CacheLayerConfig is one LRU+TTL cache layer.
type CacheLayerConfig struct {
	Enable     bool `json:"enable,omitempty" yaml:"enable,omitempty"`
	MaxEntries int  `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	TTLSeconds int  `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// HTTPClientConfig defines common options for outbound HTTP calls.
type HTTPClientConfig struct {
	TimeoutMs              int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retry                  int      `json:"retry,omitempty" yaml:"retry,omitempty"`
	BackoffMinMs           int      `json:"backoff_min_ms,omitempty" yaml:"backoff_min_ms,omitempty"`
	BackoffMaxMs           int      `json:"backoff_max_ms,omitempty" yaml:"backoff_max_ms,omitempty"`
	HostAllowlist          []string `json:"host_allowlist,omitempty" yaml:"host_allowlist,omitempty"`
	MaxConsecutiveFailures int      `json:"max_consecutive_failures,omitempty" yaml:"max_consecutive_failures,omitempty"`
	CircuitOpenSeconds     int      `json:"circuit_open_seconds,omitempty" yaml:"circuit_open_seconds,omitempty"`
}

// LoggingConfig selects the zap profile.
type LoggingConfig struct {
	// Env: "production" (default) or "development".
	Env   string `json:"env,omitempty" yaml:"env,omitempty"`
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars substitutes ${VAR} and ${VAR:-default} references.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def := expr, ""
		if idx := strings.Index(expr, ":-"); idx >= 0 {
			name, def = expr[:idx], expr[idx+2:]
		}
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		return []byte(def)
	})
}

// Load reads, expands, and parses the config file at path, then applies
// defaults. Validation is left to the caller so construction can fail fast
// with the full error list.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(expandEnvVars(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a fully defaulted configuration suitable for embedding
// the pipeline in-process. Providers are left unset: callers inject them.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

func boolPtr(b bool) *bool { return &b }

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Indexes.Lexical.Enabled == nil {
		c.Indexes.Lexical.Enabled = boolPtr(true)
	}
	if c.Indexes.Lexical.K1 == 0 {
		c.Indexes.Lexical.K1 = 1.2
	}
	if c.Indexes.Lexical.B == 0 {
		c.Indexes.Lexical.B = 0.75
	}
	if c.Indexes.Lexical.RemoveStopwords == nil {
		c.Indexes.Lexical.RemoveStopwords = boolPtr(true)
	}
	if c.Indexes.Dense.Enabled == nil {
		c.Indexes.Dense.Enabled = boolPtr(true)
	}
	if c.Indexes.Dense.Similarity == "" {
		c.Indexes.Dense.Similarity = "cosine"
	}
	if c.Indexes.Dense.Store == "" {
		c.Indexes.Dense.Store = "memory"
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.Embedding.TimeoutMs == 0 {
		c.Embedding.TimeoutMs = 10000
	}
	if c.Embedding.Cache.MaxEntries == 0 {
		c.Embedding.Cache.MaxEntries = 4096
	}
	if c.Embedding.Cache.TTLSeconds == 0 {
		c.Embedding.Cache.TTLSeconds = 3600
	}

	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.TimeoutMs == 0 {
		c.LLM.TimeoutMs = 15000
	}

	if c.VectorDB.Port == 0 {
		c.VectorDB.Port = 19530
	}
	if c.VectorDB.MetricType == "" {
		c.VectorDB.MetricType = "COSINE"
	}

	if c.Plan.MaxSubQueries == 0 {
		c.Plan.MaxSubQueries = 5
	}
	if c.Plan.UseLLM == nil {
		c.Plan.UseLLM = boolPtr(true)
	}
	if c.Plan.SimpleMaxWords == 0 {
		c.Plan.SimpleMaxWords = 12
	}
	if c.Plan.PromptBudgetTokens == 0 {
		c.Plan.PromptBudgetTokens = 1024
	}

	if c.Fusion.Strategy == "" {
		c.Fusion.Strategy = "rrf"
	}
	if c.Fusion.RRFK == 0 {
		c.Fusion.RRFK = 60
	}
	if c.Fusion.RefreshSeconds == 0 {
		c.Fusion.RefreshSeconds = 300
	}
	if c.Fusion.Fallback == "" {
		c.Fusion.Fallback = "rrf"
	}

	if c.Rerank.Method == "" {
		c.Rerank.Method = "cross_encoder"
	}
	if c.Rerank.TopK == 0 {
		c.Rerank.TopK = 10
	}
	if c.Rerank.HybridWindow == 0 {
		c.Rerank.HybridWindow = 20
	}
	if c.Rerank.CrossWeight == 0 {
		c.Rerank.CrossWeight = 0.7
	}
	if c.Rerank.LLMWeight == 0 {
		c.Rerank.LLMWeight = 0.3
	}
	if c.Rerank.OmittedScore == 0 {
		c.Rerank.OmittedScore = 0.1
	}
	if c.Rerank.ConfidenceMidpoint == 0 {
		c.Rerank.ConfidenceMidpoint = 0.5
	}
	if c.Rerank.ConfidenceSlope == 0 {
		c.Rerank.ConfidenceSlope = 4.0
	}
	if c.Rerank.PromptBudgetTokens == 0 {
		c.Rerank.PromptBudgetTokens = 2048
	}
	if c.Rerank.CrossEncoder.TimeoutMs == 0 {
		c.Rerank.CrossEncoder.TimeoutMs = 10000
	}
	if c.Rerank.Context.MaxTokens == 0 {
		c.Rerank.Context.MaxTokens = 2048
	}
	if c.Rerank.Context.Encoding == "" {
		c.Rerank.Context.Encoding = "cl100k_base"
	}
	if c.Rerank.Context.Separator == "" {
		c.Rerank.Context.Separator = "\n\n"
	}

	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = 4
	}
	if c.Scheduler.SubQueryTimeoutMs == 0 {
		c.Scheduler.SubQueryTimeoutMs = 8000
	}
	if c.Scheduler.PerSignalTopK == 0 {
		c.Scheduler.PerSignalTopK = 20
	}

	if c.Cache.Results.MaxEntries == 0 {
		c.Cache.Results.MaxEntries = 512
	}
	if c.Cache.Results.TTLSeconds == 0 {
		c.Cache.Results.TTLSeconds = 300
	}

	if c.HTTP.TimeoutMs == 0 {
		c.HTTP.TimeoutMs = 10000
	}
	if c.HTTP.Retry == 0 {
		c.HTTP.Retry = 2
	}
	if c.HTTP.BackoffMinMs == 0 {
		c.HTTP.BackoffMinMs = 100
	}
	if c.HTTP.BackoffMaxMs == 0 {
		c.HTTP.BackoffMaxMs = 800
	}
	if c.HTTP.MaxConsecutiveFailures == 0 {
		c.HTTP.MaxConsecutiveFailures = 5
	}
	if c.HTTP.CircuitOpenSeconds == 0 {
		c.HTTP.CircuitOpenSeconds = 30
	}

	if c.Logging.Env == "" {
		c.Logging.Env = "production"
	}
}

// TemplateEnabled reports whether template decomposition applies to the
// given query type. Comparative and multi-hop default on; the rest default
// off and defer to the LLM.
func (p PlanConfig) TemplateEnabled(queryType string) bool {
	if v, ok := p.Templates[queryType]; ok {
		return v
	}
	switch queryType {
	case "comparative", "multi_hop":
		return true
	default:
		return false
	}
}
