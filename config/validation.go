package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every failure found in one pass so operators
// fix the whole file at once.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("found %d configuration error(s):\n", len(errs)))
	for i, err := range errs {
		b.WriteString(fmt.Sprintf("  %d. [%s] %s\n", i+1, err.Field, err.Message))
	}
	return b.String()
}

// Validate checks the complete configuration. It is called once at
// construction; an invalid config never reaches query time.
func (c *Config) Validate() error {
	var errs ValidationErrors
	errs = append(errs, c.validateIndexes()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateFusion()...)
	errs = append(errs, c.validateRerank()...)
	errs = append(errs, c.validateScheduler()...)
	errs = append(errs, c.validateProfiles()...)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateIndexes() ValidationErrors {
	var errs ValidationErrors

	if c.Indexes.Lexical.K1 < 0 {
		errs = append(errs, ValidationError{
			Field:   "indexes.lexical.k1",
			Message: fmt.Sprintf("k1 must be non-negative, got %.2f", c.Indexes.Lexical.K1),
		})
	}
	if c.Indexes.Lexical.B < 0 || c.Indexes.Lexical.B > 1 {
		errs = append(errs, ValidationError{
			Field:   "indexes.lexical.b",
			Message: fmt.Sprintf("b must be in [0, 1], got %.2f", c.Indexes.Lexical.B),
		})
	}

	switch c.Indexes.Dense.Similarity {
	case "", "cosine", "ip":
	default:
		errs = append(errs, ValidationError{
			Field:   "indexes.dense.similarity",
			Message: fmt.Sprintf("similarity must be cosine or ip, got %q", c.Indexes.Dense.Similarity),
		})
	}
	switch c.Indexes.Dense.Store {
	case "", "memory":
	case "milvus":
		if c.VectorDB.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "vectordb.host",
				Message: "host is required when indexes.dense.store is milvus",
			})
		}
		if c.VectorDB.Collection == "" {
			errs = append(errs, ValidationError{
				Field:   "vectordb.collection",
				Message: "collection is required when indexes.dense.store is milvus",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "indexes.dense.store",
			Message: fmt.Sprintf("store must be memory or milvus, got %q", c.Indexes.Dense.Store),
		})
	}

	if c.Indexes.Sparse.Enabled && c.Indexes.Sparse.Endpoint == "" {
		errs = append(errs, ValidationError{
			Field:   "indexes.sparse.endpoint",
			Message: "sparse encoder endpoint is required when the sparse index is enabled",
		})
	}

	return errs
}

func (c *Config) validateEmbedding() ValidationErrors {
	var errs ValidationErrors

	if c.Indexes.Dense.Enabled != nil && !*c.Indexes.Dense.Enabled {
		return errs
	}
	if c.Embedding.Provider == "" {
		errs = append(errs, ValidationError{
			Field:   "embedding.provider",
			Message: "embedding provider is required while the dense index is enabled",
		})
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, ValidationError{
			Field:   "embedding.dimensions",
			Message: fmt.Sprintf("dimensions must be positive, got %d", c.Embedding.Dimensions),
		})
	}

	return errs
}

func (c *Config) validateFusion() ValidationErrors {
	var errs ValidationErrors

	switch c.Fusion.Strategy {
	case "", "rrf", "weighted", "adaptive", "learned":
	default:
		errs = append(errs, ValidationError{
			Field:   "fusion.strategy",
			Message: fmt.Sprintf("unknown fusion strategy %q", c.Fusion.Strategy),
		})
	}
	if c.Fusion.RRFK < 0 {
		errs = append(errs, ValidationError{
			Field:   "fusion.rrf_k",
			Message: fmt.Sprintf("rrf_k must be non-negative, got %d", c.Fusion.RRFK),
		})
	}
	for name, w := range c.Fusion.Weights {
		if w < 0 {
			errs = append(errs, ValidationError{
				Field:   "fusion.weights." + name,
				Message: fmt.Sprintf("weight must be non-negative, got %.3f", w),
			})
		}
	}
	if c.Fusion.Strategy == "learned" {
		if c.Fusion.WeightsURI == "" {
			errs = append(errs, ValidationError{
				Field:   "fusion.weights_uri",
				Message: "weights_uri is required for learned fusion",
			})
		}
		if c.Fusion.TrafficPercent < 0 || c.Fusion.TrafficPercent > 100 {
			errs = append(errs, ValidationError{
				Field:   "fusion.traffic_percent",
				Message: fmt.Sprintf("traffic_percent must be in [0, 100], got %d", c.Fusion.TrafficPercent),
			})
		}
	}

	return errs
}

func (c *Config) validateRerank() ValidationErrors {
	var errs ValidationErrors

	switch c.Rerank.Method {
	case "", "cross_encoder", "llm", "hybrid":
	default:
		errs = append(errs, ValidationError{
			Field:   "rerank.method",
			Message: fmt.Sprintf("method must be cross_encoder, llm, or hybrid, got %q", c.Rerank.Method),
		})
	}
	if c.Rerank.TopK < 0 {
		errs = append(errs, ValidationError{
			Field:   "rerank.top_k",
			Message: fmt.Sprintf("top_k must be non-negative, got %d", c.Rerank.TopK),
		})
	}
	if c.Rerank.ConfidenceThreshold < 0 || c.Rerank.ConfidenceThreshold > 1 {
		errs = append(errs, ValidationError{
			Field:   "rerank.confidence_threshold",
			Message: fmt.Sprintf("confidence_threshold must be in [0, 1], got %.2f", c.Rerank.ConfidenceThreshold),
		})
	}
	if c.Rerank.HybridWindow < 0 {
		errs = append(errs, ValidationError{
			Field:   "rerank.hybrid_window",
			Message: fmt.Sprintf("hybrid_window must be non-negative, got %d", c.Rerank.HybridWindow),
		})
	}
	if c.Rerank.CrossWeight < 0 || c.Rerank.LLMWeight < 0 {
		errs = append(errs, ValidationError{
			Field:   "rerank",
			Message: "cross_weight and llm_weight must be non-negative",
		})
	}
	if sum := c.Rerank.CrossWeight + c.Rerank.LLMWeight; sum > 0 && (sum < 0.999 || sum > 1.001) {
		errs = append(errs, ValidationError{
			Field:   "rerank",
			Message: fmt.Sprintf("cross_weight + llm_weight must sum to 1.0, got %.3f", sum),
		})
	}
	if c.Rerank.OmittedScore < 0 || c.Rerank.OmittedScore > 1 {
		errs = append(errs, ValidationError{
			Field:   "rerank.omitted_score",
			Message: fmt.Sprintf("omitted_score must be in [0, 1], got %.2f", c.Rerank.OmittedScore),
		})
	}
	if c.Rerank.ConfidenceSlope <= 0 {
		errs = append(errs, ValidationError{
			Field:   "rerank.confidence_slope",
			Message: fmt.Sprintf("confidence_slope must be positive, got %.2f", c.Rerank.ConfidenceSlope),
		})
	}

	return errs
}

func (c *Config) validateScheduler() ValidationErrors {
	var errs ValidationErrors

	if c.Scheduler.Workers <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.workers",
			Message: fmt.Sprintf("workers must be positive, got %d", c.Scheduler.Workers),
		})
	}
	if c.Scheduler.PerSignalTopK <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.per_signal_top_k",
			Message: fmt.Sprintf("per_signal_top_k must be positive, got %d", c.Scheduler.PerSignalTopK),
		})
	}

	return errs
}

func (c *Config) validateProfiles() ValidationErrors {
	var errs ValidationErrors

	seen := map[string]bool{}
	for i, prof := range c.Profiles {
		if prof.Name == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("profiles[%d].name", i),
				Message: "profile name is required",
			})
		} else if seen[prof.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("profiles[%d].name", i),
				Message: fmt.Sprintf("duplicate profile name %q", prof.Name),
			})
		}
		seen[prof.Name] = true

		if prof.TopK < 0 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("profiles[%d].top_k", i),
				Message: fmt.Sprintf("top_k must be non-negative, got %d", prof.TopK),
			})
		}
		for _, sig := range prof.Signals {
			switch sig {
			case "bm25", "dense", "sparse":
			default:
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("profiles[%d].signals", i),
					Message: fmt.Sprintf("unknown signal %q", sig),
				})
			}
		}
	}

	return errs
}
