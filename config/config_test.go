package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_PassesValidation(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: openai\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Indexes.Lexical.K1 != 1.2 || cfg.Indexes.Lexical.B != 0.75 {
		t.Errorf("bm25 defaults = %.2f/%.2f, want 1.2/0.75", cfg.Indexes.Lexical.K1, cfg.Indexes.Lexical.B)
	}
	if cfg.Fusion.Strategy != "rrf" || cfg.Fusion.RRFK != 60 {
		t.Errorf("fusion defaults = %s/%d, want rrf/60", cfg.Fusion.Strategy, cfg.Fusion.RRFK)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Scheduler.Workers)
	}
	if cfg.Rerank.Method != "cross_encoder" {
		t.Errorf("rerank method = %s, want cross_encoder", cfg.Rerank.Method)
	}
}

func TestLoad_KeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `
indexes:
  lexical:
    k1: 2.0
    b: 0.5
fusion:
  strategy: weighted
  weights:
    bm25: 0.6
    dense: 0.4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Indexes.Lexical.K1 != 2.0 || cfg.Indexes.Lexical.B != 0.5 {
		t.Errorf("bm25 = %.2f/%.2f, want 2.0/0.5", cfg.Indexes.Lexical.K1, cfg.Indexes.Lexical.B)
	}
	if cfg.Fusion.Strategy != "weighted" {
		t.Errorf("strategy = %s, want weighted", cfg.Fusion.Strategy)
	}
	if cfg.Fusion.Weights["bm25"] != 0.6 {
		t.Errorf("bm25 weight = %.2f, want 0.6", cfg.Fusion.Weights["bm25"])
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("BRAID_TEST_KEY", "secret-from-env")
	path := writeConfig(t, `
llm:
  provider: openai
  api_key: ${BRAID_TEST_KEY}
  model: ${BRAID_TEST_MODEL:-gpt-4o-mini}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.APIKey != "secret-from-env" {
		t.Errorf("api_key = %q, want value from env", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want the :- default", cfg.LLM.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "indexes: [not: a, mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate_AggregatesAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Indexes.Lexical.K1 = -1
	cfg.Fusion.Strategy = "nope"
	cfg.Rerank.ConfidenceThreshold = 2

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	var errs ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("error is %T, want ValidationErrors", err)
	}
	if len(errs) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(errs), err)
	}
	if !strings.Contains(err.Error(), "fusion.strategy") {
		t.Errorf("error should name the failing field, got: %v", err)
	}
}

func TestValidate_FieldRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"negative k1", func(c *Config) { c.Indexes.Lexical.K1 = -0.1 }, "indexes.lexical.k1"},
		{"b above one", func(c *Config) { c.Indexes.Lexical.B = 1.5 }, "indexes.lexical.b"},
		{"bad similarity", func(c *Config) { c.Indexes.Dense.Similarity = "dot" }, "indexes.dense.similarity"},
		{"bad store", func(c *Config) { c.Indexes.Dense.Store = "qdrant" }, "indexes.dense.store"},
		{"sparse without endpoint", func(c *Config) { c.Indexes.Sparse.Enabled = true }, "indexes.sparse.endpoint"},
		{"bad fusion strategy", func(c *Config) { c.Fusion.Strategy = "magic" }, "fusion.strategy"},
		{"negative rrf k", func(c *Config) { c.Fusion.RRFK = -1 }, "fusion.rrf_k"},
		{"negative weight", func(c *Config) { c.Fusion.Weights = map[string]float64{"bm25": -0.5} }, "fusion.weights.bm25"},
		{"bad rerank method", func(c *Config) { c.Rerank.Method = "bogus" }, "rerank.method"},
		{"threshold out of range", func(c *Config) { c.Rerank.ConfidenceThreshold = 1.2 }, "rerank.confidence_threshold"},
		{"weights must sum", func(c *Config) { c.Rerank.CrossWeight = 0.9; c.Rerank.LLMWeight = 0.9 }, "rerank"},
		{"negative workers", func(c *Config) { c.Scheduler.Workers = -2 }, "scheduler.workers"},
		{"unnamed profile", func(c *Config) { c.Profiles = []Profile{{}} }, "profiles[0].name"},
		{"duplicate profile", func(c *Config) {
			c.Profiles = []Profile{{Name: "a"}, {Name: "a"}}
		}, "profiles[1].name"},
		{"unknown profile signal", func(c *Config) {
			c.Profiles = []Profile{{Name: "a", Signals: []string{"web"}}}
		}, "profiles[0].signals"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Errorf("error should mention %s, got: %v", tc.field, err)
			}
		})
	}
}

func TestValidate_MilvusRequiresHostAndCollection(t *testing.T) {
	cfg := Default()
	cfg.Indexes.Dense.Store = "milvus"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "vectordb.host") || !strings.Contains(msg, "vectordb.collection") {
		t.Errorf("expected host and collection errors, got: %v", err)
	}

	cfg.VectorDB.Host = "localhost"
	cfg.VectorDB.Collection = "docs"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid milvus config rejected: %v", err)
	}
}

func TestValidate_LearnedFusionRequiresURI(t *testing.T) {
	cfg := Default()
	cfg.Fusion.Strategy = "learned"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "fusion.weights_uri") {
		t.Fatalf("expected weights_uri error, got: %v", err)
	}

	cfg.Fusion.WeightsURI = "file:///tmp/weights.json"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid learned config rejected: %v", err)
	}
}

func TestValidate_SkipsEmbeddingWhenDenseDisabled(t *testing.T) {
	cfg := Default()
	disabled := false
	cfg.Indexes.Dense.Enabled = &disabled
	cfg.Embedding.Provider = ""
	cfg.Embedding.Dimensions = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("embedding rules should not apply with dense disabled: %v", err)
	}
}

func TestTemplateEnabled(t *testing.T) {
	p := PlanConfig{}
	if !p.TemplateEnabled("comparative") || !p.TemplateEnabled("multi_hop") {
		t.Error("comparative and multi_hop should default on")
	}
	if p.TemplateEnabled("temporal") {
		t.Error("temporal should default off")
	}

	p.Templates = map[string]bool{"comparative": false, "temporal": true}
	if p.TemplateEnabled("comparative") {
		t.Error("explicit false should win")
	}
	if !p.TemplateEnabled("temporal") {
		t.Error("explicit true should win")
	}
}
