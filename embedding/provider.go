package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/braidsearch/braid/cache"
	"github.com/braidsearch/braid/config"
)

const (
	ProviderTypeOpenAI = "openai"
)

// Provider turns text into dense vectors. Single and batch forms share
// one contract: a failed call yields an error, never a partial batch.
type Provider interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
	GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	GetProviderType() string
}

// NewProvider creates an embedding provider from config. When the cache
// flag is set the provider is wrapped with an LRU-backed decorator.
func NewProvider(cfg *config.EmbeddingConfig, logger *zap.Logger) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedding config is required")
	}

	var p Provider
	switch cfg.Provider {
	case ProviderTypeOpenAI, "":
		p = newOpenAIEmbedder(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	if cfg.Cache.Enable {
		ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
		p = WithCache(p, cache.NewLRU(cfg.Cache.MaxEntries, ttl))
	}
	return p, nil
}
