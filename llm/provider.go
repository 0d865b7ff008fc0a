package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/braidsearch/braid/config"
)

const (
	ProviderTypeOpenAI = "openai"
)

// Provider generates completions for decomposition and rerank prompts.
type Provider interface {
	// GenerateCompletion returns the raw completion text for a prompt.
	GenerateCompletion(ctx context.Context, prompt string) (string, error)

	// GetProviderType returns the provider type.
	GetProviderType() string
}

// NewProvider creates an LLM provider from config. Any OpenAI-compatible
// endpoint works through the base_url override.
func NewProvider(cfg *config.LLMConfig, logger *zap.Logger) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}
	switch cfg.Provider {
	case ProviderTypeOpenAI, "":
		return newOpenAIProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
