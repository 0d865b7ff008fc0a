package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/schema"
)

type openaiProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      *zap.Logger
}

func newOpenAIProvider(cfg *config.LLMConfig, logger *zap.Logger) *openaiProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &openaiProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   cfg.MaxTokens,
		timeout:     time.Duration(cfg.TimeoutMs) * time.Millisecond,
		logger:      logger.Named("llm"),
	}
}

func (p *openaiProvider) GetProviderType() string {
	return ProviderTypeOpenAI
}

func (p *openaiProvider) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		p.logger.Warn("completion failed",
			zap.String("model", p.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", wrapProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response: %w", schema.ErrProvider)
	}
	return resp.Choices[0].Message.Content, nil
}

// wrapProviderError tags transport and API failures with schema.ErrProvider
// so callers can degrade instead of aborting the pipeline.
func wrapProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("llm API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, schema.ErrProvider)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("llm request error %d: %w", reqErr.HTTPStatusCode, schema.ErrProvider)
	}
	return fmt.Errorf("llm request failed: %v: %w", err, schema.ErrProvider)
}
