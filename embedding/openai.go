package embedding

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

type openaiEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

func newOpenAIEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) *openaiEmbedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &openaiEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		timeout:    time.Duration(cfg.TimeoutMs) * time.Millisecond,
		logger:     logger.Named("embedding"),
	}
}

func (e *openaiEmbedder) GetProviderType() string { return ProviderTypeOpenAI }

func (e *openaiEmbedder) Dimensions() int { return e.dimensions }

func (e *openaiEmbedder) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.GetEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *openaiEmbedder) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		e.logger.Warn("embedding request failed",
			zap.Int("batch", len(texts)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, wrapAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response size mismatch: want %d got %d: %w",
			len(texts), len(resp.Data), schema.ErrProvider)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range: %w", d.Index, schema.ErrProvider)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func wrapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, schema.ErrProvider)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("embedding request error %d: %w", reqErr.HTTPStatusCode, schema.ErrProvider)
	}
	return fmt.Errorf("embedding request failed: %v: %w", err, schema.ErrProvider)
}
