package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/braidsearch/braid/common/httpx"
	"github.com/braidsearch/braid/schema"
)

// SparseProvider turns text into sparse term-weight vectors, typically
// served by a SPLADE-style encoder behind HTTP.
type SparseProvider interface {
	GetSparseEmbedding(ctx context.Context, text string) (schema.SparseVector, error)
	GetSparseEmbeddings(ctx context.Context, texts []string) ([]schema.SparseVector, error)
}

// HTTPSparseProvider calls an external sparse encoder service.
type HTTPSparseProvider struct {
	Endpoint string
	Model    string
	APIKey   string
	Client   *httpx.Client
	Logger   *zap.Logger
}

type sparseReq struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type sparseResp struct {
	Data []struct {
		Indices []int     `json:"indices"`
		Values  []float32 `json:"values"`
	} `json:"data"`
}

// NewHTTPSparseProvider creates a sparse encoder client.
func NewHTTPSparseProvider(endpoint, model, apiKey string, client *httpx.Client, logger *zap.Logger) *HTTPSparseProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = httpx.NewFromConfig(nil, logger)
	}
	return &HTTPSparseProvider{
		Endpoint: endpoint,
		Model:    model,
		APIKey:   apiKey,
		Client:   client,
		Logger:   logger.Named("sparse"),
	}
}

func (p *HTTPSparseProvider) GetSparseEmbedding(ctx context.Context, text string) (schema.SparseVector, error) {
	vectors, err := p.GetSparseEmbeddings(ctx, []string{text})
	if err != nil {
		return schema.SparseVector{}, err
	}
	return vectors[0], nil
}

func (p *HTTPSparseProvider) GetSparseEmbeddings(ctx context.Context, texts []string) ([]schema.SparseVector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if p.Endpoint == "" {
		return nil, fmt.Errorf("sparse encoder endpoint not configured: %w", schema.ErrProvider)
	}

	bs, err := json.Marshal(sparseReq{Model: p.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encode sparse request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(bs))
	if err != nil {
		return nil, fmt.Errorf("build sparse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	client := p.Client
	if client == nil {
		client = httpx.NewFromConfig(nil, p.Logger)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sparse encoder call: %v: %w", err, schema.ErrProvider)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sparse encoder status %d: %w", resp.StatusCode, schema.ErrProvider)
	}

	var out sparseResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode sparse response: %v: %w", err, schema.ErrParse)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("sparse response size mismatch: want %d got %d: %w",
			len(texts), len(out.Data), schema.ErrParse)
	}

	vectors := make([]schema.SparseVector, len(out.Data))
	for i, d := range out.Data {
		if len(d.Indices) != len(d.Values) {
			return nil, fmt.Errorf("sparse vector %d malformed: %d indices vs %d values: %w",
				i, len(d.Indices), len(d.Values), schema.ErrParse)
		}
		vectors[i] = schema.SparseVector{Indices: d.Indices, Values: d.Values}
	}
	return vectors, nil
}
