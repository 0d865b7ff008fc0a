package post

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/braidsearch/braid/common/httpx"
	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/schema"
)

// crossEncoderClient calls an external pairwise scoring service speaking
// the common rerank API: request {query, documents, model, top_n},
// response {results: [{index, relevance_score}]}.
type crossEncoderClient struct {
	cfg    *config.CrossEncoderConfig
	client *httpx.Client
	logger *zap.Logger
}

func newCrossEncoderClient(cfg *config.CrossEncoderConfig, client *httpx.Client, logger *zap.Logger) *crossEncoderClient {
	if client == nil {
		client = httpx.NewFromConfig(nil, logger)
	}
	return &crossEncoderClient{cfg: cfg, client: client, logger: logger}
}

type crossEncoderRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopN      int      `json:"top_n,omitempty"`
}

type crossEncoderResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score returns relevance scores keyed by candidate position.
func (c *crossEncoderClient) Score(ctx context.Context, query string, in []schema.SearchResult) (map[int]float64, error) {
	docs := make([]string, len(in))
	for i, sr := range in {
		docs[i] = sr.Document.Content
	}
	body, err := json.Marshal(crossEncoderRequest{
		Query:     query,
		Documents: docs,
		Model:     c.cfg.Model,
		TopN:      len(in),
	})
	if err != nil {
		return nil, fmt.Errorf("encode rerank request: %w", err)
	}

	if to := c.cfg.TimeoutMs; to > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(to)*time.Millisecond)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cross-encoder call: %v: %w", err, schema.ErrProvider)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cross-encoder status %d: %w", resp.StatusCode, schema.ErrProvider)
	}

	var decoded crossEncoderResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode rerank response: %v: %w", err, schema.ErrParse)
	}
	if len(decoded.Results) == 0 {
		return nil, fmt.Errorf("empty rerank response: %w", schema.ErrParse)
	}

	scores := make(map[int]float64, len(decoded.Results))
	for _, res := range decoded.Results {
		if res.Index >= 0 && res.Index < len(in) {
			scores[res.Index] = res.RelevanceScore
		}
	}
	return scores, nil
}
