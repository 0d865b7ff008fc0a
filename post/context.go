package post

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/schema"
)

// ContextBuilder packs reranked contents into the context string carried
// by aggregated results, in rank order under a token budget.
type ContextBuilder struct {
	cfg     *config.ContextConfig
	encoder *tiktoken.Tiktoken
}

// NewContextBuilder builds the context assembler. MaxTokens <= 0 turns
// the budget off and contents are joined verbatim.
func NewContextBuilder(cfg *config.ContextConfig) (*ContextBuilder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("context config is required")
	}
	b := &ContextBuilder{cfg: cfg}
	if cfg.MaxTokens > 0 {
		encoding := cfg.Encoding
		if encoding == "" {
			encoding = rerankEncoding
		}
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("init token encoder: %w", err)
		}
		b.encoder = enc
	}
	return b, nil
}

// Build joins result contents in rank order until the budget is spent.
// Assembly stops at the first document that does not fit, keeping rank
// order intact; if even the first document exceeds the budget it is
// truncated rather than dropped.
func (b *ContextBuilder) Build(results []schema.RerankedResult) string {
	if len(results) == 0 {
		return ""
	}
	sep := b.cfg.Separator
	if sep == "" {
		sep = "\n\n"
	}
	if b.encoder == nil {
		parts := make([]string, len(results))
		for i, rr := range results {
			parts[i] = rr.Document.Content
		}
		return strings.Join(parts, sep)
	}

	sepCost := len(b.encoder.Encode(sep, nil, nil))
	remaining := b.cfg.MaxTokens
	var parts []string
	for _, rr := range results {
		content := rr.Document.Content
		cost := len(b.encoder.Encode(content, nil, nil))
		if len(parts) > 0 {
			cost += sepCost
		}
		if cost <= remaining {
			parts = append(parts, content)
			remaining -= cost
			continue
		}
		if len(parts) == 0 && remaining > 0 {
			toks := b.encoder.Encode(content, nil, nil)
			parts = append(parts, b.encoder.Decode(toks[:remaining]))
		}
		break
	}
	return strings.Join(parts, sep)
}
