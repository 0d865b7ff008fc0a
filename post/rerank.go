// Package post implements the post-retrieval stages: reranking fused
// candidates with a cross-encoder service, an LLM, or a hybrid of both,
// and assembling the token-budgeted context string for aggregated
// results. Every external failure degrades to a documented fallback;
// the only error Rerank returns is an unknown method name.
package post

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/braidsearch/braid/common/httpx"
	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/llm"
	"github.com/braidsearch/braid/metrics"
	"github.com/braidsearch/braid/schema"
)

const (
	rerankEncoding = "cl100k_base"

	// neutralConfidence marks results whose score carries no model
	// evidence, i.e. fallback paths.
	neutralConfidence = 0.5
)

// Reranker reorders retrieval candidates. Whether a cross-encoder
// endpoint or an LLM provider is available is resolved once at
// construction; a method whose capability is missing degrades to its
// fallback instead of failing the call.
type Reranker struct {
	cfg      *config.RerankConfig
	cross    *crossEncoderClient
	provider llm.Provider
	encoder  *tiktoken.Tiktoken
	logger   *zap.Logger
}

// NewReranker builds a reranker from configuration. The provider and the
// HTTP client are both optional; nil disables the capability.
func NewReranker(cfg *config.RerankConfig, provider llm.Provider, client *httpx.Client, logger *zap.Logger) (*Reranker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rerank config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reranker{cfg: cfg, provider: provider, logger: logger.Named("post")}
	if cfg.CrossEncoder.Endpoint != "" {
		r.cross = newCrossEncoderClient(&cfg.CrossEncoder, client, r.logger)
	}
	if cfg.PromptBudgetTokens > 0 {
		enc, err := tiktoken.GetEncoding(rerankEncoding)
		if err != nil {
			return nil, fmt.Errorf("init token encoder: %w", err)
		}
		r.encoder = enc
	}
	if r.cross == nil {
		r.logger.Info("no cross-encoder endpoint configured, cross_encoder reranking will fall back")
	}
	if provider == nil {
		r.logger.Info("no llm provider configured, llm reranking will fall back")
	}
	return r, nil
}

// Rerank scores candidates against the query with the requested method,
// filters by the confidence threshold, and truncates to the configured
// topK. An empty method uses the configured default. Unknown methods are
// the only error; provider and parse failures keep the input order with
// a fallback method tag.
func (r *Reranker) Rerank(ctx context.Context, query string, in []schema.SearchResult, method string) ([]schema.RerankedResult, error) {
	if method == "" {
		method = r.cfg.Method
	}
	switch method {
	case schema.RerankCrossEncoder, schema.RerankLLM, schema.RerankHybrid:
	default:
		return nil, schema.UnknownMethod("rerank method", method,
			schema.RerankCrossEncoder, schema.RerankLLM, schema.RerankHybrid)
	}
	if len(in) == 0 {
		return []schema.RerankedResult{}, nil
	}

	start := time.Now()
	defer metrics.ObserveStage("rerank", start)

	var out []schema.RerankedResult
	switch method {
	case schema.RerankCrossEncoder:
		out = r.crossEncoderPass(ctx, query, in)
	case schema.RerankLLM:
		out = r.llmPass(ctx, query, in)
	case schema.RerankHybrid:
		out = r.hybridPass(ctx, query, in)
	}

	_, improvement := Summarize(in, out)
	metrics.ObserveRerankImprovement(improvement)
	return r.finish(out), nil
}

// crossEncoderPass scores every candidate with the external service.
// Candidates the service leaves unscored keep their original score.
func (r *Reranker) crossEncoderPass(ctx context.Context, query string, in []schema.SearchResult) []schema.RerankedResult {
	if r.cross == nil {
		return r.fallback(schema.RerankCrossEncoder, in)
	}
	scores, err := r.cross.Score(ctx, query, in)
	if err != nil {
		r.logger.Warn("cross-encoder scoring failed, keeping fused order", zap.Error(err))
		return r.fallback(schema.RerankCrossEncoder, in)
	}
	out := make([]schema.RerankedResult, len(in))
	for i, sr := range in {
		score, ok := scores[i]
		if !ok {
			score = sr.Score
		}
		out[i] = schema.RerankedResult{
			SearchResult: sr,
			RerankScore:  score,
			Confidence:   r.confidence(score),
			Method:       schema.RerankCrossEncoder,
		}
	}
	return out
}

// llmPass asks the provider for one "id: score" line per candidate.
// Candidates omitted from a parseable reply get the configured low
// default score; the candidate set size never changes.
func (r *Reranker) llmPass(ctx context.Context, query string, in []schema.SearchResult) []schema.RerankedResult {
	if r.provider == nil {
		return r.fallback(schema.RerankLLM, in)
	}
	reply, err := r.provider.GenerateCompletion(ctx, r.buildPrompt(query, in))
	if err != nil {
		r.logger.Warn("llm rerank call failed, keeping fused order", zap.Error(err))
		return r.fallback(schema.RerankLLM, in)
	}
	scores, err := parseScores(reply, len(in))
	if err != nil {
		r.logger.Warn("llm rerank reply unusable, keeping fused order",
			zap.Error(err), zap.Int("reply_len", len(reply)))
		return r.fallback(schema.RerankLLM, in)
	}
	out := make([]schema.RerankedResult, len(in))
	for i, sr := range in {
		score, ok := scores[i]
		if !ok {
			score = r.cfg.OmittedScore
		}
		out[i] = schema.RerankedResult{
			SearchResult: sr,
			RerankScore:  score,
			Confidence:   r.confidence(score),
			Method:       schema.RerankLLM,
		}
	}
	return out
}

// hybridPass runs the cross-encoder over the full set, hands the top
// window to the LLM, and blends the two scores inside the window. When
// the LLM leg falls back the cross-encoder scores stand unblended.
func (r *Reranker) hybridPass(ctx context.Context, query string, in []schema.SearchResult) []schema.RerankedResult {
	crossOut := r.crossEncoderPass(ctx, query, in)

	window := r.cfg.HybridWindow
	if window <= 0 || window > len(crossOut) {
		window = len(crossOut)
	}

	// Pick the window by descending cross score, ties by ascending id.
	order := make([]int, len(crossOut))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := crossOut[order[a]], crossOut[order[b]]
		if ra.RerankScore == rb.RerankScore {
			return ra.Document.ID < rb.Document.ID
		}
		return ra.RerankScore > rb.RerankScore
	})

	windowIn := make([]schema.SearchResult, window)
	for i := 0; i < window; i++ {
		windowIn[i] = crossOut[order[i]].SearchResult
	}
	llmOut := r.llmPass(ctx, query, windowIn)
	if len(llmOut) > 0 && strings.HasSuffix(llmOut[0].Method, schema.FallbackSuffix) {
		return crossOut
	}

	out := make([]schema.RerankedResult, len(crossOut))
	copy(out, crossOut)
	for i := 0; i < window; i++ {
		idx := order[i]
		blended := r.cfg.CrossWeight*crossOut[idx].RerankScore + r.cfg.LLMWeight*llmOut[i].RerankScore
		out[idx].RerankScore = blended
		out[idx].Confidence = r.confidence(blended)
		out[idx].Method = schema.RerankHybrid
	}
	return out
}

// fallback keeps the input order, carrying original scores with neutral
// confidence and the method's fallback tag.
func (r *Reranker) fallback(method string, in []schema.SearchResult) []schema.RerankedResult {
	metrics.IncRerankFallback(method)
	out := make([]schema.RerankedResult, len(in))
	for i, sr := range in {
		out[i] = schema.RerankedResult{
			SearchResult: sr,
			RerankScore:  sr.Score,
			Confidence:   neutralConfidence,
			Method:       method + schema.FallbackSuffix,
		}
	}
	return out
}

// finish applies the confidence filter, orders by descending rerank
// score, and truncates to topK. Fallback results bypass the filter;
// their confidence is a placeholder, not model evidence. A pass where
// every result fell back keeps the input order untouched.
func (r *Reranker) finish(out []schema.RerankedResult) []schema.RerankedResult {
	kept := make([]schema.RerankedResult, 0, len(out))
	allFallback := true
	for _, rr := range out {
		degraded := strings.HasSuffix(rr.Method, schema.FallbackSuffix)
		if !degraded {
			allFallback = false
		}
		if degraded || rr.Confidence >= r.cfg.ConfidenceThreshold {
			kept = append(kept, rr)
		}
	}
	if !allFallback {
		sort.SliceStable(kept, func(i, j int) bool {
			if kept[i].RerankScore == kept[j].RerankScore {
				return kept[i].Document.ID < kept[j].Document.ID
			}
			return kept[i].RerankScore > kept[j].RerankScore
		})
	}
	if k := r.cfg.TopK; k > 0 && len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

// Method returns the configured default rerank method.
func (r *Reranker) Method() string { return r.cfg.Method }

// confidence squashes a raw score onto [0,1] with the configured
// logistic; the midpoint maps to 0.5.
func (r *Reranker) confidence(score float64) float64 {
	return 1 / (1 + math.Exp(-r.cfg.ConfidenceSlope*(score-r.cfg.ConfidenceMidpoint)))
}

const rerankPromptHeader = `Score each document's relevance to the query on a scale from 0.0 to 1.0.

Query: %s

Documents:
`

const rerankPromptFooter = `
Reply with one line per document in the form "id: score" and nothing else.`

// buildPrompt enumerates candidates by 1-based position. When a token
// budget is configured the room left after the header is split evenly
// across documents and each content is truncated to fit.
func (r *Reranker) buildPrompt(query string, in []schema.SearchResult) string {
	var b strings.Builder
	header := fmt.Sprintf(rerankPromptHeader, query)
	b.WriteString(header)

	room := 0
	if r.encoder != nil && r.cfg.PromptBudgetTokens > 0 {
		overhead := len(r.encoder.Encode(header+rerankPromptFooter, nil, nil))
		if rem := r.cfg.PromptBudgetTokens - overhead; rem > 0 {
			room = rem / len(in)
		}
	}
	for i, sr := range in {
		content := sr.Document.Content
		if room > 0 {
			if toks := r.encoder.Encode(content, nil, nil); len(toks) > room {
				content = r.encoder.Decode(toks[:room])
			}
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, content)
	}
	b.WriteString(rerankPromptFooter)
	return b.String()
}

var scoreLine = regexp.MustCompile(`^\s*(\d+)\s*[.:]\s*(-?[0-9]+(?:\.[0-9]+)?)\s*$`)

// parseScores extracts "id: score" lines, ids being 1-based candidate
// positions. Out-of-range ids are ignored; a reply without a single
// usable line is a parse error.
func parseScores(reply string, n int) (map[int]float64, error) {
	scores := make(map[int]float64, n)
	for _, line := range strings.Split(reply, "\n") {
		m := scoreLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil || id < 1 || id > n {
			continue
		}
		score, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		scores[id-1] = score
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("no id: score lines in rerank reply: %w", schema.ErrParse)
	}
	return scores, nil
}

// Summarize reports the mean confidence of a reranked set and the mean
// score improvement over the original candidates, for trace events.
func Summarize(in []schema.SearchResult, out []schema.RerankedResult) (meanConfidence, improvement float64) {
	if len(out) == 0 {
		return 0, 0
	}
	var conf, reranked float64
	for _, rr := range out {
		conf += rr.Confidence
		reranked += rr.RerankScore
	}
	meanConfidence = conf / float64(len(out))
	if len(in) == 0 {
		return meanConfidence, 0
	}
	var original float64
	for _, sr := range in {
		original += sr.Score
	}
	improvement = reranked/float64(len(out)) - original/float64(len(in))
	return meanConfidence, improvement
}
