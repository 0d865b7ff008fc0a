// Package plan turns a raw query into an executable sub-query graph. A
// stateless classifier tags the query, per-type templates decompose what
// they can without leaving the process, and an LLM tier handles the rest.
// Every failure path degrades to the single-sub-query Simple plan, so
// decomposition never returns an error to the caller.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/braidsearch/braid/config"
	"github.com/braidsearch/braid/index"
	"github.com/braidsearch/braid/llm"
	"github.com/braidsearch/braid/metrics"
	"github.com/braidsearch/braid/schema"
)

// Metadata keys for the per-signal rewrite variants attached to sub-queries.
const (
	MetaRewriteLexical = "rewrite_lexical"
	MetaRewriteDense   = "rewrite_dense"
)

const promptEncoding = "cl100k_base"

const decompositionPrompt = `Decompose the query into at most %d sub-queries that can be searched separately.

Query type: %s
Query: %s

Return only a JSON array where each element has exactly these fields:
[{"id": "sq1", "text": "...", "dependencies": [], "priority": 1}]

Rules:
- Ids are unique, "sq1", "sq2", ... in order.
- "dependencies" lists the ids of sub-queries whose answers this one needs; leave it empty for self-contained sub-queries.
- "priority" runs from 1 (highest) to 5.
- Do not add any field, prose or explanation.

JSON:`

// Decomposer builds decomposition plans. The provider is optional: without
// one the LLM tier is skipped and template misses degrade to the Simple
// plan. Availability is resolved once here rather than per call.
type Decomposer struct {
	cfg        *config.PlanConfig
	provider   llm.Provider
	classifier *Classifier
	encoder    *tiktoken.Tiktoken
	logger     *zap.Logger
}

func NewDecomposer(cfg *config.PlanConfig, provider llm.Provider, logger *zap.Logger) (*Decomposer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("plan config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Decomposer{
		cfg:        cfg,
		provider:   provider,
		classifier: NewClassifier(cfg.SimpleMaxWords),
		logger:     logger.Named("plan"),
	}
	if cfg.PromptBudgetTokens > 0 {
		enc, err := tiktoken.GetEncoding(promptEncoding)
		if err != nil {
			return nil, fmt.Errorf("init token encoder: %w", err)
		}
		d.encoder = enc
	}
	if provider == nil {
		d.logger.Info("no llm provider configured, decomposition is template-only")
	}
	return d, nil
}

// Classify exposes the classifier for callers that only need the type.
func (d *Decomposer) Classify(query string) schema.QueryType {
	return d.classifier.Classify(query)
}

// Decompose builds the full plan for a query. Template misses fall through
// to the LLM tier and every remaining failure degrades to the Simple plan.
func (d *Decomposer) Decompose(ctx context.Context, query string) *schema.DecompositionResult {
	query = strings.TrimSpace(query)
	qtype := d.classifier.Classify(query)
	metrics.IncQueryType(string(qtype))

	var res *schema.DecompositionResult
	if qtype == schema.QuerySimple {
		res = d.simplePlan(query, qtype, schema.OutcomeTemplated)
	} else {
		if d.cfg.TemplateEnabled(string(qtype)) {
			res = d.applyTemplate(query, qtype)
		}
		if res == nil {
			res = d.decomposeWithProvider(ctx, query, qtype)
		}
		if res == nil {
			res = d.simplePlan(query, qtype, schema.OutcomeFallback)
		}
	}

	d.rewrite(res)
	d.finalize(res)
	metrics.IncDecompositionOutcome(string(res.Outcome))
	d.logger.Debug("decomposed query",
		zap.String("type", string(res.Type)),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("sub_queries", len(res.SubQueries)))
	return res
}

func (d *Decomposer) simplePlan(query string, qtype schema.QueryType, outcome schema.DecompositionOutcome) *schema.DecompositionResult {
	return &schema.DecompositionResult{
		Query:        query,
		Type:         qtype,
		SubQueries:   []schema.SubQuery{{ID: "sq1", Text: query, Type: qtype, Priority: 1}},
		Dependencies: map[string][]string{"sq1": {}},
		IsSimple:     true,
		Outcome:      outcome,
	}
}

// applyTemplate runs the per-type template decomposer. Aggregation,
// temporal and conditional queries have no templates and always defer to
// the provider.
func (d *Decomposer) applyTemplate(query string, qtype schema.QueryType) *schema.DecompositionResult {
	switch qtype {
	case schema.QueryComparative:
		return d.comparativePlan(query)
	case schema.QueryMultiHop:
		return d.multiHopPlan(query)
	default:
		return nil
	}
}

// comparandPattern captures the two sides of an "X and Y" comparison. Each
// side is one to four tokens; inner punctuation like "C++", "node.js" or
// "gpt-4" survives intact.
var comparandPattern = regexp.MustCompile(`(?i)([\p{L}\p{N}][\p{L}\p{N}.+#_-]*(?:\s+[\p{L}\p{N}][\p{L}\p{N}.+#_-]*){0,3}?)\s+(?:and|versus|vs\.?)\s+([\p{L}\p{N}][\p{L}\p{N}.+#_-]*(?:\s+[\p{L}\p{N}][\p{L}\p{N}.+#_-]*){0,3}?)\s*(?:[:,.?!;]|$)`)

// comparandNoise holds leading words that belong to the comparison framing
// rather than the comparand itself.
var comparandNoise = map[string]bool{
	"compare": true, "comparing": true, "between": true, "the": true,
	"a": true, "what": true, "what's": true, "whats": true, "is": true,
	"difference": true, "differences": true, "of": true, "in": true,
}

func trimComparand(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 && comparandNoise[strings.ToLower(words[0])] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func (d *Decomposer) comparativePlan(query string) *schema.DecompositionResult {
	m := comparandPattern.FindStringSubmatch(query)
	if m == nil {
		return nil
	}
	x, y := trimComparand(m[1]), trimComparand(m[2])
	if x == "" || y == "" {
		return nil
	}
	return &schema.DecompositionResult{
		Query: query,
		Type:  schema.QueryComparative,
		SubQueries: []schema.SubQuery{
			{ID: "sq1", Text: "about " + x, Type: schema.QuerySimple, Priority: 1},
			{ID: "sq2", Text: "about " + y, Type: schema.QuerySimple, Priority: 1},
			{ID: "sq3", Text: fmt.Sprintf("compare %s and %s", x, y), Type: schema.QueryComparative, Priority: 2, DependsOn: []string{"sq1", "sq2"}},
		},
		Dependencies: map[string][]string{"sq1": {}, "sq2": {}, "sq3": {"sq1", "sq2"}},
		Outcome:      schema.OutcomeTemplated,
	}
}

var sentenceBoundary = regexp.MustCompile(`[.!?;]+(\s+|$)`)

func splitSentences(query string) []string {
	parts := sentenceBoundary.Split(query, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// multiHopPlan chains the query's sentences so each one depends on the
// answer to the previous. Single-sentence queries are a template miss.
func (d *Decomposer) multiHopPlan(query string) *schema.DecompositionResult {
	sentences := splitSentences(query)
	if len(sentences) < 2 {
		return nil
	}
	if max := d.maxSubQueries(); len(sentences) > max {
		rest := strings.Join(sentences[max-1:], ". ")
		sentences = append(sentences[:max-1], rest)
	}

	subs := make([]schema.SubQuery, 0, len(sentences))
	deps := make(map[string][]string, len(sentences))
	for i, text := range sentences {
		id := fmt.Sprintf("sq%d", i+1)
		sq := schema.SubQuery{ID: id, Text: text, Type: schema.QueryMultiHop, Priority: i + 1}
		deps[id] = []string{}
		if i > 0 {
			prev := fmt.Sprintf("sq%d", i)
			sq.DependsOn = []string{prev}
			deps[id] = []string{prev}
		}
		subs = append(subs, sq)
	}
	return &schema.DecompositionResult{
		Query:        query,
		Type:         schema.QueryMultiHop,
		SubQueries:   subs,
		Dependencies: deps,
		Outcome:      schema.OutcomeTemplated,
	}
}

func (d *Decomposer) maxSubQueries() int {
	n := d.cfg.MaxSubQueries
	if n <= 0 || n > 5 {
		n = 5
	}
	return n
}

func (d *Decomposer) decomposeWithProvider(ctx context.Context, query string, qtype schema.QueryType) *schema.DecompositionResult {
	useLLM := d.cfg.UseLLM == nil || *d.cfg.UseLLM
	if !useLLM || d.provider == nil {
		return nil
	}

	raw, err := d.provider.GenerateCompletion(ctx, d.buildPrompt(query, qtype))
	if err != nil {
		d.logger.Warn("llm decomposition failed", zap.Error(err))
		return nil
	}
	items, err := parseDecomposition(raw, d.maxSubQueries())
	if err != nil {
		d.logger.Warn("llm decomposition rejected", zap.Error(err))
		return nil
	}

	subs := make([]schema.SubQuery, 0, len(items))
	deps := make(map[string][]string, len(items))
	for _, it := range items {
		subs = append(subs, schema.SubQuery{
			ID:        it.ID,
			Text:      it.Text,
			DependsOn: it.Dependencies,
			Type:      qtype,
			Priority:  it.Priority,
		})
		if it.Dependencies == nil {
			deps[it.ID] = []string{}
		} else {
			deps[it.ID] = it.Dependencies
		}
	}
	return &schema.DecompositionResult{
		Query:        query,
		Type:         qtype,
		SubQueries:   subs,
		Dependencies: deps,
		Outcome:      schema.OutcomeProviderParsed,
	}
}

// buildPrompt renders the decomposition prompt, truncating the query when
// the whole prompt would exceed the configured token budget.
func (d *Decomposer) buildPrompt(query string, qtype schema.QueryType) string {
	max := d.maxSubQueries()
	if budget := d.cfg.PromptBudgetTokens; budget > 0 && d.encoder != nil {
		overhead := len(d.encoder.Encode(fmt.Sprintf(decompositionPrompt, max, qtype, ""), nil, nil))
		if room := budget - overhead; room > 0 {
			if toks := d.encoder.Encode(query, nil, nil); len(toks) > room {
				query = d.encoder.Decode(toks[:room])
			}
		}
	}
	return fmt.Sprintf(decompositionPrompt, max, qtype, query)
}

type providerSubQuery struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Dependencies []string `json:"dependencies"`
	Priority     int      `json:"priority"`
}

// parseDecomposition extracts and validates the provider's structured
// output. It is strict: a missing array, an unmarshal failure, more items
// than the cap, duplicate or empty ids, empty text, or a dependency on an
// unknown id all reject the whole output. Cycles are not rejected here;
// the topological sort drops them instead.
func parseDecomposition(raw string, max int) ([]providerSubQuery, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in completion: %w", schema.ErrParse)
	}
	var items []providerSubQuery
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("decode decomposition: %v: %w", err, schema.ErrParse)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("empty decomposition: %w", schema.ErrParse)
	}
	if len(items) > max {
		return nil, fmt.Errorf("decomposition has %d sub-queries, cap is %d: %w", len(items), max, schema.ErrParse)
	}

	ids := make(map[string]bool, len(items))
	for i := range items {
		items[i].ID = strings.TrimSpace(items[i].ID)
		items[i].Text = strings.TrimSpace(items[i].Text)
		if items[i].ID == "" || items[i].Text == "" {
			return nil, fmt.Errorf("sub-query %d has an empty id or text: %w", i, schema.ErrParse)
		}
		if ids[items[i].ID] {
			return nil, fmt.Errorf("duplicate sub-query id %q: %w", items[i].ID, schema.ErrParse)
		}
		ids[items[i].ID] = true
		if items[i].Priority < 1 {
			items[i].Priority = 1
		}
	}
	for _, it := range items {
		for _, dep := range it.Dependencies {
			if !ids[dep] {
				return nil, fmt.Errorf("sub-query %q depends on unknown id %q: %w", it.ID, dep, schema.ErrParse)
			}
		}
	}
	return items, nil
}

// interrogativePrefixes are stripped by the dense rewrite so the embedding
// sees the core intent instead of question scaffolding.
var interrogativePrefixes = []string{
	"what is the", "what are the", "what is", "what are", "what's",
	"how do i", "how does", "how do", "how to", "why does", "why is",
	"tell me about", "explain", "describe",
}

func denseRewrite(text string) string {
	out := strings.TrimSpace(text)
	lower := strings.ToLower(out)
	for _, p := range interrogativePrefixes {
		if strings.HasPrefix(lower, p+" ") {
			out = strings.TrimSpace(out[len(p):])
			break
		}
	}
	return strings.TrimRight(out, "?!. ")
}

// rewrite attaches deterministic per-signal variants to each sub-query.
// The lexical variant keeps bare keywords for the BM25 signal; the dense
// variant strips interrogative scaffolding. No provider calls.
func (d *Decomposer) rewrite(res *schema.DecompositionResult) {
	if !d.cfg.Rewrite.Enable || len(d.cfg.Rewrite.Variants) == 0 {
		return
	}
	var wantLexical, wantDense bool
	for _, v := range d.cfg.Rewrite.Variants {
		switch v {
		case "lexical":
			wantLexical = true
		case "dense":
			wantDense = true
		}
	}

	tok := index.Tokenizer{RemoveStopwords: true}
	for i := range res.SubQueries {
		sq := &res.SubQueries[i]
		set := func(key, value string) {
			if sq.Metadata == nil {
				sq.Metadata = make(map[string]any, 2)
			}
			sq.Metadata[key] = value
		}
		if wantLexical {
			if terms := tok.Tokenize(sq.Text); len(terms) > 0 {
				set(MetaRewriteLexical, strings.Join(terms, " "))
			}
		}
		if wantDense {
			if v := denseRewrite(sq.Text); v != "" && v != sq.Text {
				set(MetaRewriteDense, v)
			}
		}
	}
}

func (d *Decomposer) finalize(res *schema.DecompositionResult) {
	order, dropped := topoOrder(res.Dependencies)
	res.ExecutionOrder = order
	if len(dropped) > 0 {
		d.logger.Warn("dropped cyclic sub-queries from execution order",
			zap.Strings("ids", dropped))
	}
	res.IsSimple = len(res.SubQueries) == 1 && len(res.SubQueries[0].DependsOn) == 0
}
