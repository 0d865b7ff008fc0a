package fusion

import (
	"context"
	"strings"
	"unicode"

	"github.com/braidsearch/braid/schema"
)

// Alpha maps query surface features to a lexical/dense balance in [0,1].
// Higher values favor the lexical signals: quoted phrases and technical
// tokens want exact matching, long natural-language questions want
// semantic recall. Pure and deterministic for a given query string.
func Alpha(query string) float64 {
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return 0.5
	}

	alpha := 0.5
	if strings.Count(query, `"`) >= 2 {
		alpha += 0.2
	}
	technical := 0
	for _, t := range tokens {
		if technicalToken(t) {
			technical++
		}
	}
	if technical*4 >= len(tokens) {
		alpha += 0.2
	}
	if len(tokens) <= 3 {
		alpha += 0.1
	}
	if len(tokens) >= 9 && naturalQuestion(query) {
		alpha -= 0.3
	}

	if alpha < 0 {
		return 0
	}
	if alpha > 1 {
		return 1
	}
	return alpha
}

// technicalToken reports whether a token looks like an identifier, version,
// path or acronym rather than prose. Proper nouns (single leading capital)
// do not count.
func technicalToken(tok string) bool {
	tok = strings.Trim(tok, `"'.,:;!?()[]{}`)
	if tok == "" {
		return false
	}
	var digits, uppers, lowers, inner int
	for i, r := range tok {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsUpper(r):
			uppers++
			if i > 0 {
				inner++
			}
		case unicode.IsLower(r):
			lowers++
		}
	}
	if digits > 0 {
		return true
	}
	if len(tok) > 2 && strings.ContainsAny(tok, "_./:-") {
		return true
	}
	if uppers >= 2 && lowers == 0 {
		return true
	}
	return lowers > 0 && inner > 0
}

var interrogativeWords = map[string]bool{
	"what": true, "how": true, "why": true, "when": true, "where": true,
	"which": true, "who": true, "explain": true, "describe": true,
}

func naturalQuestion(query string) bool {
	q := strings.TrimSpace(query)
	if strings.HasSuffix(q, "?") {
		return true
	}
	fields := strings.Fields(strings.ToLower(q))
	return len(fields) > 0 && interrogativeWords[fields[0]]
}

// adaptiveStrategy derives weights from the query surface and delegates to
// weighted-sum fusion. The sparse signal sits on the lexical side: it
// matches terms, just with learned weights.
type adaptiveStrategy struct{}

func NewAdaptive() Strategy { return &adaptiveStrategy{} }

func (s *adaptiveStrategy) Name() string { return "adaptive" }

func (s *adaptiveStrategy) Fuse(ctx context.Context, inputs []RetrieverResult) ([]schema.SearchResult, error) {
	query := ""
	for _, in := range inputs {
		if in.Query != "" {
			query = in.Query
			break
		}
	}
	alpha := Alpha(query)
	weighted := NewWeighted(map[string]float64{
		schema.MethodBM25:   alpha,
		schema.MethodSparse: alpha,
		schema.MethodDense:  1 - alpha,
	})
	return weighted.Fuse(ctx, inputs)
}
