package index

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "been": {}, "being": {}, "have": {}, "has": {}, "had": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"could": {}, "should": {}, "may": {}, "might": {}, "must": {},
	"can": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"it": {}, "its": {}, "as": {}, "from": {}, "into": {}, "than": {},
}

// Tokenizer lowercases, splits on whitespace, and strips surrounding
// punctuation. Hyphens and underscores inside a token survive, so
// identifiers like "gpt-4" and "max_tokens" stay intact.
type Tokenizer struct {
	RemoveStopwords bool
}

// Tokenize returns the token stream for indexing and querying.
func (t *Tokenizer) Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok == "" {
			continue
		}
		if t.RemoveStopwords {
			if _, ok := stopwords[tok]; ok {
				continue
			}
		}
		tokens = append(tokens, tok)
	}
	return tokens
}
