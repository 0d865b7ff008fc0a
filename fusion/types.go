// Package fusion merges the ranked lists of the retrieval signals into one
// list. Strategies are pure: configuration binds at construction, inputs
// are never mutated, and the output order is deterministic (descending
// fused score, ties by ascending document id).
package fusion

import (
	"context"
	"sort"

	"github.com/braidsearch/braid/schema"
)

// RetrieverResult groups the hits one signal returned for a query.
type RetrieverResult struct {
	// Query is the sub-query text this retrieval ran with.
	Query string
	// Method is the signal name ("bm25", "dense", "sparse").
	Method string
	// Results is the signal's ranked list, best first.
	Results []schema.SearchResult
}

// Strategy merges per-signal ranked lists into a single ranked list. Each
// output item carries the union of the methods that produced it.
type Strategy interface {
	Fuse(ctx context.Context, inputs []RetrieverResult) ([]schema.SearchResult, error)
	Name() string
}

// fusedDoc accumulates one document's fused score and originating methods.
type fusedDoc struct {
	doc     schema.Document
	score   float64
	methods map[string]bool
}

type accumulator map[string]*fusedDoc

func (a accumulator) add(item schema.SearchResult, method string, score float64) {
	id := item.Document.ID
	f, ok := a[id]
	if !ok {
		f = &fusedDoc{doc: item.Document, methods: make(map[string]bool, 2)}
		a[id] = f
	}
	f.score += score
	if len(item.Methods) > 0 {
		for _, m := range item.Methods {
			f.methods[m] = true
		}
	} else if method != "" {
		f.methods[method] = true
	}
}

func (a accumulator) ranked() []schema.SearchResult {
	out := make([]schema.SearchResult, 0, len(a))
	for _, f := range a {
		methods := make([]string, 0, len(f.methods))
		for m := range f.methods {
			methods = append(methods, m)
		}
		sort.Strings(methods)
		out = append(out, schema.SearchResult{Document: f.doc, Score: f.score, Methods: methods})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	return out
}
