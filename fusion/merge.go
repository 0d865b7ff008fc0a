package fusion

import (
	"sort"

	"github.com/braidsearch/braid/schema"
)

// MergeBest combines already-fused result lists, keeping each document's
// best score and the union of its methods. The scheduler uses it to
// aggregate per-sub-query results into one list.
func MergeBest(lists ...[]schema.SearchResult) []schema.SearchResult {
	merged := make(map[string]schema.SearchResult)
	for _, list := range lists {
		for _, item := range list {
			id := item.Document.ID
			if id == "" {
				continue
			}
			existing, ok := merged[id]
			if !ok {
				merged[id] = item
				continue
			}
			existing.Methods = unionMethods(existing.Methods, item.Methods)
			if item.Score > existing.Score {
				existing.Score = item.Score
				existing.Document = item.Document
			}
			merged[id] = existing
		}
	}

	out := make([]schema.SearchResult, 0, len(merged))
	for _, item := range merged {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	return out
}

func unionMethods(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return append([]string(nil), b...)
	}
	set := make(map[string]bool, len(a)+len(b))
	for _, m := range a {
		set[m] = true
	}
	for _, m := range b {
		set[m] = true
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
