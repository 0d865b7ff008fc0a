package fusion

import (
	"context"

	"github.com/braidsearch/braid/schema"
)

// DefaultRRFK is the reciprocal-rank smoothing constant.
const DefaultRRFK = 60

// rrfStrategy implements Reciprocal Rank Fusion:
// score(doc) = sum over lists containing doc of 1/(k + rank). Absence from
// a list contributes nothing; raw per-signal scores are ignored.
type rrfStrategy struct {
	k int
}

func NewRRF(k int) Strategy {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &rrfStrategy{k: k}
}

func (s *rrfStrategy) Name() string { return "rrf" }

func (s *rrfStrategy) Fuse(ctx context.Context, inputs []RetrieverResult) ([]schema.SearchResult, error) {
	acc := make(accumulator)
	for _, in := range inputs {
		for idx, item := range in.Results {
			if item.Document.ID == "" {
				continue
			}
			acc.add(item, in.Method, 1.0/float64(s.k+idx+1))
		}
	}
	return acc.ranked(), nil
}
