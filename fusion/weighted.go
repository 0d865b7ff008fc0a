package fusion

import (
	"context"

	"github.com/braidsearch/braid/schema"
)

// weightedStrategy sums per-signal scores after max-normalizing each list
// to [0,1], scaled by the signal's configured weight. Useful when the raw
// scores are meaningful; signals without a configured weight count as 1.
type weightedStrategy struct {
	weights map[string]float64
}

func NewWeighted(weights map[string]float64) Strategy {
	if weights == nil {
		weights = map[string]float64{}
	}
	return &weightedStrategy{weights: weights}
}

func (s *weightedStrategy) Name() string { return "weighted" }

func (s *weightedStrategy) Fuse(ctx context.Context, inputs []RetrieverResult) ([]schema.SearchResult, error) {
	acc := make(accumulator)
	for _, in := range inputs {
		weight := 1.0
		if w, ok := s.weights[in.Method]; ok {
			weight = w
		}
		max := 0.0
		for _, item := range in.Results {
			if item.Score > max {
				max = item.Score
			}
		}
		for _, item := range in.Results {
			if item.Document.ID == "" {
				continue
			}
			norm := item.Score
			if max > 0 {
				norm = item.Score / max
			}
			acc.add(item, in.Method, weight*norm)
		}
	}
	return acc.ranked(), nil
}
