package fusion

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/braidsearch/braid/common/httpx"
	"github.com/braidsearch/braid/schema"
)

// LearnedOptions configures learned fusion.
type LearnedOptions struct {
	WeightsURI     string
	RefreshTTL     time.Duration
	TrafficPercent int
	Fallback       Strategy
	Loader         *WeightsLoader
	HTTPClient     *httpx.Client
	Logger         *zap.Logger
}

// learnedStrategy fuses with externally trained per-signal weights. The
// snapshot is TTL-cached, rollout is a deterministic hash of the query so
// a given query always takes the same path at a fixed percentage, and any
// load failure falls back to the configured strategy.
type learnedStrategy struct {
	loader   *WeightsLoader
	percent  int
	fallback Strategy
	logger   *zap.Logger
}

func NewLearned(opts LearnedOptions) (Strategy, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Fallback == nil {
		opts.Fallback = NewRRF(DefaultRRFK)
	}
	loader := opts.Loader
	if loader == nil {
		if opts.WeightsURI == "" {
			return nil, errors.New("learned fusion requires a weights uri")
		}
		var err error
		loader, err = NewWeightsLoader(opts.WeightsURI, opts.RefreshTTL, opts.HTTPClient)
		if err != nil {
			return nil, err
		}
	}
	return &learnedStrategy{
		loader:   loader,
		percent:  opts.TrafficPercent,
		fallback: opts.Fallback,
		logger:   opts.Logger.Named("fusion"),
	}, nil
}

func (s *learnedStrategy) Name() string { return "learned" }

func (s *learnedStrategy) Fuse(ctx context.Context, inputs []RetrieverResult) ([]schema.SearchResult, error) {
	if !s.inRollout(inputs) {
		return s.fallback.Fuse(ctx, inputs)
	}
	snapshot, err := s.loader.Get(ctx)
	if err != nil {
		s.logger.Warn("learned weights unavailable, using fallback",
			zap.String("fallback", s.fallback.Name()),
			zap.Error(err))
		return s.fallback.Fuse(ctx, inputs)
	}

	results, err := NewWeighted(snapshot.Weights).Fuse(ctx, inputs)
	if err != nil {
		return s.fallback.Fuse(ctx, inputs)
	}
	if snapshot.Bias != 0 {
		for i := range results {
			results[i].Score += snapshot.Bias
		}
	}
	return results, nil
}

// inRollout buckets the query into [0,100) by fnv hash. Percent outside
// (0,100) disables the restriction.
func (s *learnedStrategy) inRollout(inputs []RetrieverResult) bool {
	if s.percent <= 0 || s.percent >= 100 {
		return true
	}
	seed := ""
	for _, in := range inputs {
		if in.Query != "" {
			seed = in.Query
			break
		}
	}
	if seed == "" {
		return true
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return int(h.Sum32()%100) < s.percent
}
