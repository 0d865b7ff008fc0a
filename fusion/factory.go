package fusion

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/braidsearch/braid/common/httpx"
	"github.com/braidsearch/braid/config"
)

// NewStrategy builds the configured fusion strategy. The http client is
// only used by learned fusion; nil is fine for everything else.
func NewStrategy(cfg *config.FusionConfig, httpClient *httpx.Client, logger *zap.Logger) (Strategy, error) {
	name := "rrf"
	if cfg != nil && cfg.Strategy != "" {
		name = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	}

	switch name {
	case "rrf":
		k := DefaultRRFK
		if cfg != nil && cfg.RRFK > 0 {
			k = cfg.RRFK
		}
		return NewRRF(k), nil
	case "weighted":
		var weights map[string]float64
		if cfg != nil {
			weights = cfg.Weights
		}
		return NewWeighted(weights), nil
	case "adaptive":
		return NewAdaptive(), nil
	case "learned":
		fallbackName := "rrf"
		if cfg.Fallback != "" {
			fallbackName = strings.ToLower(strings.TrimSpace(cfg.Fallback))
		}
		if fallbackName == "learned" {
			return nil, fmt.Errorf("learned fusion cannot fall back to itself")
		}
		fbCfg := *cfg
		fbCfg.Strategy = fallbackName
		fallback, err := NewStrategy(&fbCfg, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return NewLearned(LearnedOptions{
			WeightsURI:     cfg.WeightsURI,
			RefreshTTL:     time.Duration(cfg.RefreshSeconds) * time.Second,
			TrafficPercent: cfg.TrafficPercent,
			Fallback:       fallback,
			HTTPClient:     httpClient,
			Logger:         logger,
		})
	default:
		return nil, fmt.Errorf("unsupported fusion strategy %q", name)
	}
}
