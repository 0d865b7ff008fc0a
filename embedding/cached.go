package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/braidsearch/braid/cache"
	"github.com/braidsearch/braid/metrics"
)

// cachedProvider memoizes embedding vectors keyed by model and text.
// Vectors are treated as immutable once cached; callers must not
// mutate returned slices.
type cachedProvider struct {
	inner Provider
	cache cache.Cache
}

// WithCache wraps a provider with an in-process vector cache.
func WithCache(inner Provider, c cache.Cache) Provider {
	return &cachedProvider{inner: inner, cache: c}
}

func (p *cachedProvider) GetProviderType() string { return p.inner.GetProviderType() }

func (p *cachedProvider) Dimensions() int { return p.inner.Dimensions() }

func (p *cachedProvider) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := p.key(text)
	if v, ok := p.cache.Get(key); ok {
		metrics.IncCacheHit("embedding")
		return v.([]float32), nil
	}
	metrics.IncCacheMiss("embedding")

	vector, err := p.inner.GetEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, vector, 0)
	return vector, nil
}

func (p *cachedProvider) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if v, ok := p.cache.Get(p.key(text)); ok {
			metrics.IncCacheHit("embedding")
			vectors[i] = v.([]float32)
			continue
		}
		metrics.IncCacheMiss("embedding")
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	fetched, err := p.inner.GetEmbeddings(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, idx := range missingIdx {
		vectors[idx] = fetched[j]
		p.cache.Set(p.key(texts[idx]), fetched[j], 0)
	}
	return vectors, nil
}

func (p *cachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(p.inner.GetProviderType() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
