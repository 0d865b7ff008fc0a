package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/braidsearch/braid/common/httpx"
)

// WeightSnapshot is one published set of learned fusion weights.
type WeightSnapshot struct {
	Version string             `json:"version"`
	Weights map[string]float64 `json:"weights"`
	Bias    float64            `json:"bias"`
	Fetched time.Time          `json:"-"`
}

// WeightsLoader fetches weight snapshots from a file or http(s) URI and
// caches the result for a TTL, so fusion never blocks on the network for
// more than one call per refresh window.
type WeightsLoader struct {
	uri    string
	client *httpx.Client
	ttl    time.Duration

	mu     sync.RWMutex
	cached *WeightSnapshot
}

func NewWeightsLoader(uri string, ttl time.Duration, client *httpx.Client) (*WeightsLoader, error) {
	if uri == "" {
		return nil, errors.New("weights uri is required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	if client == nil {
		client = httpx.NewFromConfig(nil, nil)
	}
	return &WeightsLoader{uri: uri, ttl: ttl, client: client}, nil
}

// Get returns the latest snapshot, reloading when the cache is stale.
func (l *WeightsLoader) Get(ctx context.Context) (*WeightSnapshot, error) {
	l.mu.RLock()
	cached := l.cached
	l.mu.RUnlock()
	if cached != nil && time.Since(cached.Fetched) < l.ttl {
		return cached, nil
	}
	return l.reload(ctx)
}

func (l *WeightsLoader) reload(ctx context.Context) (*WeightSnapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil && time.Since(l.cached.Fetched) < l.ttl {
		return l.cached, nil
	}
	snapshot, err := l.loadOnce(ctx)
	if err != nil {
		return nil, err
	}
	l.cached = snapshot
	return snapshot, nil
}

func (l *WeightsLoader) loadOnce(ctx context.Context) (*WeightSnapshot, error) {
	reader, err := l.open(ctx)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read weights: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("weights document is empty")
	}

	var snapshot WeightSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode weights json: %w", err)
	}
	if snapshot.Weights == nil {
		snapshot.Weights = map[string]float64{}
	}
	snapshot.Fetched = time.Now()
	return &snapshot, nil
}

func (l *WeightsLoader) open(ctx context.Context) (io.ReadCloser, error) {
	parsed, err := url.Parse(l.uri)
	if err != nil || parsed.Scheme == "" {
		return os.Open(filepath.Clean(l.uri))
	}
	switch strings.ToLower(parsed.Scheme) {
	case "file":
		if parsed.Path == "" {
			return nil, errors.New("file uri missing path")
		}
		return os.Open(filepath.Clean(parsed.Path))
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.uri, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch weights: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch weights: unexpected status %d", resp.StatusCode)
		}
		return resp.Body, nil
	default:
		return nil, fmt.Errorf("unsupported weights uri scheme: %s", parsed.Scheme)
	}
}
