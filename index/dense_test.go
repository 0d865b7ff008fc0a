package index

import (
	"context"
	"strings"
	"testing"

	"github.com/braidsearch/braid/schema"
	"github.com/braidsearch/braid/vectordb"
)

// hashEmbedder produces deterministic vectors so tests never call a
// real provider.
type hashEmbedder struct {
	dims  int
	calls int
}

func (e *hashEmbedder) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.GetEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *hashEmbedder) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, e.dims)
		for _, w := range strings.Fields(strings.ToLower(t)) {
			h := 0
			for _, r := range w {
				h = h*31 + int(r)
			}
			if h < 0 {
				h = -h
			}
			v[h%e.dims]++
		}
		out[i] = v
	}
	return out, nil
}

func (e *hashEmbedder) Dimensions() int { return e.dims }

func (e *hashEmbedder) GetProviderType() string { return "hash" }

func denseFixture(t *testing.T) *DenseIndex {
	t.Helper()
	store, err := vectordb.NewMemoryStore(vectordb.SimilarityCosine)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	idx, err := NewDenseIndex(&hashEmbedder{dims: 64}, store)
	if err != nil {
		t.Fatalf("new dense index: %v", err)
	}
	docs := []schema.Document{
		{ID: "a", Content: "goroutines channels concurrency"},
		{ID: "b", Content: "sql transactions isolation"},
		{ID: "c", Content: "goroutines scheduling runtime"},
	}
	if _, err := idx.AddDocuments(context.Background(), docs); err != nil {
		t.Fatalf("add documents: %v", err)
	}
	return idx
}

func TestDenseIndex_Search(t *testing.T) {
	idx := denseFixture(t)

	results, err := idx.Search(context.Background(), "goroutines concurrency", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Document.ID != "a" {
		t.Fatalf("expected a first, got %s", results[0].Document.ID)
	}
	if results[0].Score < results[1].Score {
		t.Fatalf("scores not descending")
	}
	if results[0].Methods[0] != schema.MethodDense {
		t.Fatalf("unexpected method tag: %v", results[0].Methods)
	}
}

func TestDenseIndex_SizeAndClear(t *testing.T) {
	idx := denseFixture(t)

	if idx.Size() != 3 {
		t.Fatalf("expected size 3, got %d", idx.Size())
	}
	if err := idx.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if idx.Size() != 0 {
		t.Fatalf("expected size 0 after clear, got %d", idx.Size())
	}
}

func TestDenseIndex_SaveLoadRoundTrip(t *testing.T) {
	idx := denseFixture(t)
	baseURL := t.TempDir()

	if err := idx.Save(context.Background(), baseURL); err != nil {
		t.Fatalf("save: %v", err)
	}

	store, _ := vectordb.NewMemoryStore(vectordb.SimilarityCosine)
	embedder := &hashEmbedder{dims: 64}
	restored, _ := NewDenseIndex(embedder, store)
	if err := restored.Load(context.Background(), baseURL); err != nil {
		t.Fatalf("load: %v", err)
	}
	if restored.Size() != 3 {
		t.Fatalf("expected 3 documents after load, got %d", restored.Size())
	}
	// Loading restores vectors directly; only the query is embedded.
	if embedder.calls != 0 {
		t.Fatalf("load must not call the embedder, got %d calls", embedder.calls)
	}

	results, err := restored.Search(context.Background(), "sql transactions", 1)
	if err != nil {
		t.Fatalf("search after load: %v", err)
	}
	if results[0].Document.ID != "b" {
		t.Fatalf("expected b after load, got %s", results[0].Document.ID)
	}
}
