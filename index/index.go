// Package index implements the retrieval signals behind hybrid search:
// a BM25 inverted index, an embedding-backed dense index, and a learned
// sparse-term index. All three share one additive contract; documents
// are only ever added or replaced, never mutated in place.
package index

import (
	"context"

	"github.com/braidsearch/braid/schema"
)

// Index is the common contract of all retrieval signals.
type Index interface {
	// Name returns the retrieval method this index serves.
	Name() string

	// AddDocuments indexes the batch and returns how many documents it
	// accepted. A document whose ID already exists is replaced.
	AddDocuments(ctx context.Context, docs []schema.Document) (int, error)

	// Search returns up to topK results ordered by descending score,
	// ties broken by ascending document ID.
	Search(ctx context.Context, query string, topK int) ([]schema.SearchResult, error)

	// Save writes a snapshot under baseURL.
	Save(ctx context.Context, baseURL string) error

	// Load replaces the index contents from a snapshot under baseURL.
	// A missing snapshot leaves the index untouched.
	Load(ctx context.Context, baseURL string) error

	// Clear removes all documents.
	Clear(ctx context.Context) error

	// Size returns the number of indexed documents.
	Size() int
}
