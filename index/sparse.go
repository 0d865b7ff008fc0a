package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/braidsearch/braid/embedding"
	"github.com/braidsearch/braid/schema"
)

// SparseIndex stores learned sparse-term vectors in an inverted index
// keyed by term id. Scoring is the dot product between the query's and
// the document's term weights.
type SparseIndex struct {
	mu       sync.RWMutex
	provider embedding.SparseProvider

	docs     map[string]schema.Document
	vectors  map[string]schema.SparseVector
	postings map[int]map[string]float32 // term id -> docID -> weight
}

// NewSparseIndex creates a sparse index backed by the given encoder.
func NewSparseIndex(provider embedding.SparseProvider) (*SparseIndex, error) {
	if provider == nil {
		return nil, fmt.Errorf("sparse index requires a sparse provider")
	}
	return &SparseIndex{
		provider: provider,
		docs:     make(map[string]schema.Document),
		vectors:  make(map[string]schema.SparseVector),
		postings: make(map[int]map[string]float32),
	}, nil
}

func (idx *SparseIndex) Name() string { return schema.MethodSparse }

func (idx *SparseIndex) AddDocuments(ctx context.Context, docs []schema.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return 0, fmt.Errorf("document %d has empty id: %w", i, schema.ErrIndex)
		}
		texts[i] = doc.Content
	}

	vectors, err := idx.provider.GetSparseEmbeddings(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("encode %d documents: %w", len(docs), err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range docs {
		idx.insertLocked(docs[i], vectors[i])
	}
	return len(docs), nil
}

// insertLocked replaces any previous posting entries for the document.
// Callers hold the write lock.
func (idx *SparseIndex) insertLocked(doc schema.Document, vec schema.SparseVector) {
	if old, ok := idx.vectors[doc.ID]; ok {
		for _, termID := range old.Indices {
			if m, ok := idx.postings[termID]; ok {
				delete(m, doc.ID)
				if len(m) == 0 {
					delete(idx.postings, termID)
				}
			}
		}
	}

	for i, termID := range vec.Indices {
		m := idx.postings[termID]
		if m == nil {
			m = make(map[string]float32)
			idx.postings[termID] = m
		}
		m[doc.ID] = vec.Values[i]
	}
	idx.docs[doc.ID] = schema.CloneDocument(doc)
	idx.vectors[doc.ID] = vec
}

func (idx *SparseIndex) Search(ctx context.Context, query string, topK int) ([]schema.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryVec, err := idx.provider.GetSparseEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	scores := make(map[string]float64)
	for i, termID := range queryVec.Indices {
		m, ok := idx.postings[termID]
		if !ok {
			continue
		}
		qw := float64(queryVec.Values[i])
		for id, w := range m {
			scores[id] += qw * float64(w)
		}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	results := make([]schema.SearchResult, 0, len(scores))
	for id, score := range scores {
		doc := idx.docs[id]
		results = append(results, schema.SearchResult{
			Document: schema.CloneDocument(doc),
			Score:    score,
			Methods:  []string{schema.MethodSparse},
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (idx *SparseIndex) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = make(map[string]schema.Document)
	idx.vectors = make(map[string]schema.SparseVector)
	idx.postings = make(map[int]map[string]float32)
	return nil
}

func (idx *SparseIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

type sparseSnapshotEntry struct {
	Document schema.Document     `json:"document"`
	Vector   schema.SparseVector `json:"vector"`
}

type sparseSnapshot struct {
	Version int                   `json:"version"`
	Entries []sparseSnapshotEntry `json:"entries"`
}

// Save persists documents together with their encoded vectors, so load
// never needs the encoder service.
func (idx *SparseIndex) Save(ctx context.Context, baseURL string) error {
	idx.mu.RLock()
	snap := sparseSnapshot{Version: snapshotVersion}
	snap.Entries = make([]sparseSnapshotEntry, 0, len(idx.docs))
	for id, doc := range idx.docs {
		snap.Entries = append(snap.Entries, sparseSnapshotEntry{Document: doc, Vector: idx.vectors[id]})
	}
	idx.mu.RUnlock()

	sort.Slice(snap.Entries, func(i, j int) bool {
		return snap.Entries[i].Document.ID < snap.Entries[j].Document.ID
	})
	return saveJSON(ctx, assetURL(baseURL, schema.MethodSparse), &snap)
}

func (idx *SparseIndex) Load(ctx context.Context, baseURL string) error {
	var snap sparseSnapshot
	found, err := loadJSON(ctx, assetURL(baseURL, schema.MethodSparse), &snap)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("sparse snapshot version %d unsupported: %w", snap.Version, schema.ErrIndex)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = make(map[string]schema.Document, len(snap.Entries))
	idx.vectors = make(map[string]schema.SparseVector, len(snap.Entries))
	idx.postings = make(map[int]map[string]float32)
	for _, entry := range snap.Entries {
		if len(entry.Vector.Indices) != len(entry.Vector.Values) {
			return fmt.Errorf("sparse snapshot entry %q malformed: %w", entry.Document.ID, schema.ErrIndex)
		}
		idx.insertLocked(entry.Document, entry.Vector)
	}
	return nil
}
