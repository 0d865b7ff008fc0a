package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/braidsearch/braid/schema"
)

// LexicalIndex is an in-process BM25 inverted index.
type LexicalIndex struct {
	mu        sync.RWMutex
	k1        float64
	b         float64
	tokenizer *Tokenizer

	docs       map[string]schema.Document
	postings   map[string]map[string]int // term -> docID -> term frequency
	docLengths map[string]int
	totalLen   int
}

// NewLexicalIndex creates a BM25 index with the given constants. Zero
// values fall back to k1=1.2, b=0.75.
func NewLexicalIndex(k1, b float64, removeStopwords bool) *LexicalIndex {
	if k1 <= 0 {
		k1 = 1.2
	}
	if b <= 0 {
		b = 0.75
	}
	return &LexicalIndex{
		k1:         k1,
		b:          b,
		tokenizer:  &Tokenizer{RemoveStopwords: removeStopwords},
		docs:       make(map[string]schema.Document),
		postings:   make(map[string]map[string]int),
		docLengths: make(map[string]int),
	}
}

func (idx *LexicalIndex) Name() string { return schema.MethodBM25 }

func (idx *LexicalIndex) AddDocuments(ctx context.Context, docs []schema.Document) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i := range docs {
		doc := docs[i]
		if doc.ID == "" {
			return i, fmt.Errorf("document %d has empty id: %w", i, schema.ErrIndex)
		}
		if _, exists := idx.docs[doc.ID]; exists {
			idx.removeLocked(doc.ID)
		}

		tokens := idx.tokenizer.Tokenize(doc.Content)
		for _, tok := range tokens {
			m := idx.postings[tok]
			if m == nil {
				m = make(map[string]int)
				idx.postings[tok] = m
			}
			m[doc.ID]++
		}
		idx.docs[doc.ID] = schema.CloneDocument(doc)
		idx.docLengths[doc.ID] = len(tokens)
		idx.totalLen += len(tokens)
	}
	return len(docs), nil
}

// removeLocked erases a document from all posting lists. Callers hold
// the write lock.
func (idx *LexicalIndex) removeLocked(id string) {
	old := idx.docs[id]
	for _, tok := range idx.tokenizer.Tokenize(old.Content) {
		if m, ok := idx.postings[tok]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(idx.postings, tok)
			}
		}
	}
	idx.totalLen -= idx.docLengths[id]
	delete(idx.docLengths, id)
	delete(idx.docs, id)
}

func (idx *LexicalIndex) Search(ctx context.Context, query string, topK int) ([]schema.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	terms := idx.tokenizer.Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(idx.totalLen) / float64(n)

	scores := make(map[string]float64)
	for _, term := range terms {
		m, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := len(m)
		// +1 keeps the IDF positive even for terms in most documents.
		idf := math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		for id, tf := range m {
			docLen := float64(idx.docLengths[id])
			denom := float64(tf) + idx.k1*(1-idx.b+idx.b*docLen/avgLen)
			scores[id] += idf * float64(tf) * (idx.k1 + 1) / denom
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
			Methods:  []string{schema.MethodBM25},
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

func (idx *LexicalIndex) Clear(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = make(map[string]schema.Document)
	idx.postings = make(map[string]map[string]int)
	idx.docLengths = make(map[string]int)
	idx.totalLen = 0
	return nil
}

func (idx *LexicalIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

type lexicalSnapshot struct {
	Version int               `json:"version"`
	K1      float64           `json:"k1"`
	B       float64           `json:"b"`
	Docs    []schema.Document `json:"docs"`
}

// Save writes the document set; postings are rebuilt on load.
func (idx *LexicalIndex) Save(ctx context.Context, baseURL string) error {
	idx.mu.RLock()
	snap := lexicalSnapshot{Version: snapshotVersion, K1: idx.k1, B: idx.b}
	snap.Docs = make([]schema.Document, 0, len(idx.docs))
	for _, doc := range idx.docs {
		snap.Docs = append(snap.Docs, doc)
	}
	idx.mu.RUnlock()

	sort.Slice(snap.Docs, func(i, j int) bool { return snap.Docs[i].ID < snap.Docs[j].ID })
	return saveJSON(ctx, assetURL(baseURL, schema.MethodBM25), &snap)
}

func (idx *LexicalIndex) Load(ctx context.Context, baseURL string) error {
	var snap lexicalSnapshot
	found, err := loadJSON(ctx, assetURL(baseURL, schema.MethodBM25), &snap)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("lexical snapshot version %d unsupported: %w", snap.Version, schema.ErrIndex)
	}

	if err := idx.Clear(ctx); err != nil {
		return err
	}
	_, err = idx.AddDocuments(ctx, snap.Docs)
	return err
}
