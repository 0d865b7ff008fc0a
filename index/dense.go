package index

import (
	"context"
	"fmt"

	"github.com/viant/bintly"

	"github.com/braidsearch/braid/embedding"
	"github.com/braidsearch/braid/schema"
	"github.com/braidsearch/braid/vectordb"
)

// DenseIndex pairs an embedding provider with a vector store.
type DenseIndex struct {
	embedder embedding.Provider
	store    vectordb.Store
}

// NewDenseIndex wires the embedder and store together.
func NewDenseIndex(embedder embedding.Provider, store vectordb.Store) (*DenseIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("dense index requires an embedding provider")
	}
	if store == nil {
		return nil, fmt.Errorf("dense index requires a vector store")
	}
	return &DenseIndex{embedder: embedder, store: store}, nil
}

func (idx *DenseIndex) Name() string { return schema.MethodDense }

func (idx *DenseIndex) AddDocuments(ctx context.Context, docs []schema.Document) (int, error) {
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

	vectors, err := idx.embedder.GetEmbeddings(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %d documents: %w", len(docs), err)
	}

	records := make([]vectordb.Record, len(docs))
	for i, doc := range docs {
		records[i] = vectordb.Record{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
			Vector:   vectors[i],
		}
	}
	if err := idx.store.Insert(ctx, records); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (idx *DenseIndex) Search(ctx context.Context, query string, topK int) ([]schema.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	vector, err := idx.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches, err := idx.store.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]schema.SearchResult, len(matches))
	for i, m := range matches {
		results[i] = schema.SearchResult{
			Document: schema.Document{ID: m.ID, Content: m.Content, Metadata: m.Metadata},
			Score:    m.Score,
			Methods:  []string{schema.MethodDense},
		}
	}
	return results, nil
}

func (idx *DenseIndex) Clear(ctx context.Context) error {
	return idx.store.Clear(ctx)
}

func (idx *DenseIndex) Size() int {
	n, err := idx.store.Count(context.Background())
	if err != nil {
		return 0
	}
	return n
}

// Save snapshots the vector store. Stores without snapshot support,
// such as Milvus, refuse with an index error; their durability is the
// remote service's concern.
func (idx *DenseIndex) Save(ctx context.Context, baseURL string) error {
	snapper, ok := idx.store.(vectordb.Snapshotter)
	if !ok {
		return fmt.Errorf("dense store does not support snapshots: %w", schema.ErrIndex)
	}

	writers := bintly.NewWriters()
	w := writers.Get()
	defer writers.Put(w)
	if err := snapper.EncodeBinary(w); err != nil {
		return fmt.Errorf("encode dense snapshot: %w", err)
	}
	return uploadBytes(ctx, binaryAssetURL(baseURL, schema.MethodDense), w.Bytes())
}

func (idx *DenseIndex) Load(ctx context.Context, baseURL string) error {
	snapper, ok := idx.store.(vectordb.Snapshotter)
	if !ok {
		return fmt.Errorf("dense store does not support snapshots: %w", schema.ErrIndex)
	}

	data, found, err := readBytes(ctx, binaryAssetURL(baseURL, schema.MethodDense))
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	readers := bintly.NewReaders()
	r := readers.Get()
	defer readers.Put(r)
	if err := r.FromBytes(data); err != nil {
		return fmt.Errorf("corrupt dense snapshot: %v: %w", err, schema.ErrIndex)
	}
	if err := snapper.DecodeBinary(r); err != nil {
		return fmt.Errorf("decode dense snapshot: %v: %w", err, schema.ErrIndex)
	}
	return nil
}
