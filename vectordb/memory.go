package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/viant/bintly"

	"github.com/braidsearch/braid/schema"
)

const (
	SimilarityCosine = "cosine"
	SimilarityIP     = "ip"
)

// MemoryStore is an exact nearest-neighbour store. Reads dominate once
// a corpus is loaded, so lookups take the read lock only.
type MemoryStore struct {
	mu         sync.RWMutex
	similarity string
	records    map[string]*Record
	norms      map[string]float64
}

// NewMemoryStore creates an in-process store using cosine or inner
// product similarity.
func NewMemoryStore(similarity string) (*MemoryStore, error) {
	switch similarity {
	case SimilarityCosine, SimilarityIP, "":
		if similarity == "" {
			similarity = SimilarityCosine
		}
	default:
		return nil, fmt.Errorf("unsupported similarity %q", similarity)
	}
	return &MemoryStore{
		similarity: similarity,
		records:    make(map[string]*Record),
		norms:      make(map[string]float64),
	}, nil
}

func (s *MemoryStore) Insert(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range records {
		rec := records[i]
		if rec.ID == "" {
			return fmt.Errorf("record %d has empty id: %w", i, schema.ErrIndex)
		}
		if len(rec.Vector) == 0 {
			return fmt.Errorf("record %q has empty vector: %w", rec.ID, schema.ErrIndex)
		}
		s.records[rec.ID] = &rec
		s.norms[rec.ID] = norm(rec.Vector)
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	queryNorm := norm(vector)
	matches := make([]Match, 0, len(s.records))
	for id, rec := range s.records {
		score := dot(vector, rec.Vector)
		if s.similarity == SimilarityCosine {
			denom := queryNorm * s.norms[id]
			if denom == 0 {
				continue
			}
			score /= denom
		}
		matches = append(matches, Match{Record: *rec, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*Record)
	s.norms = make(map[string]float64)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Close() error { return nil }

// EncodeBinary writes all records to a binary snapshot stream.
func (s *MemoryStore) EncodeBinary(stream *bintly.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream.String(s.similarity)
	stream.Int32(int32(len(s.records)))

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := s.records[id]
		stream.String(rec.ID)
		stream.String(rec.Content)

		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %q: %w", rec.ID, err)
		}
		stream.String(string(meta))

		stream.Int32(int32(len(rec.Vector)))
		for _, v := range rec.Vector {
			stream.Float32(v)
		}
	}
	return nil
}

// DecodeBinary replaces the store contents from a binary snapshot stream.
func (s *MemoryStore) DecodeBinary(stream *bintly.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var similarity string
	stream.String(&similarity)
	if similarity != "" {
		s.similarity = similarity
	}

	var count int32
	stream.Int32(&count)
	if count < 0 {
		return fmt.Errorf("negative record count %d: %w", count, schema.ErrIndex)
	}

	records := make(map[string]*Record, count)
	norms := make(map[string]float64, count)
	for i := int32(0); i < count; i++ {
		rec := &Record{}
		stream.String(&rec.ID)
		stream.String(&rec.Content)

		var meta string
		stream.String(&meta)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
				return fmt.Errorf("decode metadata for %q: %w", rec.ID, schema.ErrIndex)
			}
		}

		var dim int32
		stream.Int32(&dim)
		if dim < 0 {
			return fmt.Errorf("negative vector size for %q: %w", rec.ID, schema.ErrIndex)
		}
		rec.Vector = make([]float32, dim)
		for j := int32(0); j < dim; j++ {
			stream.Float32(&rec.Vector[j])
		}

		records[rec.ID] = rec
		norms[rec.ID] = norm(rec.Vector)
	}

	s.records = records
	s.norms = norms
	return nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
