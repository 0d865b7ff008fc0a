package vectordb

import (
	"context"

	"github.com/viant/bintly"
)

// Record is a stored document with its dense vector.
type Record struct {
	ID       string
	Content  string
	Metadata map[string]any
	Vector   []float32
}

// Match is a search hit with its similarity score.
type Match struct {
	Record
	Score float64
}

// Store holds dense vectors and answers nearest-neighbour queries.
// Inserting an existing ID replaces the stored record.
type Store interface {
	Insert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, topK int) ([]Match, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Snapshotter is implemented by stores whose full state can travel
// through a binary snapshot. Remote stores do not implement it.
type Snapshotter interface {
	EncodeBinary(stream *bintly.Writer) error
	DecodeBinary(stream *bintly.Reader) error
}
