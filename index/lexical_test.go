package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/braidsearch/braid/schema"
)

func lexicalFixture(t *testing.T) *LexicalIndex {
	t.Helper()
	idx := NewLexicalIndex(1.2, 0.75, true)
	docs := []schema.Document{
		{ID: "go1", Content: "Go is a statically typed compiled language with goroutines"},
		{ID: "py1", Content: "Python is a dynamically typed interpreted language"},
		{ID: "db1", Content: "Databases store structured data and answer queries"},
		{ID: "go2", Content: "Goroutines and channels make concurrency in Go simple"},
	}
	n, err := idx.AddDocuments(context.Background(), docs)
	if err != nil {
		t.Fatalf("add documents: %v", err)
	}
	if n != len(docs) {
		t.Fatalf("expected %d documents accepted, got %d", len(docs), n)
	}
	return idx
}

func TestLexicalIndex_SearchRanking(t *testing.T) {
	idx := lexicalFixture(t)

	results, err := idx.Search(context.Background(), "goroutines concurrency", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected results")
	}
	if results[0].Document.ID != "go2" {
		t.Fatalf("expected go2 first (both terms), got %s", results[0].Document.ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Fatalf("scores not descending at %d: %f < %f", i, results[i-1].Score, results[i].Score)
		}
	}
	for _, r := range results {
		if len(r.Methods) != 1 || r.Methods[0] != schema.MethodBM25 {
			t.Fatalf("unexpected methods: %v", r.Methods)
		}
	}
}

func TestLexicalIndex_TopKClamp(t *testing.T) {
	idx := lexicalFixture(t)

	results, err := idx.Search(context.Background(), "language typed", 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected exactly 1 result, got %d", len(results))
	}
}

func TestLexicalIndex_NoMatchesAndEmptyQuery(t *testing.T) {
	idx := lexicalFixture(t)

	results, err := idx.Search(context.Background(), "quantum chromodynamics", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}

	results, err = idx.Search(context.Background(), "the of and", 5)
	if err != nil {
		t.Fatalf("stopword-only search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results for stopword-only query, got %d", len(results))
	}
}

func TestLexicalIndex_ReplaceDocument(t *testing.T) {
	idx := NewLexicalIndex(0, 0, true)

	_, _ = idx.AddDocuments(context.Background(), []schema.Document{{ID: "a", Content: "kubernetes deployment"}})
	_, _ = idx.AddDocuments(context.Background(), []schema.Document{{ID: "a", Content: "terraform modules"}})

	if idx.Size() != 1 {
		t.Fatalf("expected 1 document after replace, got %d", idx.Size())
	}
	results, _ := idx.Search(context.Background(), "kubernetes", 5)
	if len(results) != 0 {
		t.Fatalf("stale postings survived replace: %+v", results)
	}
	results, _ = idx.Search(context.Background(), "terraform", 5)
	if len(results) != 1 {
		t.Fatalf("expected replaced content to match, got %d results", len(results))
	}
}

func TestLexicalIndex_TieBreakByID(t *testing.T) {
	idx := NewLexicalIndex(0, 0, true)

	_, _ = idx.AddDocuments(context.Background(), []schema.Document{
		{ID: "zz", Content: "identical text"},
		{ID: "aa", Content: "identical text"},
	})
	results, _ := idx.Search(context.Background(), "identical", 2)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Document.ID != "aa" || results[1].Document.ID != "zz" {
		t.Fatalf("tie not broken by id: %s then %s", results[0].Document.ID, results[1].Document.ID)
	}
}

func TestLexicalIndex_SaveLoadRoundTrip(t *testing.T) {
	idx := lexicalFixture(t)
	baseURL := t.TempDir()

	if err := idx.Save(context.Background(), baseURL); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := NewLexicalIndex(1.2, 0.75, true)
	if err := restored.Load(context.Background(), baseURL); err != nil {
		t.Fatalf("load: %v", err)
	}
	if restored.Size() != idx.Size() {
		t.Fatalf("size mismatch after load: %d vs %d", restored.Size(), idx.Size())
	}

	want, _ := idx.Search(context.Background(), "goroutines", 5)
	got, _ := restored.Search(context.Background(), "goroutines", 5)
	if len(want) != len(got) {
		t.Fatalf("result count mismatch: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].Document.ID != got[i].Document.ID || want[i].Score != got[i].Score {
			t.Fatalf("result %d mismatch: %+v vs %+v", i, want[i], got[i])
		}
	}
}

func TestLexicalIndex_LoadMissingSnapshotKeepsContents(t *testing.T) {
	idx := lexicalFixture(t)
	size := idx.Size()

	if err := idx.Load(context.Background(), t.TempDir()); err != nil {
		t.Fatalf("load from empty dir: %v", err)
	}
	if idx.Size() != size {
		t.Fatalf("missing snapshot should leave index untouched, size %d vs %d", idx.Size(), size)
	}
}

func TestLexicalIndex_ManyDocumentsBounded(t *testing.T) {
	idx := NewLexicalIndex(0, 0, false)
	docs := make([]schema.Document, 50)
	for i := range docs {
		docs[i] = schema.Document{ID: fmt.Sprintf("d%02d", i), Content: "shared term payload"}
	}
	if _, err := idx.AddDocuments(context.Background(), docs); err != nil {
		t.Fatalf("add: %v", err)
	}

	results, _ := idx.Search(context.Background(), "shared", 7)
	if len(results) != 7 {
		t.Fatalf("expected topK=7 results, got %d", len(results))
	}
}
