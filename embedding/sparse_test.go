package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/braidsearch/braid/schema"
)

func TestHTTPSparseProvider_GetSparseEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sparseReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		out := sparseResp{}
		for i := range req.Input {
			out.Data = append(out.Data, struct {
				Indices []int     `json:"indices"`
				Values  []float32 `json:"values"`
			}{Indices: []int{i, i + 10}, Values: []float32{0.5, 0.25}})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	p := NewHTTPSparseProvider(srv.URL, "splade-v3", "", nil, nil)
	vectors, err := p.GetSparseEmbeddings(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("sparse embeddings failed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[1].Indices[0] != 1 || vectors[1].Values[0] != 0.5 {
		t.Fatalf("unexpected vector: %+v", vectors[1])
	}
}

func TestHTTPSparseProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPSparseProvider(srv.URL, "splade-v3", "", nil, nil)
	_, err := p.GetSparseEmbedding(context.Background(), "a")
	if !errors.Is(err, schema.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestHTTPSparseProvider_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"indices":[1,2],"values":[0.5]}]}`))
	}))
	defer srv.Close()

	p := NewHTTPSparseProvider(srv.URL, "splade-v3", "", nil, nil)
	_, err := p.GetSparseEmbedding(context.Background(), "a")
	if !errors.Is(err, schema.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
