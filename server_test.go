package braid

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/braidsearch/braid/schema"
)

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func TestServer_RegistersAllTools(t *testing.T) {
	c := newTestClient(t, testConfig())
	s := NewServer(c)
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestHandleSearch(t *testing.T) {
	c := newTestClient(t, testConfig())
	seed(t, c)
	handler := handleSearch(c)

	res, err := handler(context.Background(), toolRequest("search", map[string]any{
		"query":  "about Python",
		"method": schema.MethodBM25,
		"top_k":  2,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var results []schema.SearchResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &results); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(results) == 0 || len(results) > 2 {
		t.Fatalf("got %d results, want 1..2", len(results))
	}
	if results[0].Document.ID != "py" {
		t.Errorf("top result = %s, want py", results[0].Document.ID)
	}
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	c := newTestClient(t, testConfig())
	handler := handleSearch(c)

	res, err := handler(context.Background(), toolRequest("search", map[string]any{}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for missing query")
	}
}

func TestHandleSearch_UnknownMethod(t *testing.T) {
	c := newTestClient(t, testConfig())
	seed(t, c)
	handler := handleSearch(c)

	res, err := handler(context.Background(), toolRequest("search", map[string]any{
		"query":  "anything",
		"method": "semantic",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for unknown method")
	}
	if !strings.Contains(resultText(t, res), "semantic") {
		t.Errorf("error should name the bad method, got %q", resultText(t, res))
	}
}

func TestHandleDecompose(t *testing.T) {
	c := newTestClient(t, testConfig())
	handler := handleDecompose(c)

	res, err := handler(context.Background(), toolRequest("decompose", map[string]any{
		"query": "Python and Java: what's the difference?",
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var dec schema.DecompositionResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &dec); err != nil {
		t.Fatalf("decode decomposition: %v", err)
	}
	if dec.Type != schema.QueryComparative {
		t.Errorf("type = %s, want %s", dec.Type, schema.QueryComparative)
	}
	if len(dec.SubQueries) != 3 {
		t.Errorf("sub-queries = %d, want 3", len(dec.SubQueries))
	}
}

func TestHandleQuery(t *testing.T) {
	c := newTestClient(t, testConfig())
	seed(t, c)
	handler := handleQuery(c)

	res, err := handler(context.Background(), toolRequest("query", map[string]any{
		"query": "about Python",
		"top_k": 3,
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var agg schema.AggregatedResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &agg); err != nil {
		t.Fatalf("decode aggregate: %v", err)
	}
	if len(agg.Results) == 0 {
		t.Fatal("expected results")
	}
	if agg.Degraded {
		t.Errorf("run degraded: %s", agg.FailureReason)
	}
}

func TestHandleRerank(t *testing.T) {
	c := newTestClient(t, testConfig())
	handler := handleRerank(c)

	res, err := handler(context.Background(), toolRequest("rerank", map[string]any{
		"query": "python",
		"results": []any{
			map[string]any{
				"document": map[string]any{"id": "a", "content": "Python is a programming language"},
				"score":    0.8,
			},
			map[string]any{
				"document": map[string]any{"id": "b", "content": "Paris is in France"},
				"score":    0.5,
			},
		},
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}

	var reranked []schema.RerankedResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &reranked); err != nil {
		t.Fatalf("decode reranked: %v", err)
	}
	if len(reranked) != 2 {
		t.Fatalf("got %d reranked, want 2", len(reranked))
	}
}

func TestHandleRerank_MissingQuery(t *testing.T) {
	c := newTestClient(t, testConfig())
	handler := handleRerank(c)

	res, err := handler(context.Background(), toolRequest("rerank", map[string]any{
		"results": []any{},
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for missing query")
	}
}

func TestHandleAddDocumentsAndStats(t *testing.T) {
	c := newTestClient(t, testConfig())

	add := handleAddDocuments(c)
	res, err := add(context.Background(), toolRequest("add-documents", map[string]any{
		"documents": []any{
			map[string]any{"id": "d1", "content": "Go is a statically typed language"},
			map[string]any{"id": "d2", "content": "Rust emphasizes memory safety"},
		},
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if got := resultText(t, res); !strings.Contains(got, "2") {
		t.Errorf("expected count in response, got %q", got)
	}

	stats := handleIndexStats(c)
	res, err = stats(context.Background(), toolRequest("index-stats", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(resultText(t, res)), &counts); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if counts[schema.MethodBM25] != 2 {
		t.Errorf("bm25 count = %d, want 2", counts[schema.MethodBM25])
	}
}

func TestHandleAddDocuments_RejectsMissingID(t *testing.T) {
	c := newTestClient(t, testConfig())
	handler := handleAddDocuments(c)

	res, err := handler(context.Background(), toolRequest("add-documents", map[string]any{
		"documents": []any{
			map[string]any{"content": "no id here"},
		},
	}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for document without id")
	}
}

func TestHandleClearIndexes(t *testing.T) {
	c := newTestClient(t, testConfig())
	seed(t, c)

	res, err := handleClearIndexes(c)(context.Background(), toolRequest("clear-indexes", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	for method, n := range c.Stats() {
		if n != 0 {
			t.Errorf("%s still has %d documents after clear", method, n)
		}
	}
}

func TestHandleSaveIndexes_WithoutSnapshotURL(t *testing.T) {
	c := newTestClient(t, testConfig())

	res, err := handleSaveIndexes(c)(context.Background(), toolRequest("save-indexes", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error when snapshot_url is not configured")
	}
}
