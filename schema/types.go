// Package schema defines the data model shared by every pipeline stage.
package schema

import "time"

// QueryType labels the shape of an incoming query. The classifier assigns
// exactly one type; everything that is not recognisably complex is Simple.
type QueryType string

const (
	QuerySimple      QueryType = "simple"
	QueryComparative QueryType = "comparative"
	QueryAggregation QueryType = "aggregation"
	QueryMultiHop    QueryType = "multi_hop"
	QueryTemporal    QueryType = "temporal"
	QueryConditional QueryType = "conditional"
)

// Retrieval signal names accepted by Search.
const (
	MethodBM25   = "bm25"
	MethodDense  = "dense"
	MethodSparse = "sparse"
)

// Rerank method names accepted by Rerank. A "_fallback" suffix on a result's
// method tag records that the named method degraded to its fallback path.
const (
	RerankCrossEncoder = "cross_encoder"
	RerankLLM          = "llm"
	RerankHybrid       = "hybrid"

	FallbackSuffix = "_fallback"
)

// Document is an indexed unit of text. IDs are unique and immutable once
// assigned; documents enter an index only through batch insertion and are
// never mutated in place.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResult is one retrieval hit. Methods carries the union of signal
// names that produced the hit (a single entry before fusion).
type SearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
	Methods  []string `json:"methods,omitempty"`
}

// RerankedResult extends a SearchResult with the rerank outcome.
// Confidence is always within [0,1].
type RerankedResult struct {
	SearchResult
	RerankScore float64 `json:"rerank_score"`
	Confidence  float64 `json:"confidence"`
	Method      string  `json:"method"`
}

// SubQuery is one node of a decomposition. Immutable after creation.
type SubQuery struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Type      QueryType      `json:"type"`
	Priority  int            `json:"priority"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DecompositionOutcome tags which path produced a decomposition, so the
// fallback path is explicit rather than inferred from the result shape.
type DecompositionOutcome string

const (
	OutcomeTemplated      DecompositionOutcome = "templated"
	OutcomeProviderParsed DecompositionOutcome = "provider_parsed"
	OutcomeFallback       DecompositionOutcome = "fallback"
)

// DecompositionResult is the full plan for one incoming query.
//
// Invariants: Dependencies is acyclic; every id in ExecutionOrder is unique
// and every dependency id is a key of Dependencies; a Simple decomposition
// holds exactly one sub-query equal to the original query with no
// dependencies.
type DecompositionResult struct {
	Query          string               `json:"query"`
	Type           QueryType            `json:"type"`
	SubQueries     []SubQuery           `json:"sub_queries"`
	Dependencies   map[string][]string  `json:"dependencies"`
	ExecutionOrder []string             `json:"execution_order"`
	IsSimple       bool                 `json:"is_simple"`
	Outcome        DecompositionOutcome `json:"outcome"`
}

// SubQueryByID returns the sub-query with the given id, or nil.
func (d *DecompositionResult) SubQueryByID(id string) *SubQuery {
	for i := range d.SubQueries {
		if d.SubQueries[i].ID == id {
			return &d.SubQueries[i]
		}
	}
	return nil
}

// AggregatedResult is the outcome of a full Run: decomposition, the final
// reranked list, and enough bookkeeping to tell a degraded run from a
// healthy one.
type AggregatedResult struct {
	Query         string               `json:"query"`
	Decomposition *DecompositionResult `json:"decomposition"`
	Results       []RerankedResult     `json:"results"`
	PerSubQuery   map[string]int       `json:"per_sub_query"`
	Context       string               `json:"context,omitempty"`
	Degraded      bool                 `json:"degraded"`
	FailureReason string               `json:"failure_reason,omitempty"`
	Elapsed       time.Duration        `json:"elapsed"`
}

// SparseVector is a learned sparse term-weight vector: parallel term index
// and weight arrays, sorted ascending by index.
type SparseVector struct {
	Indices []int     `json:"indices"`
	Values  []float32 `json:"values"`
}

// Dot computes the dot product of two sparse vectors over their shared
// indices. Both operands must be sorted ascending by index.
func (v SparseVector) Dot(o SparseVector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v.Indices) && j < len(o.Indices) {
		switch {
		case v.Indices[i] == o.Indices[j]:
			sum += float64(v.Values[i]) * float64(o.Values[j])
			i++
			j++
		case v.Indices[i] < o.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

// CloneDocument deep-copies a document so callers cannot alias cached state.
func CloneDocument(d Document) Document {
	out := Document{ID: d.ID, Content: d.Content}
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// CloneResults deep-copies a result list.
func CloneResults(in []SearchResult) []SearchResult {
	if in == nil {
		return nil
	}
	out := make([]SearchResult, len(in))
	for i, r := range in {
		out[i] = SearchResult{
			Document: CloneDocument(r.Document),
			Score:    r.Score,
		}
		if r.Methods != nil {
			out[i].Methods = append([]string(nil), r.Methods...)
		}
	}
	return out
}
