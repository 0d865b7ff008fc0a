// Mock cross-encoder scoring service for local development. Speaks the
// rerank API the pipeline calls: POST {query, documents, model, top_n}
// returns {results: [{index, relevance_score}]}. Scores are term overlap
// between query and document, so relevant text actually ranks higher.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
)

type rerankReq struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n"`
}

type rerankItem struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResp struct {
	Results []rerankItem `json:"results"`
}

func handleRerank(w http.ResponseWriter, r *http.Request) {
	var req rerankReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	terms := tokenize(req.Query)
	out := rerankResp{Results: make([]rerankItem, 0, len(req.Documents))}
	for i, doc := range req.Documents {
		out.Results = append(out.Results, rerankItem{Index: i, RelevanceScore: overlap(terms, tokenize(doc))})
	}
	_ = json.NewEncoder(w).Encode(out)
}

func tokenize(s string) map[string]bool {
	set := map[string]bool{}
	for _, t := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(t, ".,!?:;\"'()")] = true
	}
	return set
}

func overlap(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	n := 0
	for t := range query {
		if doc[t] {
			n++
		}
	}
	return float64(n) / float64(len(query))
}

func main() {
	addr := ":8082"
	if v := os.Getenv("RERANK_ADDR"); v != "" {
		addr = v
	}
	http.HandleFunc("/rerank", handleRerank)
	log.Printf("Cross-encoder mock listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
