// Mock sparse encoder service for local development. Speaks the encoder
// API the pipeline calls: POST {model, input: [texts]} returns
// {data: [{indices, values}]}. Terms are hashed into a fixed vocabulary
// and weighted by frequency, so matching text produces matching indices.
package main

import (
	"encoding/json"
	"hash/fnv"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
)

const vocabSize = 30522

type encodeReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type sparseVec struct {
	Indices []int     `json:"indices"`
	Values  []float32 `json:"values"`
}

type encodeResp struct {
	Data []sparseVec `json:"data"`
}

func handleEncode(w http.ResponseWriter, r *http.Request) {
	var req encodeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := encodeResp{Data: make([]sparseVec, 0, len(req.Input))}
	for _, text := range req.Input {
		out.Data = append(out.Data, encode(text))
	}
	_ = json.NewEncoder(w).Encode(out)
}

func encode(text string) sparseVec {
	counts := map[int]float32{}
	for _, t := range strings.Fields(strings.ToLower(text)) {
		t = strings.Trim(t, ".,!?:;\"'()")
		if t == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(t))
		counts[int(h.Sum32())%vocabSize]++
	}
	vec := sparseVec{Indices: make([]int, 0, len(counts)), Values: make([]float32, 0, len(counts))}
	for idx := range counts {
		vec.Indices = append(vec.Indices, idx)
	}
	sort.Ints(vec.Indices)
	for _, idx := range vec.Indices {
		vec.Values = append(vec.Values, counts[idx])
	}
	return vec
}

func main() {
	addr := ":8083"
	if v := os.Getenv("SPARSE_ADDR"); v != "" {
		addr = v
	}
	http.HandleFunc("/encode", handleEncode)
	log.Printf("Sparse encoder mock listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
