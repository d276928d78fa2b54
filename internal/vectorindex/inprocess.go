package vectorindex

import (
	"container/heap"
	"context"
	"sync"

	"gonum.org/v1/gonum/blas/blas64"

	"github.com/engramhq/engram/internal/engerr"
)

// InProcessIndex is a brute-force cosine-similarity scan over unit-norm
// vectors held in memory. It is the primary Index: rebuilt from
// internal/database.AllEmbeddings at startup, so the store alone remains
// the source of truth and no external service is required to run.
type InProcessIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float64
	dim     int
}

// NewInProcessIndex builds an empty index for vectors of dimension dim.
func NewInProcessIndex(dim int) *InProcessIndex {
	return &InProcessIndex{vectors: make(map[string][]float64), dim: dim}
}

func (idx *InProcessIndex) Upsert(_ context.Context, id string, vector []float64) error {
	if len(vector) != idx.dim && idx.dim != 0 {
		return engerr.Invalid("vector dimension %d does not match index dimension %d", len(vector), idx.dim)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors[id] = append([]float64(nil), vector...)
	return nil
}

func (idx *InProcessIndex) Delete(_ context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vectors, id)
	return nil
}

func (idx *InProcessIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Search returns the limit nearest neighbours to query by cosine
// similarity, assuming both the query and stored vectors are unit-norm so
// similarity reduces to a dot product.
func (idx *InProcessIndex) Search(_ context.Context, query []float64, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	h := &matchHeap{}
	heap.Init(h)

	qv := blas64.Vector{N: len(query), Inc: 1, Data: query}
	for id, vec := range idx.vectors {
		n := len(vec)
		if n > qv.N {
			n = qv.N
		}
		score := blas64.Dot(blas64.Vector{N: n, Inc: 1, Data: qv.Data[:n]}, blas64.Vector{N: n, Inc: 1, Data: vec[:n]})

		if h.Len() < limit {
			heap.Push(h, Match{MemoryID: id, Score: score})
		} else if (*h)[0].Score < score {
			heap.Pop(h)
			heap.Push(h, Match{MemoryID: id, Score: score})
		}
	}

	out := make([]Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Match)
	}
	return out, nil
}

// matchHeap is a min-heap on Score, letting Search keep only the current
// top-`limit` matches while streaming the full scan in O(n log limit).
type matchHeap []Match

func (h matchHeap) Len() int            { return len(h) }
func (h matchHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h matchHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x interface{}) { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
