// Package vectorindex implements the semantic side of retrieval Stage 1:
// approximate-NN search over unit-norm embeddings by cosine
// similarity. The primary Index is in-process and rebuildable from the
// store alone; Qdrant is wired in as an optional secondary backend for
// deployments that want an external ANN service.
package vectorindex

import "context"

// Match is one nearest-neighbour hit.
type Match struct {
	MemoryID string
	Score    float64 // cosine similarity in [-1,1], unit vectors in practice [0,1]
}

// Index is the interface both backends satisfy.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float64) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query []float64, limit int) ([]Match, error)
	Len() int
}
