// Package embedding turns MemoryNode content into unit-norm vectors for
// the retrieval pipeline's semantic side and the PE
// Ingest Gate's cosine-similarity comparisons.
package embedding

import (
	"context"

	"gonum.org/v1/gonum/blas/blas64"
)

// Embedder turns text into a fixed-dimension embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
	ModelID() string
}

// Normalize returns v scaled to unit L2 norm, as required by the cosine
// similarity used throughout retrieval and the ingest gate. A zero vector
// is returned unchanged since it has no direction to normalize to.
func Normalize(v []float64) []float64 {
	vec := blas64.Vector{N: len(v), Inc: 1, Data: append([]float64(nil), v...)}
	norm := blas64.Nrm2(vec)
	if norm == 0 {
		return vec.Data
	}
	out := make([]float64, len(v))
	for i, x := range vec.Data {
		out[i] = x / norm
	}
	return out
}

// CosineSimilarity assumes both vectors are already unit-norm, in which
// case cosine similarity reduces to the dot product.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	av := blas64.Vector{N: n, Inc: 1, Data: a[:n]}
	bv := blas64.Vector{N: n, Inc: 1, Data: b[:n]}
	return blas64.Dot(av, bv)
}
