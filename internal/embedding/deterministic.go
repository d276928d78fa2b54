package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// DeterministicEmbedder hashes text into a fixed-dimension vector via one
// SHA-256 digest per word. It requires no network or model
// download, so it is the default Embedder for tests and for deployments
// without an Ollama endpoint configured, a real model should replace it
// for production-quality semantic retrieval.
type DeterministicEmbedder struct {
	dim int
}

// NewDeterministicEmbedder builds a DeterministicEmbedder producing dim-
// dimensional unit-norm vectors.
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &DeterministicEmbedder{dim: dim}
}

func (e *DeterministicEmbedder) Dimension() int  { return e.dim }
func (e *DeterministicEmbedder) ModelID() string { return "deterministic-hash-v1" }

// Embed lowercases text, splits it on whitespace and hashes each token once
// with SHA-256; every dimension takes a signed byte value read from that
// digest (cycling through it with a shifting byte window), summed over all
// tokens. Text with no tokens is hashed whole instead. The result is
// L2-normalized. Tokenizing on whitespace (rather than hashing raw bytes)
// means inputs sharing words produce vectors with non-trivial cosine
// similarity, which is what the ingest gate and retrieval pipeline need
// from even a placeholder embedder.
func (e *DeterministicEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	tokens := strings.Fields(strings.ToLower(text))
	vec := make([]float64, e.dim)

	for _, tok := range tokens {
		h := sha256.Sum256([]byte(tok))
		for i := 0; i < e.dim; i++ {
			byteIdx := i % len(h)
			shift := uint((i / len(h)) % 4 * 8)
			window := []byte{h[byteIdx], h[(byteIdx+1)%len(h)], h[(byteIdx+2)%len(h)], h[(byteIdx+3)%len(h)]}
			b := (binary.BigEndian.Uint32(window) >> shift) & 0xff
			signed := float64(int(b) - 128)
			vec[i] += signed
		}
	}

	if len(tokens) == 0 {
		h := sha256.Sum256([]byte(text))
		for i := 0; i < e.dim; i++ {
			vec[i] = float64(int(h[i%len(h)]) - 128)
		}
	}

	return Normalize(vec), nil
}
