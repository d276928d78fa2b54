package embedding

import (
	"encoding/binary"
	"math"
)

// EncodeVector packs a []float64 into a little-endian []byte BLOB for
// storage in internal/database's embeddings table.
func EncodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(x))
	}
	return buf
}

// DecodeVector unpacks a BLOB produced by EncodeVector back into a
// []float64.
func DecodeVector(b []byte) []float64 {
	n := len(b) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out
}
