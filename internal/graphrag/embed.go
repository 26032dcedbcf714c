package graphrag

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder turns a document's text into a dense embedding. The original
// system calls out to an external embedding API; generative collaborators
// are named-only out-of-scope interfaces here, so no embedding SDK is
// wired into this module (see DESIGN.md for why). HashEmbedder is a
// deterministic, dependency-free stand-in: good enough to exercise the
// vector store's kNN path and to keep indexing reproducible in tests,
// without pretending to carry real semantic meaning.
type Embedder interface {
	Embed(text string) []float32
}

// HashEmbedder builds a fixed-dimension bag-of-words embedding by hashing
// each token into a bucket and accumulating a signed count, then
// L2-normalizing. Deterministic and side-effect free.
type HashEmbedder struct {
	Dim int
}

// NewHashEmbedder returns a HashEmbedder with the given dimensionality
// (defaults to 64).
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float64, h.Dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		sum := fnv.New32a()
		_, _ = sum.Write([]byte(tok))
		sign := fnv.New32()
		_, _ = sign.Write([]byte("sign:" + tok))
		idx := int(sum.Sum32()) % h.Dim
		if idx < 0 {
			idx += h.Dim
		}
		if sign.Sum32()%2 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, h.Dim)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
