// Package mock provides a deterministic embedder for tests and offline use.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/locilabs/loci/core"
)

// Embedder generates deterministic embeddings without a model. Each word is
// hashed into a bucket of the vector, so texts sharing words get genuinely
// similar embeddings — relevance thresholds behave the way they would with a
// real model, just coarser.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder.
func New() *Embedder {
	return &Embedder{
		dimensions: 384, // Match all-MiniLM-L6-v2 dimensions
	}
}

// NewWithDimensions creates a mock embedder with a custom vector size.
func NewWithDimensions(dims int) *Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &Embedder{dimensions: dims}
}

// Embed converts text to a deterministic unit vector.
func (m *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	embedding := make([]float32, m.dimensions)

	start := 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && !isWordBreak(text[i]) {
			continue
		}
		if i > start {
			h := fnv.New32a()
			for j := start; j < i; j++ {
				c := text[j]
				if c >= 'A' && c <= 'Z' {
					c += 'a' - 'A'
				}
				h.Write([]byte{c})
			}
			embedding[h.Sum32()%uint32(m.dimensions)]++
		}
		start = i + 1
	}

	return normalize(embedding), nil
}

// Similarity maps the cosine of two unit vectors into [0,1].
func (m *Embedder) Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return core.Clamp01(dot)
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func isWordBreak(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '.', ',', ';', ':', '!', '?', '"', '\'':
		return true
	}
	return false
}

// normalize converts the vector to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
