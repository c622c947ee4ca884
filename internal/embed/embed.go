// Package embed maps text to fixed-dimension vectors. The OpenAI provider
// is the configured default; a deterministic hashing provider serves as the
// offline fallback. Vectors from different models are never comparable, so
// each provider reports the model name its vectors are stored under.
package embed

import (
	"context"
	"math"
)

// Provider produces embeddings for a batch of texts. Implementations must
// be safe for concurrent use. The returned slice is index-aligned with the
// input.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dim() int
}

// CosineSimilarity returns the cosine of the angle between a and b in
// [-1, 1]. Mismatched lengths or zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	dotProduct := 0.0
	magA := 0.0
	magB := 0.0

	for i := range a {
		fa := float64(a[i])
		fb := float64(b[i])
		dotProduct += fa * fb
		magA += fa * fa
		magB += fb * fb
	}

	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}
