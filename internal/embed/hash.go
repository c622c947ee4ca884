package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashModel is the model name hash vectors are stored under. Keeping them
// separate from provider vectors means retrieval never compares vectors
// across incompatible spaces.
const HashModel = "hash-fnv1a-256"

// HashDim is the fixed dimension of hash embeddings.
const HashDim = 256

// hashProvider is a deterministic, offline embedding provider. Tokens are
// hashed into signed buckets (the hashing trick) and the result is
// L2-normalized. Quality is far below a learned model but identical texts
// always map to identical vectors, which keeps indexing and retrieval
// functional without network access.
type hashProvider struct{}

// NewHash creates the deterministic hashing provider.
func NewHash() Provider {
	return hashProvider{}
}

func (hashProvider) Model() string { return HashModel }
func (hashProvider) Dim() int      { return HashDim }

func (hashProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = HashVector(text)
	}
	return vecs, nil
}

// HashVector maps text to a unit-L2 vector of HashDim dimensions.
// Empty or token-free text yields the zero vector.
func HashVector(text string) []float32 {
	vec := make([]float32, HashDim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		bucket := sum % HashDim
		// Sign bit from outside the bucket bits so bucket and sign are
		// independent.
		if (sum>>16)&1 == 1 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	norm := 0.0
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
