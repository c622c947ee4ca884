package embed

import (
	"context"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashVectorDeterministic(t *testing.T) {
	a := HashVector("Morning run in the park")
	b := HashVector("Morning run in the park")
	if len(a) != HashDim {
		t.Fatalf("vector dim = %d, want %d", len(a), HashDim)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("hash vector not deterministic at index %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestHashVectorUnitNorm(t *testing.T) {
	v := HashVector("weekly planning session with the team")
	norm := 0.0
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1) > 1e-6 {
		t.Errorf("squared L2 norm = %v, want 1", norm)
	}
}

func TestHashVectorEmptyText(t *testing.T) {
	v := HashVector("   \t\n")
	if len(v) != HashDim {
		t.Fatalf("vector dim = %d, want %d", len(v), HashDim)
	}
	for i, x := range v {
		if x != 0 {
			t.Fatalf("empty text should yield zero vector, got %v at index %d", x, i)
		}
	}
}

func TestHashProviderSimilarTextsCloser(t *testing.T) {
	p := NewHash()
	vecs, err := p.Embed(context.Background(), []string{
		"morning run in the park",
		"evening run around the park",
		"quarterly budget review meeting",
	})
	if err != nil {
		t.Fatalf("Embed() failed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}

	related := CosineSimilarity(vecs[0], vecs[1])
	unrelated := CosineSimilarity(vecs[0], vecs[2])
	if related <= unrelated {
		t.Errorf("related similarity %v should exceed unrelated %v", related, unrelated)
	}
}

func TestHashProviderMetadata(t *testing.T) {
	p := NewHash()
	if p.Model() != HashModel {
		t.Errorf("Model() = %q, want %q", p.Model(), HashModel)
	}
	if p.Dim() != HashDim {
		t.Errorf("Dim() = %d, want %d", p.Dim(), HashDim)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAI("", "", 0); err == nil {
		t.Fatal("NewOpenAI() should fail without an API key")
	}
}
