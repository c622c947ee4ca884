package embed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms/openai"
)

const (
	// DefaultOpenAIModel is the embedding model used when none is configured.
	DefaultOpenAIModel = "text-embedding-3-small"
	// DefaultOpenAIDim is the native dimension of DefaultOpenAIModel.
	DefaultOpenAIDim = 1536
)

var errAPIKeyRequired = errors.New("API key required")

// openaiProvider embeds text through the OpenAI embeddings endpoint.
type openaiProvider struct {
	llm   *openai.LLM
	model string
	dim   int
}

// NewOpenAI creates an OpenAI-backed embedding provider. Env var
// OPENAI_API_KEY takes precedence over the explicit apiKey.
func NewOpenAI(apiKey, model string, dim int) (Provider, error) {
	envKey := os.Getenv("OPENAI_API_KEY")
	if envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY environment variable or provide via config", errAPIKeyRequired)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if dim <= 0 {
		dim = DefaultOpenAIDim
	}

	llm, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing openai client: %w", err)
	}

	return &openaiProvider{llm: llm, model: model, dim: dim}, nil
}

func (p *openaiProvider) Model() string { return p.model }
func (p *openaiProvider) Dim() int      { return p.dim }

func (p *openaiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}
