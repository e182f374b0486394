package embed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/nocap/internal/model"
)

// DefaultOpenAIEmbeddingModel supports shortened output dimensions
const DefaultOpenAIEmbeddingModel = "text-embedding-3-small"

// OpenAIEmbedder calls the OpenAI embeddings API with a fixed output dimension
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	timeout   time.Duration
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API
func NewOpenAIEmbedder(cfg model.EmbedderConfig) (*OpenAIEmbedder, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultOpenAIEmbeddingModel
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     modelName,
		dimension: cfg.Dimension,
		timeout:   timeout,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *OpenAIEmbedder) Name() string { return "openai" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// Embed returns the embedding of a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one API call. Empty texts are not sent and get
// the zero vector.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var (
		inputs  []string
		mapping []int
	)
	for i, t := range texts {
		if t == "" {
			out[i] = zeroVector(e.dimension)
			continue
		}
		inputs = append(inputs, t)
		mapping = append(mapping, i)
	}
	if len(inputs) == 0 {
		return out, nil
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctxWithTimeout, openai.EmbeddingRequest{
		Input:      inputs,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings error: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(inputs))
	}

	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(mapping) {
			return nil, fmt.Errorf("OpenAI returned out-of-range embedding index %d", d.Index)
		}
		if err := checkDimension(d.Embedding, e.dimension); err != nil {
			return nil, err
		}
		out[mapping[d.Index]] = d.Embedding
	}

	return out, nil
}
