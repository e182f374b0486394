package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ppiankov/nocap/internal/model"
)

// ErrModelUnavailable is returned when the embedding model cannot be loaded
// or reached at startup. It is fatal to process initialisation.
var ErrModelUnavailable = errors.New("embedding model unavailable")

// Embedder maps text to a fixed-dimension dense vector
type Embedder interface {
	// Name returns the implementation identifier
	Name() string

	// Dimension returns the length of every produced vector
	Dimension() int

	// Embed returns the vector for one text. Empty text yields a defined vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// New builds the configured embedder and probes it once so that an
// unreachable model fails at startup instead of on the first request
func New(ctx context.Context, cfg model.EmbedderConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)

	switch strings.ToLower(cfg.Type) {
	case "hash", "":
		e, err = NewHashEmbedder(cfg.Dimension, cfg.Scale)
	case "openai":
		e, err = NewOpenAIEmbedder(cfg)
	case "ollama":
		e, err = NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown embedder type %q (supported: hash, openai, ollama)", ErrModelUnavailable, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	vec, err := e.Embed(ctx, "nocap embedding probe")
	if err != nil {
		return nil, fmt.Errorf("%w: probe %s: %v", ErrModelUnavailable, e.Name(), err)
	}
	if len(vec) != e.Dimension() {
		return nil, fmt.Errorf("%w: %s returned %d dimensions, expected %d", ErrModelUnavailable, e.Name(), len(vec), e.Dimension())
	}

	return e, nil
}

// zeroVector is returned for empty input by every implementation
func zeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// checkDimension validates a provider response
func checkDimension(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), dim)
	}
	return nil
}
