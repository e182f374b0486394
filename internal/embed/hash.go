package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// HashEmbedder is a deterministic, model-free embedder. Word unigrams and
// bigrams are hashed into signed buckets, the vector is L2-normalised and
// then scaled, so the squared L2 distance between two texts is
// 2*scale^2*(1-cosine). With scale 10, a distance gate of 100 admits
// neighbours with cosine similarity above 0.5.
type HashEmbedder struct {
	dimension    int
	scale        float64
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

// NewHashEmbedder creates a hashing embedder
func NewHashEmbedder(dimension int, scale float64) (*HashEmbedder, error) {
	if dimension <= 0 {
		return nil, errors.New("dimension must be positive")
	}
	if scale <= 0 {
		scale = 10
	}
	return &HashEmbedder{
		dimension:    dimension,
		scale:        scale,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *HashEmbedder) Name() string { return "hash" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// Embed computes the hashed feature vector for text
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

// EmbedBatch embeds each text independently
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	acc := make([]float64, e.dimension)
	tokens := e.tokenize(text)
	if len(tokens) == 0 {
		return zeroVector(e.dimension)
	}

	for i, tok := range tokens {
		e.addFeature(acc, tok, 1.0)
		if i > 0 {
			e.addFeature(acc, tokens[i-1]+" "+tok, 0.5)
		}
	}

	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	vec := make([]float32, e.dimension)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm * e.scale)
	}
	return vec
}

func (e *HashEmbedder) addFeature(acc []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(e.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[bucket] += weight
}

func (e *HashEmbedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
