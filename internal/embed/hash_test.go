package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e, err := NewHashEmbedder(384, 10)
	require.NoError(t, err)

	ctx := context.Background()
	a, err := e.Embed(ctx, "The moon landing was faked in a studio")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "The moon landing was faked in a studio")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 384)
}

func TestHashEmbedder_EmptyInput(t *testing.T) {
	e, err := NewHashEmbedder(64, 10)
	require.NoError(t, err)

	for _, text := range []string{"", "   ", "the of and", "!!! ???"} {
		vec, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Len(t, vec, 64)
		for _, v := range vec {
			assert.Zero(t, v, "text %q should embed to the zero vector", text)
		}
	}
}

func TestHashEmbedder_Magnitude(t *testing.T) {
	e, err := NewHashEmbedder(384, 10)
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "vaccines cause autism according to a retracted study")
	require.NoError(t, err)

	zero := make([]float32, 384)
	// |v|^2 = scale^2
	assert.InDelta(t, 100.0, squaredL2(vec, zero), 1e-3)
}

func TestHashEmbedder_SimilarTextsAreCloser(t *testing.T) {
	e, err := NewHashEmbedder(384, 10)
	require.NoError(t, err)
	ctx := context.Background()

	claim, _ := e.Embed(ctx, "NASA faked the Apollo moon landing in 1969")
	related, _ := e.Embed(ctx, "The Apollo moon landing in 1969 was not faked by NASA")
	unrelated, _ := e.Embed(ctx, "Bananas are a good source of potassium for athletes")

	near := squaredL2(claim, related)
	far := squaredL2(claim, unrelated)

	assert.Less(t, near, far)
	assert.Less(t, near, 100.0, "paraphrase should pass the default gate")
}

func TestHashEmbedder_Batch(t *testing.T) {
	e, err := NewHashEmbedder(32, 10)
	require.NoError(t, err)
	ctx := context.Background()

	texts := []string{"alpha beta", "", "gamma delta"}
	vecs, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for i, text := range texts {
		single, _ := e.Embed(ctx, text)
		assert.Equal(t, single, vecs[i])
	}
}

func TestHashEmbedder_InvalidDimension(t *testing.T) {
	_, err := NewHashEmbedder(0, 10)
	assert.Error(t, err)
}
