package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmem/engine/internal/config"
)

func TestMockEmbedIsDeterministic(t *testing.T) {
	m := NewMock(config.EmbeddingConfig{})

	v1, err := m.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := m.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestMockEmbedDiffersByText(t *testing.T) {
	m := NewMock(config.EmbeddingConfig{})

	v1, err := m.Embed(context.Background(), "alpha")
	require.NoError(t, err)
	v2, err := m.Embed(context.Background(), "beta")
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
}

func TestMockEmbedIsUnitNorm(t *testing.T) {
	m := NewMock(config.EmbeddingConfig{})

	v, err := m.Embed(context.Background(), "some text to embed")
	require.NoError(t, err)

	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-3)
}

func TestMockEmbedBatch(t *testing.T) {
	m := NewMock(config.EmbeddingConfig{})

	texts := []string{"one", "two", "three"}
	batch, err := m.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := m.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestMockDimensionsFromConfig(t *testing.T) {
	cfg := config.EmbeddingConfig{
		Primary: config.EmbeddingProviderOpenAI,
		Providers: []config.ProviderEndpoint{
			{Name: config.EmbeddingProviderOpenAI, Dimension: 1536},
		},
	}
	m := NewMock(cfg)
	assert.Equal(t, 1536, m.Dimensions())

	v, err := m.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, v, 1536)
}

func TestMockName(t *testing.T) {
	m := NewMock(config.EmbeddingConfig{})
	assert.Equal(t, "mock", m.Name())
}
