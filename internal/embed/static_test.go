package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProviderDeterministic(t *testing.T) {
	p := NewStaticProvider()
	ctx := context.Background()

	a, err := p.EmbedDocument(ctx, "rotate tokens every thirty days")
	require.NoError(t, err)
	b, err := p.EmbedDocument(ctx, "rotate tokens every thirty days")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := p.EmbedDocument(ctx, "something else entirely")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestStaticProviderProducesUnitVectors(t *testing.T) {
	p := NewStaticProvider()
	vec, err := p.EmbedQuery(context.Background(), "hybrid retrieval with decay")
	require.NoError(t, err)
	require.Len(t, vec, StaticDimensions)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestStaticProviderAlwaysReady(t *testing.T) {
	p := NewStaticProvider()
	assert.True(t, p.Ready(context.Background()))
	assert.NoError(t, p.AwaitReady(context.Background()))
	assert.Equal(t, "static", p.Profile().Provider)
	assert.Equal(t, StaticDimensions, p.Profile().Dim)
}
