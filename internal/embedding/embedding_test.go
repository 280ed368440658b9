package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/steady/internal/logging"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "Hello world")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hello WORLD")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
}

func TestHashEmbedderSharedWordsAreSimilar(t *testing.T) {
	e := NewHashEmbedder(0)
	assert.Equal(t, defaultHashDimension, e.Dimension())

	a, _ := e.Embed(context.Background(), "hello world")
	b, _ := e.Embed(context.Background(), "hello")
	c, _ := e.Embed(context.Background(), "quarterly tax filing")
	assert.Greater(t, cosine(a, b), 0.0)
	assert.Greater(t, cosine(a, b), cosine(a, c))
}

func TestHashEmbedderEmptyTextIsZeroVector(t *testing.T) {
	v, err := NewHashEmbedder(16).Embed(context.Background(), "  ... ")
	require.NoError(t, err)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Dimension() int { return 2 }
func (c *countingEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{1, 0}, nil
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)

	v1, err := c.Embed(context.Background(), "a")
	require.NoError(t, err)
	v1[0] = 42

	v2, err := c.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v2, "cached vector must not alias caller slices")
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "counting", c.Name())
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("quota")}
	c, err := NewCachedEmbedder(inner, 4)
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "a")
	assert.Error(t, err)
	_, err = c.Embed(context.Background(), "a")
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Zero(t, c.Len())
}

func TestNewAutoFallsBackToHash(t *testing.T) {
	e, err := New(context.Background(), Config{Provider: "auto", Dimension: 32, CacheSize: 8}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "hash", e.Name())
	assert.Equal(t, 32, e.Dimension())
	_, cached := e.(*CachedEmbedder)
	assert.True(t, cached)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "word2vec"}, logging.Discard())
	assert.Error(t, err)
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "openai"}, logging.Discard())
	assert.Error(t, err)
}
