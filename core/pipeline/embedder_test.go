package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestDefaultEmbedder(t *testing.T) {
	// Note: DefaultEmbedder uses hugot which requires downloading models
	t.Run("Generate embedding for text", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping DefaultEmbedder test in short mode (requires model download)")
		}

		embedder, err := DefaultEmbedder()
		require.NoError(t, err, "Expected embedder to be created")

		embedding, err := embedder("Napoleon Bonaparte, Emperor of the French")
		require.NoError(t, err, "Expected embedding to succeed")
		assert.Equal(t, DefaultEmbeddingDim, len(embedding), "all-MiniLM-L6-v2 produces 384-dimensional embeddings")
	})

	t.Run("Similar names have similar embeddings", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping DefaultEmbedder test in short mode (requires model download)")
		}

		embedder, err := DefaultEmbedder()
		require.NoError(t, err, "Expected embedder to be created")

		e1, err := embedder("Richard the Lionheart, King of England")
		require.NoError(t, err, "Expected embedding to succeed")
		e2, err := embedder("Richard I of England, crusader king")
		require.NoError(t, err, "Expected embedding to succeed")
		e3, err := embedder("Quantum physics is complex")
		require.NoError(t, err, "Expected embedding to succeed")

		assert.Greater(t, cosine(e1, e2), cosine(e1, e3), "Expected related texts to be closer")
	})
}

func TestHashEmbedder(t *testing.T) {
	embed := HashEmbedder(64)

	t.Run("Same text produces same embedding", func(t *testing.T) {
		e1, err := embed("Napoleon Bonaparte")
		require.NoError(t, err, "Expected embedding to succeed")
		e2, err := embed("Napoleon Bonaparte")
		require.NoError(t, err, "Expected embedding to succeed")
		assert.Equal(t, e1, e2, "Expected deterministic embeddings")
		assert.InDelta(t, 1.0, cosine(e1, e1), 0.0001, "Expected a unit vector")
	})

	t.Run("Shared spelling is closer than different spelling", func(t *testing.T) {
		a, _ := embed("Napoleon Bonaparte")
		b, _ := embed("Napoleon Bonapart")
		c, _ := embed("Saladin")
		assert.Greater(t, cosine(a, b), cosine(a, c), "Expected near spellings closer")
	})

	t.Run("Invalid dimension is an error", func(t *testing.T) {
		_, err := HashEmbedder(0)("text")
		assert.Error(t, err, "Expected error for zero dimension")
	})
}

func TestCachedEmbedder(t *testing.T) {
	t.Run("Repeated texts hit the cache", func(t *testing.T) {
		calls := 0
		embed := CachedEmbedder(func(text string) ([]float32, error) {
			calls++
			return []float32{1, 2, 3}, nil
		}, time.Minute)

		for i := 0; i < 3; i++ {
			e, err := embed("Paris")
			require.NoError(t, err, "Expected embedding to succeed")
			assert.Equal(t, []float32{1, 2, 3}, e, "Expected cached value")
		}
		assert.Equal(t, 1, calls, "Expected one call to the wrapped embedder")
	})

	t.Run("Callers cannot corrupt the cache", func(t *testing.T) {
		embed := CachedEmbedder(func(text string) ([]float32, error) {
			return []float32{1, 2, 3}, nil
		}, time.Minute)

		e, _ := embed("Paris")
		e[0] = 42
		again, _ := embed("Paris")
		assert.Equal(t, float32(1), again[0], "Expected the cached slice to be copied")
	})

	t.Run("Errors are not cached", func(t *testing.T) {
		calls := 0
		embed := CachedEmbedder(func(text string) ([]float32, error) {
			calls++
			return nil, errors.New("model unavailable")
		}, time.Minute)

		_, err := embed("Paris")
		assert.Error(t, err, "Expected error")
		_, err = embed("Paris")
		assert.Error(t, err, "Expected error")
		assert.Equal(t, 2, calls, "Expected both calls to reach the embedder")
	})
}
