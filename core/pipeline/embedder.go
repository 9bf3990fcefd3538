package pipeline

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/knights-analytics/hugot"
	gocache "github.com/patrickmn/go-cache"
	"github.com/siherrmann/resolver/helper"
)

// DefaultEmbeddingDim is the dimension of the all-MiniLM-L6-v2 embeddings
const DefaultEmbeddingDim = 384

// DefaultEmbedder creates an embedder using a real sentence transformer model
// Uses the all-MiniLM-L6-v2 model which produces 384-dimensional embeddings
func DefaultEmbedder() (EmbedFunc, error) {
	// Prepare model (download if needed)
	modelName := "sentence-transformers/all-MiniLM-L6-v2"
	modelPath, err := helper.PrepareModel(modelName, "")
	if err != nil {
		return nil, err
	}

	// Initialize hugot session with Go backend
	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	// Create sentence transformers pipeline configuration
	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	return func(text string) ([]float32, error) {
		// Generate embedding for the text
		result, err := sentencePipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embedding: %w", err)
		}

		if len(result.Embeddings) == 0 {
			return nil, fmt.Errorf("no embedding generated")
		}

		// Extract the first (and only) embedding
		return result.Embeddings[0], nil
	}, nil
}

// HashEmbedder creates a deterministic embedder hashing character trigrams into dim buckets.
// It needs no model and keeps names with shared spelling close, which is enough for
// offline runs and tests.
func HashEmbedder(dim int) EmbedFunc {
	return func(text string) ([]float32, error) {
		if dim <= 0 {
			return nil, fmt.Errorf("embedding dimension must be positive")
		}

		vector := make([]float32, dim)
		padded := " " + strings.ToLower(strings.TrimSpace(text)) + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			h := fnv.New32a()
			_, _ = h.Write([]byte(string(runes[i : i+3])))
			vector[h.Sum32()%uint32(dim)]++
		}

		var norm float64
		for _, v := range vector {
			norm += float64(v) * float64(v)
		}
		if norm == 0 {
			return vector, nil
		}
		norm = math.Sqrt(norm)
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
		return vector, nil
	}
}

// CachedEmbedder wraps embed with an expiring in-memory cache keyed by text.
// Errors are not cached.
func CachedEmbedder(embed EmbedFunc, ttl time.Duration) EmbedFunc {
	cache := gocache.New(ttl, 2*ttl)

	return func(text string) ([]float32, error) {
		if cached, ok := cache.Get(text); ok {
			return append([]float32(nil), cached.([]float32)...), nil
		}

		embedding, err := embed(text)
		if err != nil {
			return nil, err
		}

		cache.Set(text, append([]float32(nil), embedding...), gocache.DefaultExpiration)
		return embedding, nil
	}
}
