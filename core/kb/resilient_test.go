package kb

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siherrmann/resolver/core/retry"
	"github.com/siherrmann/resolver/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResilientOptions() ResilientOptions {
	opts := DefaultResilientOptions()
	opts.Retry.InitialBackoff = time.Millisecond
	opts.Retry.MaxBackoff = 2 * time.Millisecond
	opts.Retry.Timeout = time.Second
	opts.RequestsPerSecond = 0
	return opts
}

func TestResilient(t *testing.T) {
	t.Run("Nil client is rejected", func(t *testing.T) {
		_, err := NewResilient(nil, testResilientOptions())
		assert.Error(t, err, "Expected error for nil client")
	})

	t.Run("Results are cached per name context and type", func(t *testing.T) {
		var calls int32
		client := ClientFunc(func(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error) {
			atomic.AddInt32(&calls, 1)
			return []model.Candidate{{CanonicalID: "Q90", Label: name}}, nil
		})

		r, err := NewResilient(client, testResilientOptions())
		require.NoError(t, err, "Expected wrapper to be created")

		for i := 0; i < 3; i++ {
			candidates, err := r.Search(context.Background(), "Paris", "capital of France", model.EntityTypeLocation)
			require.NoError(t, err, "Expected search to succeed")
			require.Len(t, candidates, 1, "Expected one candidate")
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "Expected repeated searches to hit the cache")

		_, err = r.Search(context.Background(), "Paris", "a town in Texas", model.EntityTypeLocation)
		require.NoError(t, err, "Expected search to succeed")
		_, err = r.Search(context.Background(), "Paris", "capital of France", model.EntityTypePerson)
		require.NoError(t, err, "Expected search to succeed")
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "Expected different context or type to miss the cache")
	})

	t.Run("Transient failures are retried", func(t *testing.T) {
		var calls int32
		client := ClientFunc(func(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error) {
			if atomic.AddInt32(&calls, 1) < 2 {
				return nil, errors.New("connection reset by peer")
			}
			return []model.Candidate{{CanonicalID: "Q1"}}, nil
		})

		r, err := NewResilient(client, testResilientOptions())
		require.NoError(t, err, "Expected wrapper to be created")

		candidates, err := r.Search(context.Background(), "Richard", "", model.EntityTypePerson)
		assert.NoError(t, err, "Expected retry to recover")
		assert.Len(t, candidates, 1, "Expected the candidate of the second attempt")
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "Expected two attempts")
	})

	t.Run("Errors are not cached", func(t *testing.T) {
		var calls int32
		client := ClientFunc(func(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error) {
			atomic.AddInt32(&calls, 1)
			return nil, retry.Permanent(errors.New("bad request"))
		})

		r, err := NewResilient(client, testResilientOptions())
		require.NoError(t, err, "Expected wrapper to be created")

		_, err = r.Search(context.Background(), "Richard", "", model.EntityTypePerson)
		assert.Error(t, err, "Expected the permanent error")
		_, err = r.Search(context.Background(), "Richard", "", model.EntityTypePerson)
		assert.Error(t, err, "Expected the permanent error again")
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "Expected each failing search to reach the client")
	})

	t.Run("Empty results are cached", func(t *testing.T) {
		var calls int32
		client := ClientFunc(func(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error) {
			atomic.AddInt32(&calls, 1)
			return nil, nil
		})

		r, err := NewResilient(client, testResilientOptions())
		require.NoError(t, err, "Expected wrapper to be created")

		_, err = r.Search(context.Background(), "Nobody", "", model.EntityTypePerson)
		require.NoError(t, err, "Expected search to succeed")
		_, err = r.Search(context.Background(), "Nobody", "", model.EntityTypePerson)
		require.NoError(t, err, "Expected search to succeed")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "Expected the empty result to be cached")
	})

	t.Run("Rate limiter respects context cancellation", func(t *testing.T) {
		client := ClientFunc(func(ctx context.Context, name string, contextText string, entityType model.EntityType) ([]model.Candidate, error) {
			return nil, nil
		})

		opts := testResilientOptions()
		opts.RequestsPerSecond = 0.001
		opts.Burst = 1
		opts.CacheTTL = 0
		opts.Retry.MaxAttempts = 1
		r, err := NewResilient(client, opts)
		require.NoError(t, err, "Expected wrapper to be created")

		_, err = r.Search(context.Background(), "first", "", model.EntityTypePerson)
		require.NoError(t, err, "Expected the burst token to serve the first call")

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = r.Search(ctx, "second", "", model.EntityTypePerson)
		assert.Error(t, err, "Expected the limiter wait to fail within the deadline")
	})
}
