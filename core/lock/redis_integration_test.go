//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/siherrmann/resolver/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	teardown, url, err := helper.MustStartRedisContainer()
	require.NoError(t, err, "Expected the redis container to start")
	t.Cleanup(func() { _ = teardown(context.Background()) })

	opts, err := redis.ParseURL(url)
	require.NoError(t, err, "Expected a valid redis URL")
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	locker, err := NewRedisLocker(client, "resolver:lock:", 5*time.Second, 2*time.Millisecond)
	require.NoError(t, err, "Expected NewRedisLocker to not return an error")

	t.Run("Holders of one key are serialized", func(t *testing.T) {
		assert.Equal(t, int32(1), assertSerialized(t, locker, "person:Q517", 6), "Expected at most one holder at a time")
	})

	t.Run("Two lockers share the lock", func(t *testing.T) {
		other, err := NewRedisLocker(client, "resolver:lock:", 5*time.Second, 2*time.Millisecond)
		require.NoError(t, err)

		unlock, err := locker.Lock(context.Background(), "event:Q1")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = other.Lock(ctx, "event:Q1")
		assert.ErrorIs(t, err, context.DeadlineExceeded, "Expected the second locker to wait")

		unlock()
		unlock, err = other.Lock(context.Background(), "event:Q1")
		assert.NoError(t, err, "Expected the released key to be acquired")
		unlock()
	})

	t.Run("Expired lock of a crashed holder is taken over", func(t *testing.T) {
		err := client.Set(context.Background(), "resolver:lock:location:Q90", "crashed", 20*time.Millisecond).Err()
		require.NoError(t, err, "Expected the stale lock to be written")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlock, err := locker.Lock(ctx, "location:Q90")
		assert.NoError(t, err, "Expected the expired lock to be acquired")
		unlock()
	})

	t.Run("Held lock outlives its ttl", func(t *testing.T) {
		short, err := NewRedisLocker(client, "resolver:lock:", 60*time.Millisecond, 2*time.Millisecond)
		require.NoError(t, err, "Expected NewRedisLocker to not return an error")

		unlock, err := short.Lock(context.Background(), "person:Q140611")
		require.NoError(t, err, "Expected the lock to be acquired")
		time.Sleep(200 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err = short.Lock(ctx, "person:Q140611")
		assert.ErrorIs(t, err, context.DeadlineExceeded, "Expected the renewed lock to be still held")

		unlock()
		unlock()
		exists, err := client.Exists(context.Background(), "resolver:lock:person:Q140611").Result()
		require.NoError(t, err, "Expected EXISTS to succeed")
		assert.Zero(t, exists, "Expected the released key to be gone")
	})

	t.Run("Nil client is rejected", func(t *testing.T) {
		_, err := NewRedisLocker(nil, "", 0, 0)
		assert.Error(t, err, "Expected an error for a nil client")
	})
}
