package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertSerialized runs workers on one key and returns the highest number of concurrent holders.
func assertSerialized(t *testing.T, locker Locker, key string, workers int) int32 {
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), key)
			if !assert.NoError(t, err, "Expected Lock to not return an error") {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()
	return maxActive
}

func TestKeyedMutex(t *testing.T) {
	t.Run("Holders of one key are serialized", func(t *testing.T) {
		locker := NewKeyedMutex()
		assert.Equal(t, int32(1), assertSerialized(t, locker, "person:Q517", 10), "Expected at most one holder at a time")
		assert.Equal(t, 0, locker.Len(), "Expected no entry left after release")
	})

	t.Run("Different keys do not block each other", func(t *testing.T) {
		locker := NewKeyedMutex()
		unlockA, err := locker.Lock(context.Background(), "a")
		require.NoError(t, err)
		defer unlockA()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlockB, err := locker.Lock(ctx, "b")
		assert.NoError(t, err, "Expected a free key to be acquired")
		unlockB()
	})

	t.Run("Waiting gives up when the context is done", func(t *testing.T) {
		locker := NewKeyedMutex()
		unlock, err := locker.Lock(context.Background(), "a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = locker.Lock(ctx, "a")
		assert.ErrorIs(t, err, context.DeadlineExceeded, "Expected the wait to end with the context")

		unlock()
		assert.Equal(t, 0, locker.Len(), "Expected no entry left after release")
	})

	t.Run("Releasing twice is harmless", func(t *testing.T) {
		locker := NewKeyedMutex()
		unlock, err := locker.Lock(context.Background(), "a")
		require.NoError(t, err)
		unlock()
		unlock()

		unlock, err = locker.Lock(context.Background(), "a")
		assert.NoError(t, err, "Expected the key to be free again")
		unlock()
	})
}
