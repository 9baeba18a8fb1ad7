package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseLocker checks that concurrent holders of one key never overlap.
func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "ticket-1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestMemoryLockerSerializes(t *testing.T) {
	exerciseLocker(t, NewMemory())
}

func TestMemoryLockerRespectsContext(t *testing.T) {
	l := NewMemory()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other keys are independent
	unlockOther, err := l.Lock(context.Background(), "other")
	require.NoError(t, err)
	unlockOther()

	unlock()
	unlock() // double release is harmless
	unlock, err = l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
	assert.Empty(t, l.locks)
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func TestRedisLockerSerializes(t *testing.T) {
	exerciseLocker(t, NewRedis(setupTestRedis(t)))
}

func TestRedisUnlockKeepsForeignToken(t *testing.T) {
	client := setupTestRedis(t)
	l := NewRedis(client)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	// simulate expiry and another holder taking over
	require.NoError(t, client.Set(ctx, "ticket_lock:k", "someone-else", 0).Err())
	unlock()

	val, err := client.Get(ctx, "ticket_lock:k").Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
