package welcome

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()
	key := LockKey("cr_1", "cu_1")

	release, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrGenerationInFlight)

	other, err := l.Acquire(ctx, LockKey("cr_1", "cu_2"))
	require.NoError(t, err)
	other()

	release()
	release() // second call is a no-op

	again, err := l.Acquire(ctx, key)
	require.NoError(t, err)
	again()
}

func TestMemoryLock(t *testing.T) {
	testLocker(t, NewMemoryLock())
}

func TestRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	t.Run("acquire and release", func(t *testing.T) {
		testLocker(t, NewRedisLock(client, time.Minute))
	})

	t.Run("expires after ttl", func(t *testing.T) {
		l := NewRedisLock(client, time.Minute)
		key := LockKey("cr_ttl", "cu_ttl")

		_, err := l.Acquire(context.Background(), key)
		require.NoError(t, err)
		require.Equal(t, time.Minute, mr.TTL(key))

		mr.FastForward(2 * time.Minute)

		release, err := l.Acquire(context.Background(), key)
		require.NoError(t, err)
		release()
	})

	t.Run("stale release keeps new holder", func(t *testing.T) {
		l := NewRedisLock(client, time.Minute)
		key := LockKey("cr_stale", "cu_stale")

		stale, err := l.Acquire(context.Background(), key)
		require.NoError(t, err)
		mr.FastForward(2 * time.Minute)

		fresh, err := l.Acquire(context.Background(), key)
		require.NoError(t, err)

		stale()
		require.True(t, mr.Exists(key))

		fresh()
		require.False(t, mr.Exists(key))
	})

	t.Run("default ttl", func(t *testing.T) {
		l := NewRedisLock(client, 0)
		key := LockKey("cr_def", "cu_def")
		release, err := l.Acquire(context.Background(), key)
		require.NoError(t, err)
		require.Equal(t, DefaultLockTTL, mr.TTL(key))
		release()
	})
}
