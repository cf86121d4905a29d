package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCoordinator(t *testing.T) (*RedisCoordinator, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCoordinator(client, nil), mr
}

func TestRedisAcquireRelease(t *testing.T) {
	coord, mr := newRedisCoordinator(t)
	ctx := context.Background()

	held, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists(Key(1)))

	require.NoError(t, held.Release(ctx))
	assert.False(t, mr.Exists(Key(1)))
}

func TestRedisContentionTimesOut(t *testing.T) {
	coord, _ := newRedisCoordinator(t)
	ctx := context.Background()

	held, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	_, err = coord.Acquire(ctx, Key(1), 50*time.Millisecond, time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestRedisAcquireAfterRelease(t *testing.T) {
	coord, _ := newRedisCoordinator(t)
	ctx := context.Background()

	held, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	require.NoError(t, held.Release(ctx))

	again, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisHoldExpiryReportsLostLock(t *testing.T) {
	coord, mr := newRedisCoordinator(t)
	ctx := context.Background()

	held, err := coord.Acquire(ctx, Key(1), time.Second, 50*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond)

	err = held.Release(ctx)
	assert.ErrorIs(t, err, ErrLockLost)
}

func TestRedisReleaseDoesNotStealSuccessor(t *testing.T) {
	coord, mr := newRedisCoordinator(t)
	ctx := context.Background()

	first, err := coord.Acquire(ctx, Key(1), time.Second, 50*time.Millisecond)
	require.NoError(t, err)

	mr.FastForward(100 * time.Millisecond)

	second, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)

	// The stale holder must not delete the successor's key.
	require.ErrorIs(t, first.Release(ctx), ErrLockLost)
	assert.True(t, mr.Exists(Key(1)))

	require.NoError(t, second.Release(ctx))
}
