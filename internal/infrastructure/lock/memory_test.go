package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAcquireRelease(t *testing.T) {
	coord := NewMemoryCoordinator()
	ctx := context.Background()

	held, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	require.NoError(t, held.Release(ctx))

	again, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryContentionTimesOut(t *testing.T) {
	coord := NewMemoryCoordinator()
	ctx := context.Background()

	held, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	_, err = coord.Acquire(ctx, Key(1), 20*time.Millisecond, time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	coord := NewMemoryCoordinator()
	ctx := context.Background()

	first, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	defer func() { _ = first.Release(ctx) }()

	second, err := coord.Acquire(ctx, Key(2), time.Second, time.Minute)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestMemoryReleaseIsIdempotent(t *testing.T) {
	coord := NewMemoryCoordinator()
	ctx := context.Background()

	held, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)

	require.NoError(t, held.Release(ctx))
	require.NoError(t, held.Release(ctx))

	// A double release must not free the slot twice.
	again, err := coord.Acquire(ctx, Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	_, err = coord.Acquire(ctx, Key(1), 20*time.Millisecond, time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryAcquireHonorsContextCancel(t *testing.T) {
	coord := NewMemoryCoordinator()

	held, err := coord.Acquire(context.Background(), Key(1), time.Second, time.Minute)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = coord.Acquire(ctx, Key(1), time.Minute, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
