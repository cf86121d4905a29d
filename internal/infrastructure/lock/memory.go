package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryCoordinator is a process-local Coordinator for single-node
// deployments and tests. Each key maps to a one-slot semaphore; hold timeouts
// never expire a holder because an in-process holder cannot vanish without
// its deferred release running.
type MemoryCoordinator struct {
	mu   sync.Mutex
	keys map[string]chan struct{}
}

func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{
		keys: make(map[string]chan struct{}),
	}
}

func (c *MemoryCoordinator) Acquire(ctx context.Context, key string, wait, _ time.Duration) (Lock, error) {
	sem := c.semaphore(key)

	select {
	case sem <- struct{}{}:
		return &memoryLock{sem: sem}, nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return &memoryLock{sem: sem}, nil
	case <-timer.C:
		return nil, ErrNotAcquired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *MemoryCoordinator) semaphore(key string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	sem, ok := c.keys[key]
	if !ok {
		sem = make(chan struct{}, 1)
		c.keys[key] = sem
	}
	return sem
}

type memoryLock struct {
	sem  chan struct{}
	once sync.Once
}

func (l *memoryLock) Release(_ context.Context) error {
	l.once.Do(func() { <-l.sem })
	return nil
}
