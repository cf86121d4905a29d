package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotAcquired means the wait timeout elapsed before the key was free.
	// Safe to retry with backoff.
	ErrNotAcquired = errors.New("lock: acquisition timed out")
	// ErrLockLost means the hold timeout expired before release. The mutation
	// may have run without exclusivity; treat as an integration fault, not a
	// transient condition.
	ErrLockLost = errors.New("lock: lock expired before release")
)

// Lock is a held acquisition. Release must run on every exit path.
type Lock interface {
	Release(ctx context.Context) error
}

// Coordinator grants mutual exclusion on a key across every process instance
// that shares it. Acquire blocks at most wait; hold bounds how long the
// acquisition survives a crashed holder.
type Coordinator interface {
	Acquire(ctx context.Context, key string, wait, hold time.Duration) (Lock, error)
}

// Key returns the canonical lock key for a product. Every mutation entry
// point must use this same key or lost updates come back.
func Key(productID int64) string {
	return fmt.Sprintf("inventory:%d", productID)
}
