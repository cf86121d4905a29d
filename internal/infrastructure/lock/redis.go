package lock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/minishop-io/inventory-engine/internal/observability"
)

const (
	retryBaseInterval = 20 * time.Millisecond
	retryJitter       = 30 * time.Millisecond
)

// releaseScript deletes the key only when it still holds our token, so a lock
// that expired and was re-acquired by someone else is never released from
// under them.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisCoordinator implements Coordinator on a Redis instance reachable by
// all process instances. Acquisition is SET NX PX with the hold timeout as
// TTL; the loop polls with jitter until the wait timeout, so admission order
// is unspecified.
type RedisCoordinator struct {
	client *redis.Client
	log    observability.Logger
}

func NewRedisCoordinator(client *redis.Client, logger observability.Logger) *RedisCoordinator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisCoordinator{
		client: client,
		log:    logger.With(observability.F("component", "lock_coordinator")),
	}
}

func (c *RedisCoordinator) Acquire(ctx context.Context, key string, wait, hold time.Duration) (Lock, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := c.client.SetNX(ctx, key, token, hold).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
		}
		if ok {
			return &redisLock{
				client: c.client,
				key:    key,
				token:  token,
				log:    c.log,
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}

		interval := retryBaseInterval + time.Duration(rand.Int63n(int64(retryJitter)))
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
	log    observability.Logger
}

func (l *redisLock) Release(ctx context.Context) error {
	deleted, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", l.key, err)
	}
	if deleted == 0 {
		// The hold timeout expired mid-mutation. Exclusivity was lost, which
		// means the hold timeout is undersized for the mutation latency.
		l.log.Error("lock_expired_during_hold",
			observability.F("key", l.key),
		)
		return ErrLockLost
	}
	return nil
}
