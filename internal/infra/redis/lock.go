// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"sanskrit-enrollment/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*RedisLocker)(nil)

var errLockHeld = errors.New("lock held")

// RedisLocker is a single-instance SET NX lock with a token-checked unlock.
type RedisLocker struct {
	cli      *redis.Client
	attempts uint
	delay    time.Duration
}

// NewLocker builds a locker that retries acquisition up to attempts times.
// Background jobs pass 1 so a busy lock skips the tick instead of waiting.
func NewLocker(c *redClient, attempts uint, delay time.Duration) *RedisLocker {
	if attempts == 0 {
		attempts = 1
	}
	return &RedisLocker{cli: c.cli, attempts: attempts, delay: delay}
}

// TryLock returns an empty token and nil error when the lock is held elsewhere.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	err := retry.Do(
		func() error {
			ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
			if err != nil {
				return err
			}
			if !ok {
				return errLockHeld
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.Delay(l.delay),
		retry.LastErrorOnly(true),
	)
	if errors.Is(err, errLockHeld) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}
