package adapter

import (
	"context"
	"time"
)

// Locker is a best-effort distributed mutex. TryLock returns a token that
// must be passed back to Unlock; an empty token with a nil error means the
// lock is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// RateLimiter counts hits per key in a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
