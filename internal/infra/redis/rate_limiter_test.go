//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRedis struct {
	mu      sync.Mutex
	vals    map[string]int64
	expires map[string]time.Duration
	incrErr error
}

func newMemRedis() *memRedis {
	return &memRedis{vals: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (m *memRedis) Ping(ctx context.Context) error { return nil }
func (m *memRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}
func (m *memRedis) Get(ctx context.Context, key string) (string, error) { return "", Nil }
func (m *memRedis) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	m.vals[key]++
	return m.vals[key], nil
}
func (m *memRedis) Expire(ctx context.Context, key string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = expiration
	return nil
}
func (m *memRedis) Del(ctx context.Context, keys ...string) error { return nil }
func (m *memRedis) Close() error                                  { return nil }

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("should allow up to the limit and set the window once", func(t *testing.T) {
		// Arrange
		mem := newMemRedis()
		rl := NewRateLimiter(mem)
		key := UserActionKey("user-1", "verify")

		// Act
		var allowed int
		for i := 0; i < 5; i++ {
			ok, err := rl.Allow(ctx, key, 3, time.Minute)
			require.NoError(t, err)
			if ok {
				allowed++
			}
		}

		// Assert
		assert.Equal(t, 3, allowed)
		assert.Equal(t, time.Minute, mem.expires[key])
		assert.Equal(t, "rate_limit:user-1:verify", key)
	})

	t.Run("should surface redis errors", func(t *testing.T) {
		mem := newMemRedis()
		mem.incrErr = errors.New("connection refused")

		ok, err := NewRateLimiter(mem).Allow(ctx, "k", 1, time.Second)
		assert.False(t, ok)
		assert.Error(t, err)
	})
}
