//go:build !integration

package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	unlocked []string
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]string{}} }

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if _, ok := l.held[key]; ok {
		return "", nil
	}
	l.held[key] = "tok-" + key
	return l.held[key], nil
}

func (l *fakeLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.unlocked = append(l.unlocked, key)
	}
	return nil
}

type fakeSweeper struct {
	calls []time.Time
	n     int
	err   error
}

func (f *fakeSweeper) SweepDue(_ context.Context, now time.Time) (int, error) {
	f.calls = append(f.calls, now)
	return f.n, f.err
}

type fakeReconciler struct {
	olderThan, cancelAfter time.Duration
	calls                  int
}

func (f *fakeReconciler) ReconcilePending(_ context.Context, olderThan, cancelAfter time.Duration) (int, error) {
	f.calls++
	f.olderThan, f.cancelAfter = olderThan, cancelAfter
	return 2, nil
}

func nopLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

func TestSubscriptionSweeper_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("sweeps at the current time and releases the lock", func(t *testing.T) {
		locker := newFakeLocker()
		subs := &fakeSweeper{n: 3}
		w := NewSubscriptionSweeper("", time.Minute, subs, locker, nopLogger())
		fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		w.now = func() time.Time { return fixed }

		n, err := w.RunOnce(ctx)

		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []time.Time{fixed}, subs.calls)
		assert.Equal(t, []string{sweepLockKey}, locker.unlocked)
	})

	t.Run("skips the tick when another replica holds the lock", func(t *testing.T) {
		locker := newFakeLocker()
		locker.held[sweepLockKey] = "someone-else"
		subs := &fakeSweeper{}
		w := NewSubscriptionSweeper("", time.Minute, subs, locker, nopLogger())

		n, err := w.RunOnce(ctx)

		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, subs.calls)
		assert.Equal(t, "someone-else", locker.held[sweepLockKey])
	})

	t.Run("surfaces lock backend errors without sweeping", func(t *testing.T) {
		locker := newFakeLocker()
		locker.err = errors.New("redis down")
		subs := &fakeSweeper{}
		w := NewSubscriptionSweeper("", time.Minute, subs, locker, nopLogger())

		_, err := w.RunOnce(ctx)

		assert.Error(t, err)
		assert.Empty(t, subs.calls)
	})

	t.Run("runs without a locker", func(t *testing.T) {
		subs := &fakeSweeper{err: errors.New("boom")}
		w := NewSubscriptionSweeper("", time.Minute, subs, nil, nopLogger())

		_, err := w.RunOnce(ctx)

		assert.EqualError(t, err, "boom")
		assert.Len(t, subs.calls, 1)
	})
}

func TestSubscriptionSweeper_Run(t *testing.T) {
	t.Run("rejects a bad schedule", func(t *testing.T) {
		w := NewSubscriptionSweeper("not a cron line", time.Minute, &fakeSweeper{}, nil, nopLogger())
		err := w.Run(context.Background())
		assert.ErrorContains(t, err, "sweeper schedule")
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		w := NewSubscriptionSweeper("@every 1h", time.Minute, &fakeSweeper{}, nil, nopLogger())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		cancel()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("sweeper did not stop")
		}
	})
}

func TestPaymentReconciler(t *testing.T) {
	t.Run("passes the configured windows through", func(t *testing.T) {
		uc := &fakeReconciler{}
		w := NewPaymentReconciler(uc, newFakeLocker(), time.Minute, 15*time.Minute, 48*time.Hour, 0, nopLogger())

		n, err := w.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 15*time.Minute, uc.olderThan)
		assert.Equal(t, 48*time.Hour, uc.cancelAfter)
	})

	t.Run("ticks until cancelled", func(t *testing.T) {
		uc := &fakeReconciler{}
		w := NewPaymentReconciler(uc, nil, 10*time.Millisecond, 0, 0, time.Second, nopLogger())
		ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
		defer cancel()

		err := w.Run(ctx)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, uc.calls, 1)
	})
}
