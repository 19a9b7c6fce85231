//go:build !integration

package worker

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	logger := zerolog.New(io.Discard)

	t.Run("should run submitted tasks and survive failing ones", func(t *testing.T) {
		p := NewPool(2, 8, &logger)
		p.Start(context.Background())

		var ran int32
		for i := 0; i < 4; i++ {
			require.NoError(t, p.Submit(func(ctx context.Context) error {
				atomic.AddInt32(&ran, 1)
				return errors.New("boom")
			}))
		}
		require.NoError(t, p.Submit(func(ctx context.Context) error { panic("bad task") }))

		p.Stop()
		assert.Equal(t, int32(4), atomic.LoadInt32(&ran))
	})

	t.Run("should drop work when the queue is full", func(t *testing.T) {
		p := NewPool(1, 1, &logger)
		block := make(chan struct{})
		p.Start(context.Background())
		require.NoError(t, p.Submit(func(ctx context.Context) error { <-block; return nil }))
		time.Sleep(20 * time.Millisecond) // let the worker pick it up

		require.NoError(t, p.Submit(func(ctx context.Context) error { return nil }))
		assert.ErrorIs(t, p.Submit(func(ctx context.Context) error { return nil }), ErrQueueFull)

		close(block)
		p.Stop()
	})
}
