package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain/ports/adapter"
	"sanskrit-enrollment/internal/infra/metrics"
)

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped_locked"
)

// runLocked runs fn under a cluster-wide lock so only one replica works a
// tick. A held lock skips the tick. With a nil locker fn always runs.
func runLocked(ctx context.Context, locker adapter.Locker, key string, ttl time.Duration, job string, log *zerolog.Logger, fn func(context.Context) (int, error)) (int, error) {
	if locker != nil {
		token, err := locker.TryLock(ctx, key, ttl)
		if err != nil {
			metrics.IncJobRun(job, outcomeError)
			log.Warn().Err(err).Str("job", job).Msg("could not acquire job lock")
			return 0, err
		}
		if token == "" {
			metrics.IncJobRun(job, outcomeSkipped)
			log.Debug().Str("job", job).Msg("job lock held elsewhere, skipping tick")
			return 0, nil
		}
		defer func() {
			// the tick may have consumed ctx; release on a fresh one
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := locker.Unlock(uctx, key, token); err != nil {
				log.Warn().Err(err).Str("job", job).Msg("job lock release failed")
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	n, err := fn(runCtx)
	if err != nil {
		metrics.IncJobRun(job, outcomeError)
		return n, err
	}
	metrics.IncJobRun(job, outcomeOK)
	return n, nil
}
