package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain/ports/adapter"
	ucport "sanskrit-enrollment/internal/domain/ports/usecase"
	"sanskrit-enrollment/internal/infra/metrics"
)

const (
	sweepJob     = "subscription_sweep"
	sweepLockKey = "lock:job:subscription_sweep"

	DefaultSweepSpec = "*/15 * * * *"
)

// SubscriptionSweeper applies time-driven subscription transitions (period
// end into grace, grace end into expiry, scheduled cancellations) on a cron
// schedule.
type SubscriptionSweeper struct {
	spec    string
	lockTTL time.Duration
	subs    ucport.SubscriptionSweeper
	locker  adapter.Locker
	now     func() time.Time
	log     *zerolog.Logger
}

func NewSubscriptionSweeper(spec string, lockTTL time.Duration, subs ucport.SubscriptionSweeper, locker adapter.Locker, logger *zerolog.Logger) *SubscriptionSweeper {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	l := logger.With().Str("component", "SubscriptionSweeper").Logger()
	return &SubscriptionSweeper{
		spec:    spec,
		lockTTL: lockTTL,
		subs:    subs,
		locker:  locker,
		now:     func() time.Time { return time.Now().UTC() },
		log:     &l,
	}
}

// Run blocks until ctx is cancelled, then waits for a running sweep.
func (w *SubscriptionSweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(w.spec, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Error().Err(err).Msg("subscription sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("sweeper schedule %q: %w", w.spec, err)
	}

	w.log.Info().Str("schedule", w.spec).Msg("Starting subscription sweeper")
	c.Start()
	<-ctx.Done()
	w.log.Info().Msg("Stopping subscription sweeper")
	<-c.Stop().Done()
	return ctx.Err()
}

// RunOnce performs a single locked sweep; the CLI uses it directly.
func (w *SubscriptionSweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := runLocked(ctx, w.locker, sweepLockKey, w.lockTTL, sweepJob, w.log, func(ctx context.Context) (int, error) {
		return w.subs.SweepDue(ctx, w.now())
	})
	if n > 0 {
		metrics.IncSubscriptionsSwept(n)
		w.log.Info().Int("count", n).Msg("subscriptions transitioned")
	}
	return n, err
}
