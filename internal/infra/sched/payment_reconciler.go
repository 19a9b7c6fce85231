package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain/ports/adapter"
	ucport "sanskrit-enrollment/internal/domain/ports/usecase"
)

const (
	reconcileJob     = "payment_reconcile"
	reconcileLockKey = "lock:job:payment_reconcile"
)

// PaymentReconciler periodically asks the gateway about transactions stuck
// in pending. It covers a lost verify call together with a lost webhook.
type PaymentReconciler struct {
	uc          ucport.PaymentReconciler
	locker      adapter.Locker
	interval    time.Duration // how often to scan
	staleAfter  time.Duration // how old a pending transaction must be to check
	cancelAfter time.Duration // unpaid orders older than this are cancelled
	lockTTL     time.Duration
	log         *zerolog.Logger
}

func NewPaymentReconciler(uc ucport.PaymentReconciler, locker adapter.Locker, interval, staleAfter, cancelAfter, lockTTL time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if cancelAfter <= 0 {
		cancelAfter = 24 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = interval
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		uc:          uc,
		locker:      locker,
		interval:    interval,
		staleAfter:  staleAfter,
		cancelAfter: cancelAfter,
		lockTTL:     lockTTL,
		log:         &l,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("reconcile tick failed")
			}
		}
	}
}

func (w *PaymentReconciler) RunOnce(ctx context.Context) (int, error) {
	n, err := runLocked(ctx, w.locker, reconcileLockKey, w.lockTTL, reconcileJob, w.log, func(ctx context.Context) (int, error) {
		return w.uc.ReconcilePending(ctx, w.staleAfter, w.cancelAfter)
	})
	if n > 0 {
		w.log.Info().Int("count", n).Msg("pending transactions resolved")
	}
	return n, err
}
