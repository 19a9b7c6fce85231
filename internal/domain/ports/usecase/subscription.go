package usecase

import (
	"context"
	"time"
)

// SubscriptionSweeper is what the background sweeper needs from the
// subscription use case.
type SubscriptionSweeper interface {
	SweepDue(ctx context.Context, now time.Time) (int, error)
}

// PaymentReconciler resolves pending transactions against the gateway.
type PaymentReconciler interface {
	ReconcilePending(ctx context.Context, olderThan, cancelAfter time.Duration) (int, error)
}
