package repository

import (
	"context"
	"time"

	"sanskrit-enrollment/internal/domain/model"
)

type WebhookEventRepository interface {
	// Record stores a delivery keyed by (provider, event id). A redelivery
	// bumps DeliveryCount and returns the stored row, so callers can see
	// whether it was already processed.
	Record(ctx context.Context, tx Tx, ev *model.WebhookEvent) (*model.WebhookEvent, error)
	MarkProcessed(ctx context.Context, tx Tx, id int64, processingErr string, at time.Time) error
	// MarkFailed stores a handler error but leaves the delivery unprocessed,
	// so the next redelivery runs the handler again.
	MarkFailed(ctx context.Context, tx Tx, id int64, processingErr string) error
}
