package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v4/pgxpool"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/repository"
)

var _ repository.WebhookEventRepository = (*webhookEventRepo)(nil)

type webhookEventRepo struct {
	pool *pgxpool.Pool
	ids  *snowflake.Node
}

// NewWebhookEventRepo needs a node id unique per running instance.
func NewWebhookEventRepo(pool *pgxpool.Pool, node int64) (*webhookEventRepo, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &webhookEventRepo{pool: pool, ids: n}, nil
}

func (r *webhookEventRepo) Record(ctx context.Context, tx repository.Tx, ev *model.WebhookEvent) (*model.WebhookEvent, error) {
	if ev == nil || ev.Provider == "" || ev.EventID == "" {
		return nil, domain.ErrInvalidArgument
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	const q = `
INSERT INTO webhook_events (id, provider, event_id, event_type, payload, signature_valid, received_at, delivery_count)
VALUES ($1,$2,$3,$4,$5,$6,$7,1)
ON CONFLICT (provider, event_id) DO UPDATE SET delivery_count = webhook_events.delivery_count + 1
RETURNING id, provider, event_id, event_type, payload, signature_valid, received_at, processed_at,
  processing_error, delivery_count;`
	row, err := pickRow(ctx, r.pool, tx, q, r.ids.Generate().Int64(), ev.Provider, ev.EventID, ev.EventType,
		payload, ev.SignatureValid, ev.ReceivedAt)
	if err != nil {
		return nil, err
	}
	out := &model.WebhookEvent{}
	var procErr *string
	if err := row.Scan(&out.ID, &out.Provider, &out.EventID, &out.EventType, &out.Payload, &out.SignatureValid,
		&out.ReceivedAt, &out.ProcessedAt, &procErr, &out.DeliveryCount); err != nil {
		return nil, mapWriteErr(err)
	}
	out.ProcessingError = deref(procErr)
	return out, nil
}

func (r *webhookEventRepo) MarkProcessed(ctx context.Context, tx repository.Tx, id int64, processingErr string, at time.Time) error {
	const q = `UPDATE webhook_events SET processed_at=$2, processing_error=$3 WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, at, nullIfEmpty(processingErr))
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *webhookEventRepo) MarkFailed(ctx context.Context, tx repository.Tx, id int64, processingErr string) error {
	const q = `UPDATE webhook_events SET processing_error=$2 WHERE id=$1 AND processed_at IS NULL;`
	_, err := execSQL(ctx, r.pool, tx, q, id, nullIfEmpty(processingErr))
	return mapWriteErr(err)
}
