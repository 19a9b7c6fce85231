package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/repository"
	"sanskrit-enrollment/internal/infra/security"
)

var _ repository.PaymentTransactionRepository = (*transactionRepo)(nil)

// transactionRepo stores the ledger row in payment_transactions and its audit
// trail in payment_transaction_events. Payment method details are sealed
// with the field cipher before they reach the database.
type transactionRepo struct {
	pool   *pgxpool.Pool
	cipher security.FieldCipher
}

func NewTransactionRepo(pool *pgxpool.Pool, cipher security.FieldCipher) *transactionRepo {
	return &transactionRepo{pool: pool, cipher: cipher}
}

const transactionColumns = `id, user_id, course_id, guru_id, enrollment_type, amount, currency,
  guru_percent, guru_share, platform_share, status, gateway, gateway_order_id, gateway_payment_id,
  gateway_signature, payment_method, payment_method_details, failure_reason, failure_code,
  refunded_amount, refunds, metadata, created_at, updated_at, completed_at`

func (r *transactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	args, err := r.rowArgs(t)
	if err != nil {
		return err
	}
	q := `INSERT INTO payment_transactions (` + transactionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25);`
	if _, err := execSQL(ctx, r.pool, tx, q, args...); err != nil {
		return mapWriteErr(err)
	}
	return r.insertEvents(ctx, tx, t)
}

func (r *transactionRepo) Update(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	args, err := r.rowArgs(t)
	if err != nil {
		return err
	}
	const q = `
UPDATE payment_transactions SET
  status=$2, gateway_payment_id=$3, gateway_signature=$4, payment_method=$5,
  payment_method_details=$6, failure_reason=$7, failure_code=$8, refunded_amount=$9,
  refunds=$10, metadata=$11, updated_at=$12, completed_at=$13
WHERE id=$1;`
	// only the mutable columns; see rowArgs for positions
	args = []interface{}{args[0], args[10], args[13], args[14], args[15], args[16], args[17], args[18], args[19], args[20], args[21], args[23], args[24]}
	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return r.insertEvents(ctx, tx, t)
}

// insertEvents writes events the table does not have yet. Existing rows are
// left alone; the table rejects updates.
func (r *transactionRepo) insertEvents(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	const q = `
INSERT INTO payment_transaction_events (transaction_id, seq, type, source, details, at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (transaction_id, seq) DO NOTHING;`
	for _, ev := range t.Events {
		details, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("%w: event details: %v", domain.ErrInvalidArgument, err)
		}
		if ev.Details == nil {
			details = []byte("{}")
		}
		if _, err := execSQL(ctx, r.pool, tx, q, t.ID, ev.Seq, ev.Type, string(ev.Source), details, ev.At); err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func (r *transactionRepo) rowArgs(t *model.Transaction) ([]interface{}, error) {
	if t == nil || t.ID == "" {
		return nil, domain.ErrInvalidArgument
	}
	var method, details *string
	if t.Method != nil {
		kind := string(t.Method.Kind)
		method = &kind
		sealed, err := security.SealJSON(r.cipher, t.Method)
		if err != nil {
			return nil, fmt.Errorf("seal payment method: %w", err)
		}
		details = &sealed
	}
	refunds := t.Refunds
	if refunds == nil {
		refunds = []model.Refund{}
	}
	refundsJSON, err := json.Marshal(refunds)
	if err != nil {
		return nil, domain.ErrInvalidArgument
	}
	meta := t.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, domain.ErrInvalidArgument
	}
	return []interface{}{
		t.ID, t.UserID, t.CourseID, t.GuruID, string(t.EnrollmentType), t.Amount, t.Currency,
		t.Split.GuruPercent, t.Split.GuruShare, t.Split.PlatformShare, string(t.Status), t.Gateway,
		t.GatewayOrderID, nullIfEmpty(t.GatewayPaymentID), nullIfEmpty(t.GatewaySignature), method,
		details, nullIfEmpty(t.FailureReason), nullIfEmpty(t.FailureCode), t.RefundedAmount,
		refundsJSON, metaJSON, t.CreatedAt, t.UpdatedAt, t.CompletedAt,
	}, nil
}

func (r *transactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	return r.findOne(ctx, tx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE id=$1`, id)
}

func (r *transactionRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Transaction, error) {
	return r.findOne(ctx, tx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE gateway_order_id=$1`, orderID)
}

func (r *transactionRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.Transaction, error) {
	return r.findOne(ctx, tx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE gateway_payment_id=$1`, paymentID)
}

func (r *transactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + transactionColumns + ` FROM payment_transactions
WHERE status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, before, limit)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	var out []*model.Transaction
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	for _, t := range out {
		if err := r.loadEvents(ctx, tx, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *transactionRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg string) (*model.Transaction, error) {
	row, err := pickRow(ctx, r.pool, tx, forUpdate(q, tx), arg)
	if err != nil {
		return nil, err
	}
	t, err := r.scan(row)
	if err != nil {
		return nil, err
	}
	if err := r.loadEvents(ctx, tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *transactionRepo) scan(row pgx.Row) (*model.Transaction, error) {
	var (
		t                                     model.Transaction
		typ, status                           string
		paymentID, signature, method, details *string
		failureReason, failureCode            *string
		refundsJSON, metaJSON                 []byte
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.CourseID, &t.GuruID, &typ, &t.Amount, &t.Currency,
		&t.Split.GuruPercent, &t.Split.GuruShare, &t.Split.PlatformShare, &status, &t.Gateway,
		&t.GatewayOrderID, &paymentID, &signature, &method, &details, &failureReason, &failureCode,
		&t.RefundedAmount, &refundsJSON, &metaJSON, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, mapScanErr(err)
	}
	t.EnrollmentType = model.EnrollmentType(typ)
	t.Status = model.TransactionStatus(status)
	t.Split.PlatformPercent = 100 - t.Split.GuruPercent
	t.GatewayPaymentID = deref(paymentID)
	t.GatewaySignature = deref(signature)
	t.FailureReason = deref(failureReason)
	t.FailureCode = deref(failureCode)
	if details != nil && *details != "" {
		var m model.PaymentMethod
		if err := security.OpenJSON(r.cipher, *details, &m); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		t.Method = &m
	}
	if err := json.Unmarshal(refundsJSON, &t.Refunds); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &t, nil
}

func (r *transactionRepo) loadEvents(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	const q = `SELECT seq, type, source, details, at FROM payment_transaction_events WHERE transaction_id=$1 ORDER BY seq ASC;`
	rows, err := queryRows(ctx, r.pool, tx, q, t.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return mapWriteErr(err)
	}
	defer rows.Close()
	t.Events = t.Events[:0]
	for rows.Next() {
		var (
			ev      model.TransactionEvent
			source  string
			details []byte
		)
		if err := rows.Scan(&ev.Seq, &ev.Type, &source, &details, &ev.At); err != nil {
			return domain.ErrReadDatabaseRow
		}
		ev.Source = model.EventSource(source)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return domain.ErrReadDatabaseRow
			}
			if len(ev.Details) == 0 {
				ev.Details = nil
			}
		}
		t.Events = append(t.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return domain.ErrReadDatabaseRow
	}
	return nil
}
