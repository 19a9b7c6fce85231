package repository

import (
	"context"
	"time"

	"sanskrit-enrollment/internal/domain/model"
)

// PaymentTransactionRepository persists the ledger. Events are append-only:
// Update writes the row and inserts any events not yet stored, it never
// rewrites an existing one.
type PaymentTransactionRepository interface {
	// Save inserts a new row. A second row for the same gateway order id
	// fails with domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, t *model.Transaction) error
	Update(ctx context.Context, tx Tx, t *model.Transaction) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Transaction, error)
	FindByOrderID(ctx context.Context, tx Tx, orderID string) (*model.Transaction, error)
	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.Transaction, error)
	// ListPendingOlderThan feeds the reconciler.
	ListPendingOlderThan(ctx context.Context, tx Tx, before time.Time, limit int) ([]*model.Transaction, error)
}
