// File: internal/usecase/ledger_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/adapter"
	"sanskrit-enrollment/internal/domain/ports/repository"
	"sanskrit-enrollment/internal/infra/logging"
	"sanskrit-enrollment/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase owns every state change of a payment transaction. Each
// mutation locks the row, applies the model transition and saves before it
// returns.
type LedgerUseCase interface {
	CreatePending(ctx context.Context, p model.NewTransactionParams) (*model.Transaction, error)
	// MarkSuccess reports changed=false when the transaction was already
	// settled with the same payment id, or when it had failed or been
	// cancelled before the capture arrived (recorded as late_capture).
	MarkSuccess(ctx context.Context, ref model.TransactionRef, paymentID, signature string, method *model.PaymentMethod, src model.EventSource) (*model.Transaction, bool, error)
	MarkFailed(ctx context.Context, ref model.TransactionRef, reason, code string, src model.EventSource) (*model.Transaction, bool, error)
	MarkCancelled(ctx context.Context, ref model.TransactionRef, reason string, src model.EventSource) (*model.Transaction, bool, error)
	// ProcessRefund applies a refund the gateway has already accepted. It is
	// idempotent on Refund.GatewayRefundID.
	ProcessRefund(ctx context.Context, ref model.TransactionRef, r model.Refund) (*model.Transaction, bool, error)
	AddEvent(ctx context.Context, ref model.TransactionRef, typ string, details map[string]any, src model.EventSource) error
	Get(ctx context.Context, ref model.TransactionRef) (*model.Transaction, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*model.Transaction, error)
}

type ledgerUC struct {
	txns   repository.PaymentTransactionRepository
	tm     repository.TransactionManager
	alerts adapter.AlertNotifier
	log    *zerolog.Logger
}

func NewLedgerUseCase(txns repository.PaymentTransactionRepository, tm repository.TransactionManager, alerts adapter.AlertNotifier, logger *zerolog.Logger) *ledgerUC {
	l := logger.With().Str("component", "ledger").Logger()
	return &ledgerUC{txns: txns, tm: tm, alerts: alerts, log: &l}
}

var ledgerTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

func (u *ledgerUC) find(ctx context.Context, tx repository.Tx, ref model.TransactionRef) (*model.Transaction, error) {
	switch {
	case ref.ID != "":
		return u.txns.FindByID(ctx, tx, ref.ID)
	case ref.OrderID != "":
		return u.txns.FindByOrderID(ctx, tx, ref.OrderID)
	}
	return nil, fmt.Errorf("%w: transaction id or order id is required", domain.ErrValidation)
}

// mutate runs fn on the locked row and saves it when fn reports a change.
func (u *ledgerUC) mutate(ctx context.Context, ref model.TransactionRef, fn func(t *model.Transaction) (bool, error)) (*model.Transaction, bool, error) {
	var (
		out     *model.Transaction
		changed bool
	)
	err := u.tm.WithTx(ctx, ledgerTxOptions, func(ctx context.Context, tx repository.Tx) error {
		t, err := u.find(ctx, tx, ref)
		if err != nil {
			return err
		}
		c, fnErr := fn(t)
		if c {
			if err := u.txns.Update(ctx, tx, t); err != nil {
				return err
			}
		}
		out, changed = t, c
		return fnErr
	})
	if err != nil {
		return out, false, err
	}
	return out, changed, nil
}

func (u *ledgerUC) CreatePending(ctx context.Context, p model.NewTransactionParams) (*model.Transaction, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.CreatePending")()

	t, err := model.NewPendingTransaction(p, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := u.txns.Save(ctx, repository.NoTX, t); err != nil {
		return nil, err
	}
	metrics.IncPayment(string(model.TransactionPending), string(model.SourceUser))
	logging.With(ctx, u.log).Info().
		Str("transaction_id", t.ID).
		Str("order_id", t.GatewayOrderID).
		Int64("amount", t.Amount).
		Msg("pending transaction created")
	return t, nil
}

func (u *ledgerUC) MarkSuccess(ctx context.Context, ref model.TransactionRef, paymentID, signature string, method *model.PaymentMethod, src model.EventSource) (*model.Transaction, bool, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.MarkSuccess")()

	var lateFrom model.TransactionStatus
	t, changed, err := u.mutate(ctx, ref, func(t *model.Transaction) (bool, error) {
		now := time.Now().UTC()
		changed, err := t.MarkSuccess(paymentID, signature, method, src, now)
		if err == nil || !errors.Is(err, domain.ErrInvalidTransition) {
			return changed, err
		}
		if t.Status != model.TransactionFailed && t.Status != model.TransactionCancelled {
			return false, err
		}
		// money arrived after we gave up on the order; keep the status and
		// leave a trail for an operator
		lateFrom = t.Status
		t.AppendEvent(model.EventLateCapture, src, map[string]any{
			"paymentId": paymentID,
			"status":    string(t.Status),
		}, now)
		return true, nil
	})

	log := logging.With(ctx, u.log)
	switch {
	case errors.Is(err, domain.ErrPaymentIDMismatch):
		metrics.IncLedgerAnomaly("payment_id_mismatch")
		log.Error().Err(err).Str("ref", ref.String()).Str("payment_id", paymentID).Msg("settled transaction received a different payment id")
		u.alert(ctx, adapter.SeverityCritical, "Payment id mismatch", map[string]string{
			"transaction": ref.String(),
			"stored":      storedPaymentID(t),
			"received":    paymentID,
			"source":      string(src),
		})
		return t, false, err
	case err != nil:
		return t, false, err
	case lateFrom != "":
		metrics.IncLedgerAnomaly("late_capture")
		log.Warn().Str("transaction_id", t.ID).Str("status", string(lateFrom)).Str("payment_id", paymentID).Msg("capture arrived for a closed transaction")
		u.alert(ctx, adapter.SeverityWarning, "Late capture", map[string]string{
			"transaction": t.ID,
			"order":       t.GatewayOrderID,
			"payment":     paymentID,
			"status":      string(lateFrom),
		})
		return t, false, nil
	case !changed:
		log.Debug().Str("transaction_id", t.ID).Msg("transaction already settled")
		return t, false, nil
	}

	metrics.IncPayment(string(model.TransactionSuccess), string(src))
	metrics.AddPaymentRevenue(t.Currency, t.Split.GuruShare, t.Split.PlatformShare)
	log.Info().Str("transaction_id", t.ID).Str("source", string(src)).Msg("payment marked successful")
	return t, true, nil
}

func storedPaymentID(t *model.Transaction) string {
	if t == nil {
		return ""
	}
	return t.GatewayPaymentID
}

func (u *ledgerUC) MarkFailed(ctx context.Context, ref model.TransactionRef, reason, code string, src model.EventSource) (*model.Transaction, bool, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.MarkFailed")()
	return u.closePending(ctx, ref, src, model.TransactionFailed, func(t *model.Transaction, now time.Time) (bool, error) {
		return t.MarkFailed(reason, code, src, now)
	})
}

func (u *ledgerUC) MarkCancelled(ctx context.Context, ref model.TransactionRef, reason string, src model.EventSource) (*model.Transaction, bool, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.MarkCancelled")()
	return u.closePending(ctx, ref, src, model.TransactionCancelled, func(t *model.Transaction, now time.Time) (bool, error) {
		return t.MarkCancelled(reason, src, now)
	})
}

// closePending treats a transition from a non-pending state as a no-op.
func (u *ledgerUC) closePending(ctx context.Context, ref model.TransactionRef, src model.EventSource, to model.TransactionStatus, fn func(*model.Transaction, time.Time) (bool, error)) (*model.Transaction, bool, error) {
	t, changed, err := u.mutate(ctx, ref, func(t *model.Transaction) (bool, error) {
		return fn(t, time.Now().UTC())
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		logging.With(ctx, u.log).Info().Err(err).Str("ref", ref.String()).Msg("transition skipped")
		return t, false, nil
	}
	if err != nil {
		return t, false, err
	}
	if changed {
		metrics.IncPayment(string(to), string(src))
	}
	return t, changed, nil
}

func (u *ledgerUC) ProcessRefund(ctx context.Context, ref model.TransactionRef, r model.Refund) (*model.Transaction, bool, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.ProcessRefund")()

	t, changed, err := u.mutate(ctx, ref, func(t *model.Transaction) (bool, error) {
		if r.ID == "" {
			r.ID = fmt.Sprintf("%s_r%d", t.ID, len(t.Refunds)+1)
		}
		return t.ApplyRefund(r, time.Now().UTC())
	})
	if err != nil {
		metrics.IncRefund("rejected")
		return t, false, err
	}
	if !changed {
		metrics.IncRefund("duplicate")
		return t, false, nil
	}
	metrics.IncRefund(string(t.Status))
	logging.With(ctx, u.log).Info().
		Str("transaction_id", t.ID).
		Int64("amount", r.Amount).
		Int64("refunded_total", t.RefundedAmount).
		Str("status", string(t.Status)).
		Msg("refund recorded")
	return t, true, nil
}

func (u *ledgerUC) AddEvent(ctx context.Context, ref model.TransactionRef, typ string, details map[string]any, src model.EventSource) error {
	defer logging.TraceDuration(u.log, "LedgerUC.AddEvent")()
	_, _, err := u.mutate(ctx, ref, func(t *model.Transaction) (bool, error) {
		t.AppendEvent(typ, src, details, time.Now().UTC())
		return true, nil
	})
	return err
}

func (u *ledgerUC) Get(ctx context.Context, ref model.TransactionRef) (*model.Transaction, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.Get")()
	return u.find(ctx, repository.NoTX, ref)
}

func (u *ledgerUC) FindByPaymentID(ctx context.Context, paymentID string) (*model.Transaction, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.FindByPaymentID")()
	return u.txns.FindByPaymentID(ctx, repository.NoTX, paymentID)
}

func (u *ledgerUC) alert(ctx context.Context, sev adapter.AlertSeverity, title string, fields map[string]string) {
	if u.alerts == nil {
		return
	}
	if err := u.alerts.Notify(ctx, adapter.Alert{Severity: sev, Title: title, Fields: fields}); err != nil {
		u.log.Warn().Err(err).Str("title", title).Msg("alert not delivered")
	}
}
