//go:build !integration

package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"sanskrit-enrollment/internal/domain"
)

func newPending(t *testing.T, amount int64) *Transaction {
	t.Helper()
	tx, err := NewPendingTransaction(NewTransactionParams{
		UserID:         "user-1",
		CourseID:       "course-1",
		GuruID:         "guru-1",
		EnrollmentType: OneTimePurchase,
		Amount:         amount,
		Currency:       "inr",
		GuruPercent:    DefaultGuruPercent,
		Gateway:        "razorpay",
		GatewayOrderID: "order_1",
	}, time.Now())
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	return tx
}

func TestNewRevenueSplit(t *testing.T) {
	t.Run("should split 80/20 and always sum to the total", func(t *testing.T) {
		for _, amount := range []int64{49900, 1, 3, 99999, 12345} {
			s, err := NewRevenueSplit(amount, 80)
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if s.GuruShare+s.PlatformShare != amount {
				t.Errorf("shares %d+%d do not add up to %d", s.GuruShare, s.PlatformShare, amount)
			}
		}
		s, _ := NewRevenueSplit(49900, 80)
		if s.GuruShare != 39920 || s.PlatformShare != 9980 {
			t.Errorf("unexpected split for 49900: %+v", s)
		}
	})

	t.Run("should round the guru share half-up", func(t *testing.T) {
		s, _ := NewRevenueSplit(5, 50) // 2.5 -> 3
		if s.GuruShare != 3 || s.PlatformShare != 2 {
			t.Errorf("expected 3/2, got %d/%d", s.GuruShare, s.PlatformShare)
		}
	})

	t.Run("should reject non-positive amounts", func(t *testing.T) {
		if _, err := NewRevenueSplit(0, 80); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestNewPendingTransaction(t *testing.T) {
	t.Run("should create a pending row with a fresh id and an order_created event", func(t *testing.T) {
		a := newPending(t, 49900)
		b := newPending(t, 49900)
		if a.ID == b.ID {
			t.Error("expected distinct ids for two calls")
		}
		if !strings.HasPrefix(a.ID, "txn_") {
			t.Errorf("unexpected id format %q", a.ID)
		}
		if a.Status != TransactionPending {
			t.Errorf("expected pending, got %s", a.Status)
		}
		if a.Currency != "INR" {
			t.Errorf("expected upper-cased currency, got %s", a.Currency)
		}
		if len(a.Events) != 1 || a.Events[0].Type != EventOrderCreated {
			t.Errorf("expected a single order_created event, got %+v", a.Events)
		}
	})

	t.Run("should reject a missing order id", func(t *testing.T) {
		_, err := NewPendingTransaction(NewTransactionParams{
			UserID: "u", CourseID: "c", GuruID: "g", EnrollmentType: OneTimePurchase, Amount: 100, GuruPercent: 80,
		}, time.Now())
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestTransaction_MarkSuccess(t *testing.T) {
	now := time.Now()

	t.Run("should be idempotent for the same payment id", func(t *testing.T) {
		tx := newPending(t, 49900)

		changed, err := tx.MarkSuccess("pay_1", "sig", nil, SourceUser, now)
		if err != nil || !changed {
			t.Fatalf("first call: changed=%v err=%v", changed, err)
		}
		changed, err = tx.MarkSuccess("pay_1", "sig", nil, SourceWebhook, now)
		if err != nil || changed {
			t.Fatalf("second call: changed=%v err=%v", changed, err)
		}
		if n := tx.CountEvents(EventPaymentSuccess); n != 1 {
			t.Errorf("expected exactly one payment_success event, got %d", n)
		}
	})

	t.Run("should refuse to overwrite a different payment id", func(t *testing.T) {
		tx := newPending(t, 49900)
		_, _ = tx.MarkSuccess("pay_1", "sig", nil, SourceUser, now)

		_, err := tx.MarkSuccess("pay_2", "sig2", nil, SourceWebhook, now)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		if tx.GatewayPaymentID != "pay_1" || tx.GatewaySignature != "sig" {
			t.Error("stored payment id or signature was overwritten")
		}
	})

	t.Run("should not succeed a failed transaction", func(t *testing.T) {
		tx := newPending(t, 49900)
		_, _ = tx.MarkFailed("card declined", "BAD_REQUEST_ERROR", SourceWebhook, now)

		changed, err := tx.MarkSuccess("pay_1", "", nil, SourceWebhook, now)
		if changed || !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected invalid transition, got changed=%v err=%v", changed, err)
		}
		if tx.Status != TransactionFailed {
			t.Errorf("status changed to %s", tx.Status)
		}
	})

	t.Run("should reject a method whose details do not match its kind", func(t *testing.T) {
		tx := newPending(t, 49900)
		bad := PaymentMethod{Kind: MethodUPI, Card: &CardDetails{Last4: "4242"}}
		if _, err := tx.MarkSuccess("pay_1", "", &bad, SourceWebhook, now); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if tx.Status != TransactionPending {
			t.Error("transaction should remain pending")
		}
	})
}

func TestTransaction_Refund(t *testing.T) {
	now := time.Now()
	settled := func(t *testing.T) *Transaction {
		tx := newPending(t, 49900)
		if _, err := tx.MarkSuccess("pay_1", "sig", nil, SourceUser, now); err != nil {
			t.Fatalf("mark success: %v", err)
		}
		return tx
	}

	t.Run("should reject a refund above the remaining balance without mutating", func(t *testing.T) {
		tx := settled(t)
		events := len(tx.Events)

		_, err := tx.ApplyRefund(Refund{ID: "r1", Amount: 50000, Source: SourceAdmin}, now)
		if !errors.Is(err, domain.ErrRefundExceedsAmount) {
			t.Fatalf("expected ErrRefundExceedsAmount, got %v", err)
		}
		if tx.Status != TransactionSuccess || tx.RefundedAmount != 0 || len(tx.Events) != events {
			t.Error("transaction was mutated by a rejected refund")
		}
	})

	t.Run("should move to partially_refunded then refunded", func(t *testing.T) {
		tx := settled(t)

		if _, err := tx.ApplyRefund(Refund{ID: "r1", GatewayRefundID: "rfnd_1", Amount: 9900, Source: SourceAdmin}, now); err != nil {
			t.Fatalf("partial refund: %v", err)
		}
		if tx.Status != TransactionPartiallyRefunded || tx.RefundableAmount() != 40000 {
			t.Fatalf("unexpected state after partial refund: %s remaining=%d", tx.Status, tx.RefundableAmount())
		}
		if _, err := tx.ApplyRefund(Refund{ID: "r2", GatewayRefundID: "rfnd_2", Amount: 40000, Source: SourceAdmin}, now); err != nil {
			t.Fatalf("final refund: %v", err)
		}
		if !tx.FullyRefunded() {
			t.Errorf("expected refunded, got %s", tx.Status)
		}
	})

	t.Run("should ignore a gateway refund id that was already applied", func(t *testing.T) {
		tx := settled(t)
		_, _ = tx.ApplyRefund(Refund{ID: "r1", GatewayRefundID: "rfnd_1", Amount: 100, Source: SourceWebhook}, now)

		changed, err := tx.ApplyRefund(Refund{ID: "r2", GatewayRefundID: "rfnd_1", Amount: 100, Source: SourceWebhook}, now)
		if err != nil || changed {
			t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
		}
		if tx.RefundedAmount != 100 {
			t.Errorf("refunded amount double counted: %d", tx.RefundedAmount)
		}
	})

	t.Run("should reject a refund on a pending transaction with both states named", func(t *testing.T) {
		tx := newPending(t, 49900)
		err := tx.ValidateRefund(100)
		var te *domain.TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransitionError, got %v", err)
		}
		if te.From != string(TransactionPending) || te.To != string(TransactionRefunded) {
			t.Errorf("unexpected transition error: %v", te)
		}
	})
}

func TestPaymentMethod(t *testing.T) {
	t.Run("should describe each variant with masking", func(t *testing.T) {
		cases := map[string]PaymentMethod{
			"card visa ****4242":   CardMethod(CardDetails{Network: "visa", Last4: "4242"}),
			"netbanking HDFC":      BankMethod(BankDetails{Bank: "HDFC"}),
			"wallet paytm":         WalletMethod(WalletDetails{Wallet: "paytm"}),
			"upi ra***@okhdfcbank": UPIMethod(UPIDetails{VPA: "ramesh@okhdfcbank"}),
		}
		for want, m := range cases {
			if err := m.Validate(); err != nil {
				t.Errorf("%s: unexpected validation error %v", want, err)
			}
			if got := m.Describe(); got != want {
				t.Errorf("want %q, got %q", want, got)
			}
		}
	})
}
