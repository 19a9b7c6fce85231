package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"sanskrit-enrollment/internal/domain"
)

type TransactionStatus string

const (
	TransactionPending           TransactionStatus = "pending"
	TransactionSuccess           TransactionStatus = "success"
	TransactionFailed            TransactionStatus = "failed"
	TransactionCancelled         TransactionStatus = "cancelled"
	TransactionRefunded          TransactionStatus = "refunded"
	TransactionPartiallyRefunded TransactionStatus = "partially_refunded"
)

// EventSource records who caused a ledger event.
type EventSource string

const (
	SourceSystem  EventSource = "system"
	SourceWebhook EventSource = "webhook"
	SourceAdmin   EventSource = "admin"
	SourceUser    EventSource = "user"
)

const (
	EventOrderCreated          = "order_created"
	EventPaymentSuccess        = "payment_success"
	EventPaymentFailed         = "payment_failed"
	EventPaymentCancelled      = "payment_cancelled"
	EventVerificationFailed    = "verification_failed"
	EventLateCapture           = "late_capture"
	EventRefundProcessed       = "refund_processed"
	EventRefundFailed          = "refund_failed"
	EventEnrollmentProvisioned = "enrollment_provisioned"
	EventAccessRevoked         = "access_revoked"
)

const (
	DefaultGuruPercent = 80
	DefaultCurrency    = "INR"
)

type TransactionEvent struct {
	Seq     int            `json:"seq"`
	Type    string         `json:"type"`
	At      time.Time      `json:"at"`
	Source  EventSource    `json:"source"`
	Details map[string]any `json:"details,omitempty"`
}

type RevenueSplit struct {
	GuruPercent     int   `json:"guruPercent"`
	PlatformPercent int   `json:"platformPercent"`
	GuruShare       int64 `json:"guruShare"`
	PlatformShare   int64 `json:"platformShare"`
}

// NewRevenueSplit divides amount (minor units) between instructor and platform.
// The guru share is rounded half-up; the platform takes the remainder so the
// shares always add up to the amount.
func NewRevenueSplit(amount int64, guruPercent int) (RevenueSplit, error) {
	if amount <= 0 {
		return RevenueSplit{}, domain.ErrInvalidAmount
	}
	if guruPercent < 0 || guruPercent > 100 {
		return RevenueSplit{}, fmt.Errorf("%w: guru percent %d out of range", domain.ErrValidation, guruPercent)
	}
	guru := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(int64(guruPercent))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	return RevenueSplit{
		GuruPercent:     guruPercent,
		PlatformPercent: 100 - guruPercent,
		GuruShare:       guru,
		PlatformShare:   amount - guru,
	}, nil
}

type Refund struct {
	ID              string      `json:"id"`
	GatewayRefundID string      `json:"gatewayRefundId,omitempty"`
	Amount          int64       `json:"amount"`
	Reason          string      `json:"reason,omitempty"`
	ActorID         string      `json:"actorId,omitempty"`
	Source          EventSource `json:"source"`
	At              time.Time   `json:"at"`
}

// Transaction is one payment attempt for one course purchase.
// Fields are only changed through the transition methods below.
type Transaction struct {
	ID             string
	UserID         string
	CourseID       string
	GuruID         string
	EnrollmentType EnrollmentType
	Amount         int64
	Currency       string
	Split          RevenueSplit
	Status         TransactionStatus

	Gateway          string
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	Method           *PaymentMethod

	FailureReason  string
	FailureCode    string
	RefundedAmount int64
	Refunds        []Refund
	Events         []TransactionEvent
	Metadata       map[string]any

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

type NewTransactionParams struct {
	UserID         string
	CourseID       string
	GuruID         string
	EnrollmentType EnrollmentType
	Amount         int64
	Currency       string
	GuruPercent    int
	Gateway        string
	GatewayOrderID string
	Metadata       map[string]any
}

func NewTransactionID() string {
	return "txn_" + ulid.Make().String()
}

// NewPendingTransaction builds a fresh pending ledger row. Every call yields a
// new id; it never reuses an existing transaction.
func NewPendingTransaction(p NewTransactionParams, now time.Time) (*Transaction, error) {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.CourseID) == "" || strings.TrimSpace(p.GuruID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if strings.TrimSpace(p.GatewayOrderID) == "" {
		return nil, fmt.Errorf("%w: gateway order id is required", domain.ErrValidation)
	}
	if !p.EnrollmentType.Valid() {
		return nil, fmt.Errorf("%w: unknown enrollment type %q", domain.ErrValidation, p.EnrollmentType)
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency %q", domain.ErrValidation, p.Currency)
	}
	split, err := NewRevenueSplit(p.Amount, p.GuruPercent)
	if err != nil {
		return nil, err
	}
	t := &Transaction{
		ID:             NewTransactionID(),
		UserID:         p.UserID,
		CourseID:       p.CourseID,
		GuruID:         p.GuruID,
		EnrollmentType: p.EnrollmentType,
		Amount:         p.Amount,
		Currency:       currency,
		Split:          split,
		Status:         TransactionPending,
		Gateway:        p.Gateway,
		GatewayOrderID: p.GatewayOrderID,
		Metadata:       p.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	t.AppendEvent(EventOrderCreated, SourceSystem, map[string]any{
		"orderId":  p.GatewayOrderID,
		"amount":   p.Amount,
		"currency": currency,
	}, now)
	return t, nil
}

// AppendEvent adds an audit entry. Entries are never removed or rewritten.
func (t *Transaction) AppendEvent(typ string, src EventSource, details map[string]any, now time.Time) {
	t.Events = append(t.Events, TransactionEvent{
		Seq:     len(t.Events) + 1,
		Type:    typ,
		At:      now,
		Source:  src,
		Details: details,
	})
	t.UpdatedAt = now
}

// IsSettled reports whether money was captured for this transaction.
func (t *Transaction) IsSettled() bool {
	switch t.Status {
	case TransactionSuccess, TransactionRefunded, TransactionPartiallyRefunded:
		return true
	}
	return false
}

// MarkSuccess moves pending -> success. A repeat with the same payment id is a
// no-op; a different payment id on a settled transaction is a conflict and the
// stored id is kept.
func (t *Transaction) MarkSuccess(paymentID, signature string, method *PaymentMethod, src EventSource, now time.Time) (bool, error) {
	if strings.TrimSpace(paymentID) == "" {
		return false, fmt.Errorf("%w: gateway payment id is required", domain.ErrValidation)
	}
	if t.IsSettled() {
		if t.GatewayPaymentID == paymentID {
			return false, nil
		}
		return false, fmt.Errorf("%w (transaction=%s stored=%s received=%s)", domain.ErrPaymentIDMismatch, t.ID, t.GatewayPaymentID, paymentID)
	}
	if t.Status != TransactionPending {
		return false, domain.NewTransitionError("transaction "+t.ID, string(t.Status), string(TransactionSuccess))
	}
	if method != nil {
		if err := method.Validate(); err != nil {
			return false, err
		}
		m := *method
		t.Method = &m
	}
	t.Status = TransactionSuccess
	t.GatewayPaymentID = paymentID
	t.GatewaySignature = signature
	t.CompletedAt = &now
	details := map[string]any{"paymentId": paymentID}
	if t.Method != nil {
		details["method"] = string(t.Method.Kind)
	}
	t.AppendEvent(EventPaymentSuccess, src, details, now)
	return true, nil
}

// MarkFailed moves pending -> failed.
func (t *Transaction) MarkFailed(reason, code string, src EventSource, now time.Time) (bool, error) {
	if t.Status != TransactionPending {
		return false, domain.NewTransitionError("transaction "+t.ID, string(t.Status), string(TransactionFailed))
	}
	t.Status = TransactionFailed
	t.FailureReason = reason
	t.FailureCode = code
	t.AppendEvent(EventPaymentFailed, src, map[string]any{"reason": reason, "code": code}, now)
	return true, nil
}

// MarkCancelled moves pending -> cancelled (order abandoned or expired).
func (t *Transaction) MarkCancelled(reason string, src EventSource, now time.Time) (bool, error) {
	if t.Status != TransactionPending {
		return false, domain.NewTransitionError("transaction "+t.ID, string(t.Status), string(TransactionCancelled))
	}
	t.Status = TransactionCancelled
	t.FailureReason = reason
	t.AppendEvent(EventPaymentCancelled, src, map[string]any{"reason": reason}, now)
	return true, nil
}

// RefundableAmount is what is still available for refunds.
func (t *Transaction) RefundableAmount() int64 {
	if t.Status != TransactionSuccess && t.Status != TransactionPartiallyRefunded {
		return 0
	}
	return t.Amount - t.RefundedAmount
}

// ValidateRefund checks a refund request without touching the transaction.
func (t *Transaction) ValidateRefund(amount int64) error {
	if t.Status != TransactionSuccess && t.Status != TransactionPartiallyRefunded {
		return domain.NewTransitionError("transaction "+t.ID, string(t.Status), string(TransactionRefunded))
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if amount > t.Amount-t.RefundedAmount {
		return fmt.Errorf("%w (requested=%d remaining=%d)", domain.ErrRefundExceedsAmount, amount, t.Amount-t.RefundedAmount)
	}
	return nil
}

// HasRefund reports whether a gateway refund was already applied.
func (t *Transaction) HasRefund(gatewayRefundID string) bool {
	if gatewayRefundID == "" {
		return false
	}
	for _, r := range t.Refunds {
		if r.GatewayRefundID == gatewayRefundID {
			return true
		}
	}
	return false
}

// ApplyRefund records a refund. It is idempotent on the gateway refund id.
func (t *Transaction) ApplyRefund(r Refund, now time.Time) (bool, error) {
	if t.HasRefund(r.GatewayRefundID) {
		return false, nil
	}
	if err := t.ValidateRefund(r.Amount); err != nil {
		return false, err
	}
	if r.At.IsZero() {
		r.At = now
	}
	t.Refunds = append(t.Refunds, r)
	t.RefundedAmount += r.Amount
	if t.RefundedAmount == t.Amount {
		t.Status = TransactionRefunded
	} else {
		t.Status = TransactionPartiallyRefunded
	}
	t.AppendEvent(EventRefundProcessed, r.Source, map[string]any{
		"refundId":        r.ID,
		"gatewayRefundId": r.GatewayRefundID,
		"amount":          r.Amount,
		"reason":          r.Reason,
		"actorId":         r.ActorID,
	}, now)
	return true, nil
}

// FullyRefunded reports whether nothing of the original amount remains.
func (t *Transaction) FullyRefunded() bool { return t.Status == TransactionRefunded }

// CountEvents returns how many events of the given type were recorded.
func (t *Transaction) CountEvents(typ string) int {
	n := 0
	for _, e := range t.Events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Clone returns a deep enough copy for in-memory stores and caches.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	cp.Refunds = append([]Refund(nil), t.Refunds...)
	cp.Events = append([]TransactionEvent(nil), t.Events...)
	if t.Method != nil {
		m := *t.Method
		cp.Method = &m
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// TransactionRef identifies a ledger row by either of its unique keys.
type TransactionRef struct {
	ID      string
	OrderID string
}

func (r TransactionRef) String() string {
	if r.ID != "" {
		return r.ID
	}
	return "order:" + r.OrderID
}
