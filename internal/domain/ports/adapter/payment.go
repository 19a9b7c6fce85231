package adapter

import (
	"context"

	"sanskrit-enrollment/internal/domain/model"
)

// OrderRequest asks the provider to open an order. Amount is in minor units.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the provider's view of an order. PaymentID and Status are
// only filled by FetchOrder once the provider has seen a payment attempt.
type GatewayOrder struct {
	ID        string
	Amount    int64
	Currency  string
	Receipt   string
	Status    string // created | attempted | paid
	PaymentID string
	// PaymentStatus mirrors the latest attempt: captured | authorized | failed.
	PaymentStatus string
	FailureReason string
	FailureCode   string
	// Notes echoes what CreateOrder attached; used to rebuild a lost ledger row.
	Notes map[string]string
}

// Paid reports whether the provider captured money for the order.
func (o *GatewayOrder) Paid() bool {
	return o.Status == "paid" || o.PaymentStatus == "captured"
}

type GatewayRefund struct {
	ID     string
	Amount int64
	Status string
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error)
	// FetchOrder is used by the reconciler for orders the gateway never
	// reported back on.
	FetchOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
	Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*GatewayRefund, error)
}

// SignatureVerifier checks provider signatures. Both methods fail closed:
// a missing secret or malformed signature reports false.
type SignatureVerifier interface {
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
}

// Gateway event types routed by the webhook dispatcher.
const (
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
	EventOrderPaid             = "order.paid"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventRefundCreated         = "refund.created"
)

// GatewayEvent is a webhook payload decoded into provider-neutral fields.
// Only the fields relevant to Type are set.
type GatewayEvent struct {
	Type      string
	OrderID   string
	PaymentID string
	Amount    int64
	Currency  string
	Method    *model.PaymentMethod

	FailureReason string
	FailureCode   string

	SubscriptionID string

	RefundID     string
	RefundAmount int64

	Notes map[string]string
}

// WebhookDecoder turns a verified raw body into a GatewayEvent.
type WebhookDecoder interface {
	Decode(body []byte) (*GatewayEvent, error)
}
