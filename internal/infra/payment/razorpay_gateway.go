// File: internal/infra/payment/razorpay_gateway.go
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/config"
	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*RazorpayGateway)(nil)

// RazorpayGateway talks to the Razorpay REST API with basic auth.
type RazorpayGateway struct {
	http     *resty.Client
	attempts uint
	log      *zerolog.Logger
}

func NewRazorpayGateway(cfg config.GatewayConfig, logger *zerolog.Logger) (*RazorpayGateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("razorpay: key id and secret are required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("razorpay: invalid base url: %w", err)
	}
	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.KeyID, cfg.KeySecret).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = 1 // retry-go treats 0 as unlimited
	}
	l := logger.With().Str("component", "razorpay").Logger()
	return &RazorpayGateway{http: cli, attempts: attempts, log: &l}, nil
}

func (g *RazorpayGateway) Name() string { return "razorpay" }

type rzpError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		Reason      string `json:"reason"`
	} `json:"error"`
}

type rzpOrder struct {
	ID       string          `json:"id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Status   string          `json:"status"`
	Notes    json.RawMessage `json:"notes"`
}

type rzpPayment struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"`
}

type rzpRefund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// classify maps transport failures and 5xx/429 to transient errors and
// other non-2xx answers to validation errors carrying the provider message.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		return domain.Transient("razorpay "+op, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	desc := http.StatusText(resp.StatusCode())
	if e, ok := resp.Error().(*rzpError); ok && e.Error.Description != "" {
		desc = e.Error.Code + ": " + e.Error.Description
	}
	if resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests {
		return domain.Transient("razorpay "+op, errors.New(desc))
	}
	return fmt.Errorf("%w: razorpay %s: %s", domain.ErrValidation, op, desc)
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.GatewayOrder, error) {
	body := map[string]any{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var out rzpOrder
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&rzpError{}).
		Post("/orders")
	if err := classify("create order", resp, err); err != nil {
		return nil, err
	}
	g.log.Debug().Str("order_id", out.ID).Int64("amount", out.Amount).Msg("order created")
	return &adapter.GatewayOrder{
		ID:       out.ID,
		Amount:   out.Amount,
		Currency: out.Currency,
		Receipt:  out.Receipt,
		Status:   out.Status,
		Notes:    decodeNotes(out.Notes),
	}, nil
}

// FetchOrder reads the order and its latest payment attempt. Reads are
// retried on transient errors.
func (g *RazorpayGateway) FetchOrder(ctx context.Context, orderID string) (*adapter.GatewayOrder, error) {
	var (
		order    rzpOrder
		payments struct {
			Items []rzpPayment `json:"items"`
		}
	)
	err := retry.Do(
		func() error {
			resp, err := g.http.R().
				SetContext(ctx).
				SetPathParam("id", orderID).
				SetResult(&order).
				SetError(&rzpError{}).
				Get("/orders/{id}")
			if err := classify("fetch order", resp, err); err != nil {
				return err
			}
			resp, err = g.http.R().
				SetContext(ctx).
				SetPathParam("id", orderID).
				SetResult(&payments).
				SetError(&rzpError{}).
				Get("/orders/{id}/payments")
			return classify("fetch order payments", resp, err)
		},
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, domain.ErrTransient) }),
	)
	if err != nil {
		return nil, err
	}

	out := &adapter.GatewayOrder{
		ID:       order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Receipt:  order.Receipt,
		Status:   order.Status,
		Notes:    decodeNotes(order.Notes),
	}
	if p := pickPayment(payments.Items); p != nil {
		out.PaymentID = p.ID
		out.PaymentStatus = p.Status
		out.FailureReason = p.ErrorDescription
		out.FailureCode = p.ErrorCode
	}
	return out, nil
}

func decodeNotes(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	mergeNotes(out, raw)
	return out
}

// pickPayment prefers a captured attempt, otherwise the most recent one.
func pickPayment(items []rzpPayment) *rzpPayment {
	var latest *rzpPayment
	for i := range items {
		p := &items[i]
		if p.Status == "captured" {
			return p
		}
		if latest == nil || p.CreatedAt > latest.CreatedAt {
			latest = p
		}
	}
	return latest
}

func (g *RazorpayGateway) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*adapter.GatewayRefund, error) {
	body := map[string]any{"amount": amount}
	if len(notes) > 0 {
		body["notes"] = notes
	}
	var out rzpRefund
	resp, err := g.http.R().
		SetContext(ctx).
		SetPathParam("id", paymentID).
		SetBody(body).
		SetResult(&out).
		SetError(&rzpError{}).
		Post("/payments/{id}/refund")
	if err := classify("refund", resp, err); err != nil {
		return nil, err
	}
	return &adapter.GatewayRefund{ID: out.ID, Amount: out.Amount, Status: out.Status}, nil
}
