package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/adapter"
)

var _ adapter.WebhookDecoder = RazorpayDecoder{}

// RazorpayDecoder reads Razorpay webhook envelopes.
type RazorpayDecoder struct{}

type rzpEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity rzpPaymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
			} `json:"entity"`
		} `json:"order"`
		Refund *struct {
			Entity struct {
				ID        string          `json:"id"`
				PaymentID string          `json:"payment_id"`
				Amount    int64           `json:"amount"`
				Currency  string          `json:"currency"`
				Notes     json.RawMessage `json:"notes"`
			} `json:"entity"`
		} `json:"refund"`
		Subscription *struct {
			Entity struct {
				ID     string          `json:"id"`
				Status string          `json:"status"`
				Notes  json.RawMessage `json:"notes"`
			} `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

type rzpPaymentEntity struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	Method           string          `json:"method"`
	Bank             string          `json:"bank"`
	Wallet           string          `json:"wallet"`
	VPA              string          `json:"vpa"`
	Card             *rzpCard        `json:"card"`
	ErrorCode        string          `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
	Notes            json.RawMessage `json:"notes"`
}

type rzpCard struct {
	Network string `json:"network"`
	Last4   string `json:"last4"`
	Issuer  string `json:"issuer"`
	Type    string `json:"type"`
}

func (RazorpayDecoder) Decode(body []byte) (*adapter.GatewayEvent, error) {
	var env rzpEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: webhook body: %v", domain.ErrValidation, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: webhook body has no event", domain.ErrValidation)
	}

	ev := &adapter.GatewayEvent{Type: env.Event, Notes: map[string]string{}}
	if p := env.Payload.Payment; p != nil {
		e := p.Entity
		ev.PaymentID = e.ID
		ev.OrderID = e.OrderID
		ev.Amount = e.Amount
		ev.Currency = strings.ToUpper(e.Currency)
		ev.FailureCode = e.ErrorCode
		ev.FailureReason = e.ErrorDescription
		ev.Method = e.paymentMethod()
		mergeNotes(ev.Notes, e.Notes)
	}
	if o := env.Payload.Order; o != nil {
		if ev.OrderID == "" {
			ev.OrderID = o.Entity.ID
		}
		if ev.Amount == 0 {
			ev.Amount = o.Entity.Amount
			ev.Currency = strings.ToUpper(o.Entity.Currency)
		}
	}
	if s := env.Payload.Subscription; s != nil {
		ev.SubscriptionID = s.Entity.ID
		mergeNotes(ev.Notes, s.Entity.Notes)
	}
	if r := env.Payload.Refund; r != nil {
		ev.RefundID = r.Entity.ID
		ev.RefundAmount = r.Entity.Amount
		if ev.PaymentID == "" {
			ev.PaymentID = r.Entity.PaymentID
		}
		mergeNotes(ev.Notes, r.Entity.Notes)
	}
	if ev.SubscriptionID == "" {
		ev.SubscriptionID = ev.Notes["subscription_id"]
	}
	return ev, nil
}

// paymentMethod resolves the tagged variant once, at ingestion. Unknown or
// incomplete methods yield nil rather than a half-filled variant.
func (e rzpPaymentEntity) paymentMethod() *model.PaymentMethod {
	var m model.PaymentMethod
	switch model.PaymentMethodKind(e.Method) {
	case model.MethodCard:
		if e.Card == nil {
			return nil
		}
		m = model.CardMethod(model.CardDetails{Network: e.Card.Network, Last4: e.Card.Last4, Issuer: e.Card.Issuer, Type: e.Card.Type})
	case model.MethodNetBanking:
		if e.Bank == "" {
			return nil
		}
		m = model.BankMethod(model.BankDetails{Bank: e.Bank})
	case model.MethodWallet:
		if e.Wallet == "" {
			return nil
		}
		m = model.WalletMethod(model.WalletDetails{Wallet: e.Wallet})
	case model.MethodUPI:
		if e.VPA == "" {
			return nil
		}
		m = model.UPIMethod(model.UPIDetails{VPA: e.VPA})
	default:
		return nil
	}
	return &m
}

// mergeNotes copies string notes. Razorpay sends [] instead of {} when empty.
func mergeNotes(dst map[string]string, raw json.RawMessage) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return
	}
	var notes map[string]any
	if err := json.Unmarshal(raw, &notes); err != nil {
		return
	}
	for k, v := range notes {
		if s, ok := v.(string); ok {
			dst[k] = s
		}
	}
}
