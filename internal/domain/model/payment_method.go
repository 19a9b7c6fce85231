package model

import (
	"fmt"
	"strings"

	"sanskrit-enrollment/internal/domain"
)

type PaymentMethodKind string

const (
	MethodCard       PaymentMethodKind = "card"
	MethodNetBanking PaymentMethodKind = "netbanking"
	MethodWallet     PaymentMethodKind = "wallet"
	MethodUPI        PaymentMethodKind = "upi"
)

type CardDetails struct {
	Network string `json:"network,omitempty"`
	Last4   string `json:"last4,omitempty"`
	Issuer  string `json:"issuer,omitempty"`
	Type    string `json:"type,omitempty"` // credit | debit | prepaid
}

type BankDetails struct {
	Bank string `json:"bank"`
}

type WalletDetails struct {
	Wallet string `json:"wallet"`
}

type UPIDetails struct {
	VPA string `json:"vpa"`
}

// PaymentMethod is a tagged variant: Kind selects which detail block is set.
// It is resolved once when a gateway payload is ingested.
type PaymentMethod struct {
	Kind   PaymentMethodKind `json:"method"`
	Card   *CardDetails      `json:"card,omitempty"`
	Bank   *BankDetails      `json:"bank,omitempty"`
	Wallet *WalletDetails    `json:"wallet,omitempty"`
	UPI    *UPIDetails       `json:"upi,omitempty"`
}

func CardMethod(d CardDetails) PaymentMethod     { return PaymentMethod{Kind: MethodCard, Card: &d} }
func BankMethod(d BankDetails) PaymentMethod     { return PaymentMethod{Kind: MethodNetBanking, Bank: &d} }
func WalletMethod(d WalletDetails) PaymentMethod { return PaymentMethod{Kind: MethodWallet, Wallet: &d} }
func UPIMethod(d UPIDetails) PaymentMethod       { return PaymentMethod{Kind: MethodUPI, UPI: &d} }

// Validate checks that exactly the detail block matching Kind is present.
func (m PaymentMethod) Validate() error {
	set := 0
	for _, present := range []bool{m.Card != nil, m.Bank != nil, m.Wallet != nil, m.UPI != nil} {
		if present {
			set++
		}
	}
	var ok bool
	switch m.Kind {
	case MethodCard:
		ok = m.Card != nil
	case MethodNetBanking:
		ok = m.Bank != nil
	case MethodWallet:
		ok = m.Wallet != nil
	case MethodUPI:
		ok = m.UPI != nil
	default:
		return fmt.Errorf("%w: unknown payment method %q", domain.ErrValidation, m.Kind)
	}
	if !ok || set != 1 {
		return fmt.Errorf("%w: payment method %q has mismatched details", domain.ErrValidation, m.Kind)
	}
	return nil
}

// Describe renders a short, masked label suitable for receipts and logs.
func (m PaymentMethod) Describe() string {
	switch m.Kind {
	case MethodCard:
		if m.Card == nil {
			return "card"
		}
		label := strings.TrimSpace("card " + m.Card.Network)
		if m.Card.Last4 != "" {
			label += " ****" + m.Card.Last4
		}
		return label
	case MethodNetBanking:
		if m.Bank == nil {
			return "netbanking"
		}
		return "netbanking " + m.Bank.Bank
	case MethodWallet:
		if m.Wallet == nil {
			return "wallet"
		}
		return "wallet " + m.Wallet.Wallet
	case MethodUPI:
		if m.UPI == nil {
			return "upi"
		}
		return "upi " + maskVPA(m.UPI.VPA)
	}
	return string(m.Kind)
}

func maskVPA(vpa string) string {
	at := strings.IndexByte(vpa, '@')
	if at <= 0 {
		return "***"
	}
	handle := vpa[:at]
	if len(handle) > 2 {
		handle = handle[:2]
	}
	return handle + "***" + vpa[at:]
}
