package adapter

import "sanskrit-enrollment/internal/domain/model"

// Authorizer decides who may act on a ledger row.
type Authorizer interface {
	CanRefund(actor model.Actor, t *model.Transaction) bool
	CanViewTransaction(actor model.Actor, t *model.Transaction) bool
}
