// Package authz decides which actors may view or refund ledger rows.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"

	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/adapter"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

const (
	objAny = "transaction"
	objOwn = "own_transaction"

	actView   = "view"
	actRefund = "refund"
)

var defaultPolicies = [][]string{
	{string(model.RoleAdmin), objAny, actView},
	{string(model.RoleAdmin), objAny, actRefund},
	{string(model.RoleAdmin), objOwn, actView},
	{string(model.RoleAdmin), objOwn, actRefund},
	{string(model.RoleGuru), objOwn, actView},
	{string(model.RoleGuru), objOwn, actRefund},
	{string(model.RoleLearner), objOwn, actView},
}

var _ adapter.Authorizer = (*Enforcer)(nil)

type Enforcer struct {
	e *casbin.SyncedEnforcer
}

// NewEnforcer builds an in-memory enforcer seeded with the role policies.
func NewEnforcer() (*Enforcer, error) {
	m, err := casbinmodel.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}
	for _, p := range defaultPolicies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("seed policy %v: %w", p, err)
		}
	}
	return &Enforcer{e: e}, nil
}

func (a *Enforcer) CanRefund(actor model.Actor, t *model.Transaction) bool {
	return a.allowed(actor, t, actRefund)
}

func (a *Enforcer) CanViewTransaction(actor model.Actor, t *model.Transaction) bool {
	return a.allowed(actor, t, actView)
}

func (a *Enforcer) allowed(actor model.Actor, t *model.Transaction, act string) bool {
	if t == nil || actor.ID == "" || !actor.Role.Valid() {
		return false
	}
	obj := objAny
	if owns(actor, t) {
		obj = objOwn
	}
	ok, err := a.e.Enforce(string(actor.Role), obj, act)
	return err == nil && ok
}

// owns is true for the buyer and for the instructor paid by the transaction.
func owns(actor model.Actor, t *model.Transaction) bool {
	switch actor.Role {
	case model.RoleLearner:
		return t.UserID == actor.ID
	case model.RoleGuru:
		return t.GuruID == actor.ID || t.UserID == actor.ID
	}
	return true
}
