package payment

import (
	"context"
	"fmt"
	"sync"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopGateway)(nil)

// NoopGateway is an in-memory gateway for local runs and tests. Orders stay
// "created" until MarkPaid is called.
type NoopGateway struct {
	mu     sync.Mutex
	seq    int64
	orders map[string]*adapter.GatewayOrder
}

func NewNoopGateway() *NoopGateway {
	return &NoopGateway{orders: make(map[string]*adapter.GatewayOrder)}
}

func (g *NoopGateway) Name() string { return "noop" }

func (g *NoopGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_noop%d", prefix, g.seq)
}

func (g *NoopGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o := &adapter.GatewayOrder{
		ID:       g.next("order"),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
		Notes:    req.Notes,
	}
	g.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (g *NoopGateway) FetchOrder(ctx context.Context, orderID string) (*adapter.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: noop order %s", domain.ErrNotFound, orderID)
	}
	cp := *o
	return &cp, nil
}

// MarkPaid records a captured payment on an order.
func (g *NoopGateway) MarkPaid(orderID, paymentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if o, ok := g.orders[orderID]; ok {
		o.Status = "paid"
		o.PaymentID = paymentID
		o.PaymentStatus = "captured"
	}
}

func (g *NoopGateway) Refund(ctx context.Context, paymentID string, amount int64, notes map[string]string) (*adapter.GatewayRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &adapter.GatewayRefund{ID: g.next("rfnd"), Amount: amount, Status: "processed"}, nil
}
