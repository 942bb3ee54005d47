package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for local development and tests.
type NoopPaymentGateway struct {
	mu     sync.Mutex
	seq    int64
	orders map[string]adapter.GatewayOrder
	// Err, when set, is returned by CreateOrder to simulate an outage.
	Err error
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{
		orders: make(map[string]adapter.GatewayOrder),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) PublicKey() string { return "noop_key" }

func (g *NoopPaymentGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.GatewayOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WithError(err).Mark(domain.ErrGatewayUnavailable)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return nil, domain.WithError(g.Err).Mark(domain.ErrGatewayUnavailable)
	}
	g.seq++
	o := adapter.GatewayOrder{
		ID:       fmt.Sprintf("order_noop%d", g.seq),
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
		Receipt:  req.Receipt,
		Status:   "created",
	}
	g.orders[o.ID] = o
	return &o, nil
}

// Order returns a previously created order.
func (g *NoopPaymentGateway) Order(id string) (adapter.GatewayOrder, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	return o, ok
}

// OrderCount reports how many orders were created.
func (g *NoopPaymentGateway) OrderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}
