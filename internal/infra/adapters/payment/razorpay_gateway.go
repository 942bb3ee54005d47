// File: internal/infra/adapters/payment/razorpay_gateway.go
package payment

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	razorpay "github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"propmarket-payments/internal/config"
	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/ports/adapter"
	"propmarket-payments/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*RazorpayGateway)(nil)

// orderAPI is the slice of the Razorpay SDK we call.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayGateway creates orders through the Razorpay SDK. Each call is bounded by
// timeout and guarded by a circuit breaker; every failure surfaces as
// domain.ErrGatewayUnavailable.
type RazorpayGateway struct {
	keyID   string
	orders  orderAPI
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[*adapter.GatewayOrder]
	logger  *zerolog.Logger
}

func NewRazorpayGateway(cfg config.PaymentConfig, logger *zerolog.Logger) (*RazorpayGateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("razorpay credentials are empty")
	}
	client := razorpay.NewClient(cfg.KeyID, cfg.KeySecret)
	return newRazorpayGateway(cfg, client.Order, logger), nil
}

func newRazorpayGateway(cfg config.PaymentConfig, orders orderAPI, logger *zerolog.Logger) *RazorpayGateway {
	g := &RazorpayGateway{
		keyID:   cfg.KeyID,
		orders:  orders,
		timeout: cfg.GatewayTimeout,
		logger:  logger,
	}
	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	g.breaker = gobreaker.NewCircuitBreaker[*adapter.GatewayOrder](gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("gateway circuit breaker state changed")
			}
		},
	})
	return g
}

func (g *RazorpayGateway) Name() string { return "razorpay" }

func (g *RazorpayGateway) PublicKey() string { return g.keyID }

func (g *RazorpayGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.GatewayOrder, error) {
	if req.Amount <= 0 || req.Currency == "" || req.Receipt == "" {
		return nil, domain.ErrInvalidArgument
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	order, err := g.breaker.Execute(func() (*adapter.GatewayOrder, error) {
		return g.createOrder(ctx, req)
	})
	if err != nil {
		metrics.ObserveGateway("create_order", "error", time.Since(start))
		if g.logger != nil {
			g.logger.Error().Err(err).Str("receipt", req.Receipt).Int64("amount", req.Amount).Msg("gateway order creation failed")
		}
		return nil, domain.WithError(err).
			WithHint("Payment provider is unavailable, please retry shortly").
			Mark(domain.ErrGatewayUnavailable)
	}
	metrics.ObserveGateway("create_order", "ok", time.Since(start))
	return order, nil
}

type sdkResult struct {
	body map[string]interface{}
	err  error
}

// createOrder runs the blocking SDK call off the caller's goroutine so ctx can cut it short.
func (g *RazorpayGateway) createOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.GatewayOrder, error) {
	data := map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	done := make(chan sdkResult, 1)
	go func() {
		body, err := g.orders.Create(data, nil)
		done <- sdkResult{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		// The SDK call cannot be cancelled and runs until its own HTTP timeout.
		go g.reportLateOrder(done, req.Receipt)
		return nil, errors.Wrap(ctx.Err(), "razorpay order create")
	case res := <-done:
		if res.err != nil {
			return nil, errors.Wrap(res.err, "razorpay order create")
		}
		return parseOrder(res.body, req)
	}
}

// reportLateOrder waits for an abandoned SDK call. An order that succeeds after
// the caller gave up exists at the gateway with no local payment; its receipt
// is logged so it can be reconciled.
func (g *RazorpayGateway) reportLateOrder(done <-chan sdkResult, receipt string) {
	res := <-done
	if res.err != nil {
		return
	}
	id, _ := res.body["id"].(string)
	metrics.ObserveGateway("create_order", "late", 0)
	if g.logger != nil {
		g.logger.Warn().
			Str("receipt", receipt).
			Str("gateway_order_id", id).
			Msg("gateway order created after timeout; no payment recorded")
	}
}

// parseOrder validates the response shape before anything downstream trusts it.
func parseOrder(body map[string]interface{}, req adapter.OrderRequest) (*adapter.GatewayOrder, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return nil, errors.New("razorpay order response missing id")
	}
	amount, ok := toInt64(body["amount"])
	if !ok {
		return nil, errors.Newf("razorpay order %s: unreadable amount", id)
	}
	if amount != req.Amount {
		return nil, errors.Newf("razorpay order %s: amount %d does not match requested %d", id, amount, req.Amount)
	}
	currency, _ := body["currency"].(string)
	if !strings.EqualFold(currency, req.Currency) {
		return nil, errors.Newf("razorpay order %s: currency %q does not match requested %q", id, currency, req.Currency)
	}
	receipt, _ := body["receipt"].(string)
	status, _ := body["status"].(string)
	return &adapter.GatewayOrder{
		ID:       id,
		Amount:   amount,
		Currency: strings.ToUpper(currency),
		Receipt:  receipt,
		Status:   status,
	}, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), n == float64(int64(n))
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
