//go:build !integration

package payment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propmarket-payments/internal/config"
	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/ports/adapter"
)

type fakeOrders struct {
	calls int32
	fn    func(data map[string]interface{}) (map[string]interface{}, error)
}

func (f *fakeOrders) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(data)
}

func echoOrder(data map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{
		"id":       "order_Abc123",
		"entity":   "order",
		"amount":   float64(data["amount"].(int64)),
		"currency": data["currency"],
		"receipt":  data["receipt"],
		"status":   "created",
	}, nil
}

func testPaymentConfig() config.PaymentConfig {
	return config.PaymentConfig{
		KeyID:          "rzp_test_key",
		KeySecret:      "secret",
		GatewayTimeout: 200 * time.Millisecond,
		Breaker: config.BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          time.Minute,
			FailureThreshold: 2,
		},
	}
}

var req = adapter.OrderRequest{Amount: 49900, Currency: "INR", Receipt: "rcpt_1", Notes: map[string]string{"plan_id": "owner-basic"}}

func TestRazorpayGateway_CreateOrder(t *testing.T) {
	orders := &fakeOrders{fn: func(data map[string]interface{}) (map[string]interface{}, error) {
		assert.Equal(t, int64(49900), data["amount"])
		assert.Equal(t, "INR", data["currency"])
		assert.Equal(t, "rcpt_1", data["receipt"])
		assert.Equal(t, map[string]interface{}{"plan_id": "owner-basic"}, data["notes"])
		return echoOrder(data)
	}}
	g := newRazorpayGateway(testPaymentConfig(), orders, nil)

	order, err := g.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "order_Abc123", order.ID)
	assert.Equal(t, int64(49900), order.Amount)
	assert.Equal(t, "INR", order.Currency)
	assert.Equal(t, "rzp_test_key", g.PublicKey())
}

func TestRazorpayGateway_FailuresMapToUnavailable(t *testing.T) {
	cases := map[string]func(map[string]interface{}) (map[string]interface{}, error){
		"sdk error": func(map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("502 bad gateway")
		},
		"missing id": func(map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"amount": float64(49900), "currency": "INR"}, nil
		},
		"amount mismatch": func(map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"id": "order_x", "amount": float64(100), "currency": "INR"}, nil
		},
		"currency mismatch": func(map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"id": "order_x", "amount": float64(49900), "currency": "USD"}, nil
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			g := newRazorpayGateway(testPaymentConfig(), &fakeOrders{fn: fn}, nil)
			_, err := g.CreateOrder(context.Background(), req)
			assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable), "got %v", err)
		})
	}
}

func TestRazorpayGateway_TimeoutIsBounded(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	orders := &fakeOrders{fn: func(map[string]interface{}) (map[string]interface{}, error) {
		<-block
		return nil, nil
	}}
	g := newRazorpayGateway(testPaymentConfig(), orders, nil)

	start := time.Now()
	_, err := g.CreateOrder(context.Background(), req)
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
	assert.Less(t, time.Since(start), 2*time.Second)
}

// lineWriter hands every log line to the test.
type lineWriter chan string

func (w lineWriter) Write(p []byte) (int, error) {
	w <- string(p)
	return len(p), nil
}

func TestRazorpayGateway_LogsOrderCreatedAfterTimeout(t *testing.T) {
	release := make(chan struct{})
	orders := &fakeOrders{fn: func(data map[string]interface{}) (map[string]interface{}, error) {
		<-release
		return echoOrder(data)
	}}
	lines := make(lineWriter, 4)
	logger := zerolog.New(lines)
	cfg := testPaymentConfig()
	cfg.GatewayTimeout = 20 * time.Millisecond
	g := newRazorpayGateway(cfg, orders, &logger)

	_, err := g.CreateOrder(context.Background(), req)
	require.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
	// drop the failure line logged by CreateOrder
	<-lines

	close(release)
	select {
	case line := <-lines:
		assert.Contains(t, line, `"receipt":"rcpt_1"`)
		assert.Contains(t, line, `"gateway_order_id":"order_Abc123"`)
	case <-time.After(2 * time.Second):
		t.Fatal("late gateway order was not logged")
	}
}

func TestRazorpayGateway_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	orders := &fakeOrders{fn: func(map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("connection reset")
	}}
	g := newRazorpayGateway(testPaymentConfig(), orders, nil)

	for i := 0; i < 2; i++ {
		_, err := g.CreateOrder(context.Background(), req)
		require.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
	}
	_, err := g.CreateOrder(context.Background(), req)
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
	assert.Equal(t, int32(2), atomic.LoadInt32(&orders.calls), "open breaker must short-circuit the SDK")
}

func TestRazorpayGateway_RejectsInvalidRequest(t *testing.T) {
	g := newRazorpayGateway(testPaymentConfig(), &fakeOrders{fn: echoOrder}, nil)
	_, err := g.CreateOrder(context.Background(), adapter.OrderRequest{Amount: 0, Currency: "INR", Receipt: "r"})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestNoopPaymentGateway(t *testing.T) {
	g := NewNoopPaymentGateway()
	o, err := g.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	stored, ok := g.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, int64(49900), stored.Amount)

	g.Err = errors.New("down")
	_, err = g.CreateOrder(context.Background(), req)
	assert.True(t, errors.Is(err, domain.ErrGatewayUnavailable))
}
