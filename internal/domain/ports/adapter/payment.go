package adapter

import (
	"context"
)

// OrderRequest is what we ask the gateway to create. Amount is in minor units.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the validated gateway response.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

// PaymentGateway is the hex port for the payment provider.
type PaymentGateway interface {
	Name() string
	// PublicKey is the key id the client needs to open checkout. Never the secret.
	PublicKey() string
	// CreateOrder registers an order with the provider.
	CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error)
}
