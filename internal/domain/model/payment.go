package model

import "time"

type PaymentStatus string

const (
	PaymentStatusCreated PaymentStatus = "created" // gateway order exists, awaiting capture
	PaymentStatusPaid    PaymentStatus = "paid"    // captured and subscription activated
	PaymentStatusFailed  PaymentStatus = "failed"  // gateway reported failure
)

// Purchaser identifies who is buying a plan.
type Purchaser struct {
	UserID string
	Role   Role
}

// Payment records one gateway order for a paid plan. Status never moves backward.
type Payment struct {
	ID               string
	Purchaser        Purchaser
	PlanID           string
	GatewayOrderID   string // unique; the gateway's order id
	GatewayPaymentID *string
	Receipt          string
	Amount           int64 // minor units
	Currency         string
	Status           PaymentStatus
	SubscriptionID   *string // set on activation
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
}

func (p *Payment) IsPaid() bool { return p.Status == PaymentStatusPaid }

// PaymentProof is what a confirmation (client or webhook) carries about a capture.
type PaymentProof struct {
	GatewayPaymentID string
	Amount           int64 // 0 when the source does not report it
}
