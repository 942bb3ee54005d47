package model

import (
	"time"

	"propmarket-payments/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusFailed    SubscriptionStatus = "failed"
)

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusPending: {SubscriptionStatusActive, SubscriptionStatusFailed},
	SubscriptionStatusActive:  {SubscriptionStatusExpired, SubscriptionStatusCancelled},
}

// CanTransition reports whether from -> to is an allowed subscription transition.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, s := range subscriptionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Subscription is a purchaser's entitlement to a plan for a period.
type Subscription struct {
	ID           string
	Purchaser    Purchaser
	PlanID       string
	PlanCategory Role
	PaymentID    *string // nil for free plans; 1:1 with a payment otherwise
	Status       SubscriptionStatus
	PeriodStart  time.Time
	PeriodEnd    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPendingSubscription builds a subscription awaiting activation.
func NewPendingSubscription(id string, purchaser Purchaser, plan *Plan, paymentID *string) (*Subscription, error) {
	if id == "" || purchaser.UserID == "" || plan.IsZero() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &Subscription{
		ID:           id,
		Purchaser:    purchaser,
		PlanID:       plan.ID,
		PlanCategory: plan.Category,
		PaymentID:    paymentID,
		Status:       SubscriptionStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Activate moves a pending subscription to active with coverage from start for the plan's duration.
func (s *Subscription) Activate(plan *Plan, start time.Time) error {
	if !CanTransition(s.Status, SubscriptionStatusActive) {
		return domain.ErrInvalidTransition
	}
	s.PeriodStart, s.PeriodEnd = plan.Period(start)
	s.Status = SubscriptionStatusActive
	s.UpdatedAt = time.Now()
	return nil
}

// IsActiveAt reports whether the subscription covers t.
func (s *Subscription) IsActiveAt(t time.Time) bool {
	return s.Status == SubscriptionStatusActive && !t.Before(s.PeriodStart) && t.Before(s.PeriodEnd)
}

// Activation is the outcome of a state machine call.
type Activation struct {
	Subscription *Subscription
	// AlreadyActive is set when a free activation found an existing active subscription.
	AlreadyActive bool
	// AlreadyProcessed is set when a payment had already been activated by an earlier confirmation.
	AlreadyProcessed bool
}
