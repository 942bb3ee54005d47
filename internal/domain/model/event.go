package model

import "time"

const EventSubscriptionActivated = "subscription.activated"

// SubscriptionActivatedEvent is published exactly once per activation.
type SubscriptionActivatedEvent struct {
	EventID        string         `json:"event_id"`
	SubscriptionID string         `json:"subscription_id"`
	PurchaserID    string         `json:"purchaser_id"`
	PurchaserRole  Role           `json:"purchaser_role"`
	PlanID         string         `json:"plan_id"`
	PlanCategory   Role           `json:"plan_category"`
	PaymentID      *string        `json:"payment_id,omitempty"`
	PeriodStart    time.Time      `json:"period_start"`
	PeriodEnd      time.Time      `json:"period_end"`
	Features       map[string]any `json:"features"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// NewSubscriptionActivatedEvent builds the payload for an activated subscription.
func NewSubscriptionActivatedEvent(eventID string, sub *Subscription, plan *Plan) SubscriptionActivatedEvent {
	return SubscriptionActivatedEvent{
		EventID:        eventID,
		SubscriptionID: sub.ID,
		PurchaserID:    sub.Purchaser.UserID,
		PurchaserRole:  sub.Purchaser.Role,
		PlanID:         plan.ID,
		PlanCategory:   plan.Category,
		PaymentID:      sub.PaymentID,
		PeriodStart:    sub.PeriodStart,
		PeriodEnd:      sub.PeriodEnd,
		Features:       plan.Features,
		OccurredAt:     time.Now().UTC(),
	}
}

// OutboxMessage is a stored event awaiting delivery to the broker.
type OutboxMessage struct {
	ID             int64
	EventID        string
	AggregateType  string
	AggregateID    string
	EventType      string
	RoutingKey     string
	Payload        []byte
	CreatedAt      time.Time
	PublishedAt    *time.Time
	RetryCount     int
	LastError      *string
	NextRetryAt    *time.Time
	DeadLetteredAt *time.Time
}

// Identity lets the outbox reuse the event id as its dedup key.
func (e SubscriptionActivatedEvent) Identity() string { return e.EventID }
