package adapter

import (
	"context"

	"propmarket-payments/internal/domain/ports/repository"
)

// EventPublisher records a domain event as part of the caller's transaction.
// Delivery to other services happens after commit.
type EventPublisher interface {
	Publish(ctx context.Context, tx repository.Tx, name string, aggregateID string, payload any) error
}

// MessageBroker delivers serialized events to downstream consumers.
type MessageBroker interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// WebhookEventStore remembers gateway event ids that were already processed.
type WebhookEventStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}
