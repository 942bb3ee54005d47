package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/adapter"
	"propmarket-payments/internal/domain/ports/repository"
)

var _ adapter.EventPublisher = (*Publisher)(nil)

// identified lets a payload supply its own event id so the outbox row and the
// published body agree.
type identified interface {
	Identity() string
}

// Publisher writes events to the outbox table in the caller's transaction.
// The Relay delivers them after commit.
type Publisher struct {
	repo          repository.OutboxRepository
	aggregateType string
}

func NewPublisher(repo repository.OutboxRepository) *Publisher {
	return &Publisher{repo: repo, aggregateType: "subscription"}
}

func (p *Publisher) Publish(ctx context.Context, tx repository.Tx, name string, aggregateID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	eventID := uuid.NewString()
	if id, ok := payload.(identified); ok && id.Identity() != "" {
		eventID = id.Identity()
	}
	msg := &model.OutboxMessage{
		EventID:       eventID,
		AggregateType: p.aggregateType,
		AggregateID:   aggregateID,
		EventType:     name,
		RoutingKey:    name,
		Payload:       body,
		CreatedAt:     time.Now().UTC(),
	}
	return p.repo.Insert(ctx, tx, msg)
}
