// File: internal/infra/redis/event_store.go
package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"

	"propmarket-payments/internal/domain/ports/adapter"
	"propmarket-payments/internal/infra/cache"
)

var _ adapter.WebhookEventStore = (*EventStore)(nil)

// keyValue is satisfied by RedisClient and cache.LocalCache.
type keyValue interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}

// EventStore remembers processed webhook event ids for ttl. It is only a fast
// path for replays; the payment status guard in the database stays authoritative.
type EventStore struct {
	kv  keyValue
	ttl time.Duration
}

func NewEventStore(kv keyValue, ttl time.Duration) *EventStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &EventStore{kv: kv, ttl: ttl}
}

func eventKey(id string) string { return "webhook:event:" + id }

func (s *EventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	_, err := s.kv.Get(ctx, eventKey(eventID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil), errors.Is(err, cache.ErrMiss):
		return false, nil
	default:
		return false, err
	}
}

func (s *EventStore) MarkProcessed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	_, err := s.kv.SetNX(ctx, eventKey(eventID), time.Now().UTC().Format(time.RFC3339), s.ttl)
	return err
}
