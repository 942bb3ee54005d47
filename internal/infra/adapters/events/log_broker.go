package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"propmarket-payments/internal/domain/ports/adapter"
)

var _ adapter.MessageBroker = (*LogBroker)(nil)

// LogBroker writes events to the log instead of a broker. Used in development
// and by tests that want to inspect what was delivered.
type LogBroker struct {
	logger *zerolog.Logger

	mu        sync.Mutex
	delivered []Delivered
	// FailWith, when set, makes Publish fail.
	FailWith error
}

type Delivered struct {
	RoutingKey string
	Payload    []byte
}

func NewLogBroker(logger *zerolog.Logger) *LogBroker {
	return &LogBroker{logger: logger}
}

func (b *LogBroker) Publish(ctx context.Context, routingKey string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailWith != nil {
		return b.FailWith
	}
	b.delivered = append(b.delivered, Delivered{RoutingKey: routingKey, Payload: append([]byte(nil), payload...)})
	b.logger.Info().Str("routing_key", routingKey).RawJSON("payload", payload).Msg("event published")
	return nil
}

// Delivered returns a copy of everything published so far.
func (b *LogBroker) Delivered() []Delivered {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Delivered(nil), b.delivered...)
}

func (b *LogBroker) Close() error { return nil }
