package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"propmarket-payments/internal/domain/ports/adapter"
	"propmarket-payments/internal/domain/ports/repository"
	"propmarket-payments/internal/infra/metrics"
)

type RelayConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	Retention        time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval:     time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  5 * time.Minute,
		Retention:        7 * 24 * time.Hour,
	}
}

// Stats are cumulative counters since the relay was created.
type Stats struct {
	Published       uint64
	Failed          uint64
	Dead            uint64
	LastError       string
	LastProcessedAt *time.Time
}

// Relay polls the outbox and hands due messages to the broker.
type Relay struct {
	repo   repository.OutboxRepository
	tm     repository.TransactionManager
	broker adapter.MessageBroker
	cfg    RelayConfig
	logger *zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	stop    chan struct{}
	running bool

	statsMu sync.Mutex
	stats   Stats
}

func NewRelay(repo repository.OutboxRepository, tm repository.TransactionManager, broker adapter.MessageBroker, cfg RelayConfig, logger *zerolog.Logger) *Relay {
	def := DefaultRelayConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = def.RetryBackoffBase
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = def.RetryBackoffMax
	}
	return &Relay{repo: repo, tm: tm, broker: broker, cfg: cfg, logger: logger}
}

// Start runs the polling loop until ctx is done or Stop is called.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)
	r.logger.Info().Dur("poll_interval", r.cfg.PollInterval).Int("batch_size", r.cfg.BatchSize).Msg("outbox relay started")
}

// Stop waits for the in-flight batch to finish.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stop)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info().Msg("outbox relay stopped")
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if _, err := r.ProcessOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("outbox batch failed")
			}
		case <-cleanup.C:
			if r.cfg.Retention > 0 {
				n, err := r.repo.CleanupPublished(ctx, nil, time.Now().Add(-r.cfg.Retention))
				if err != nil {
					r.logger.Warn().Err(err).Msg("outbox cleanup failed")
				} else if n > 0 {
					r.logger.Debug().Int64("deleted", n).Msg("outbox cleanup")
				}
			}
		}
	}
}

// ProcessOnce delivers one batch and returns how many messages were published.
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		msgs, err := r.repo.FetchUnpublished(ctx, tx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		metrics.SetOutboxBatch(len(msgs))

		for _, m := range msgs {
			if err := r.broker.Publish(ctx, m.RoutingKey, m.Payload); err != nil {
				r.logger.Warn().Err(err).Int64("id", m.ID).Str("event_id", m.EventID).Str("routing_key", m.RoutingKey).Msg("outbox publish failed")
				r.recordError(err)
				if r.shouldDeadLetter(m.RetryCount) {
					metrics.IncOutbox("dead")
					r.bump(func(s *Stats) { s.Dead++ })
					if markErr := r.repo.MarkDead(ctx, tx, m.ID, err.Error()); markErr != nil {
						return markErr
					}
					continue
				}
				metrics.IncOutbox("retry")
				r.bump(func(s *Stats) { s.Failed++ })
				next := time.Now().Add(r.retryDelay(m.RetryCount + 1))
				if markErr := r.repo.MarkFailed(ctx, tx, m.ID, err.Error(), next); markErr != nil {
					return markErr
				}
				continue
			}
			if err := r.repo.MarkPublished(ctx, tx, m.ID); err != nil {
				return err
			}
			metrics.IncOutbox("published")
			r.bump(func(s *Stats) { s.Published++ })
			published++
		}
		return nil
	})
	now := time.Now()
	r.bump(func(s *Stats) { s.LastProcessedAt = &now })
	return published, err
}

func (r *Relay) shouldDeadLetter(retryCount int) bool {
	if r.cfg.MaxRetries <= 0 {
		return true
	}
	return retryCount+1 >= r.cfg.MaxRetries
}

// retryDelay returns the exponential delay before attempt n (1-based), capped at RetryBackoffMax.
func (r *Relay) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryBackoffBase
	b.MaxInterval = r.cfg.RetryBackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (r *Relay) recordError(err error) {
	r.bump(func(s *Stats) { s.LastError = err.Error() })
}

func (r *Relay) bump(fn func(*Stats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.statsMu.Unlock()
}

func (r *Relay) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}
