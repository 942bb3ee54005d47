// File: cmd/app/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"propmarket-payments/internal/config"
	"propmarket-payments/internal/domain/ports/adapter"
	"propmarket-payments/internal/infra/adapters/events"
	payAdapters "propmarket-payments/internal/infra/adapters/payment"
	"propmarket-payments/internal/infra/api"
	"propmarket-payments/internal/infra/cache"
	pg "propmarket-payments/internal/infra/db/postgres"
	"propmarket-payments/internal/infra/logging"
	"propmarket-payments/internal/infra/metrics"
	"propmarket-payments/internal/infra/outbox"
	red "propmarket-payments/internal/infra/redis"
	"propmarket-payments/internal/infra/sched"
	"propmarket-payments/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

type kvStore interface {
	pg.KVCache
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}

type app struct {
	cfg    *config.Config
	logger *zerolog.Logger

	pool   *pgxpool.Pool
	kv     kvStore
	ping   func(ctx context.Context) error
	broker adapter.MessageBroker
	relay  *outbox.Relay

	orders *usecase.OrderUseCase
	subs   *usecase.SubscriptionUseCase
	server *api.Server

	closers []func() error
}

func main() {
	var (
		cfgPath string
		devMode bool
	)

	root := &cobra.Command{
		Use:     "propmarket-payments",
		Short:   "Listing plan payments and subscriptions for the property marketplace",
		Version: fmt.Sprintf("%s (%s)", version, commit),
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	root.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode (console logs, noop gateway allowed)")

	load := func() (*config.Config, *zerolog.Logger, error) {
		cfg, err := config.LoadConfig(cfgPath, devMode)
		if err != nil {
			return nil, nil, err
		}
		logger := logging.New(cfg.Log, cfg.Runtime.Dev)
		return cfg, logger, nil
	}

	root.AddCommand(serveCmd(load), relayCmd(load), migrateCmd(load))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type loader func() (*config.Config, *zerolog.Logger, error)

func serveCmd(load loader) *cobra.Command {
	var withRelay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the outbox relay unless --relay=false)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			go reportPoolStats(ctx, a.pool)
			go func() { _ = sched.NewExpiryWorker(time.Hour, a.subs, logger).Run(ctx) }()
			if withRelay {
				a.relay.Start(ctx)
				defer a.relay.Stop()
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
				Handler:           a.server.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("http listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errc <- err
				}
			}()

			select {
			case <-ctx.Done():
				logger.Info().Msg("shutdown requested")
			case err := <-errc:
				logger.Error().Err(err).Msg("http server failed")
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&withRelay, "relay", true, "run the outbox relay in this process")
	return cmd
}

func relayCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Run only the outbox relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			a.relay.Start(ctx)
			<-ctx.Done()
			a.relay.Stop()
			s := a.relay.Stats()
			logger.Info().Uint64("published", s.Published).Uint64("failed", s.Failed).Uint64("dead", s.Dead).Msg("relay finished")
			return nil
		},
	}
}

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pg.Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info().Msg("schema applied")
			return nil
		},
	}
}

// bootstrap wires every dependency from config. Callers must call close.
func bootstrap(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Interface("config", cfg.Redacted()).Msg("starting")

	a := &app{cfg: cfg, logger: logger}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	// ---- Redis or in-process cache ----
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.kv = rc
		a.ping = rc.Ping
		a.closers = append(a.closers, rc.Close)
	} else {
		logger.Warn().Msg("redis.url not set; using in-process cache")
		a.kv = cache.NewLocalCache(cfg.Redis.TTL, 10*time.Minute)
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	planRepo := pg.NewPlanRepoCacheDecorator(pg.NewPostgresPlanRepo(pool), a.kv, cfg.Redis.TTL, logger)
	payRepo := pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	outboxRepo := pg.NewOutboxRepo(pool)

	// ---- Gateway ----
	var gateway adapter.PaymentGateway
	switch cfg.Payment.Provider {
	case "noop":
		logger.Warn().Msg("payment.provider=noop; no real orders will be created")
		gateway = payAdapters.NewNoopPaymentGateway()
	default:
		gateway, err = payAdapters.NewRazorpayGateway(cfg.Payment, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("gateway: %w", err)
		}
	}

	// ---- Events ----
	switch cfg.Events.Broker {
	case "rabbitmq":
		b, err := events.NewRabbitMQBroker(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		a.broker = b
	default:
		a.broker = events.NewLogBroker(logger)
	}
	a.closers = append(a.closers, a.broker.Close)
	a.relay = outbox.NewRelay(outboxRepo, tm, a.broker, outbox.RelayConfig{
		PollInterval:     cfg.Events.PollInterval,
		BatchSize:        cfg.Events.BatchSize,
		MaxRetries:       cfg.Events.MaxRetries,
		RetryBackoffBase: cfg.Events.RetryBackoffBase,
		RetryBackoffMax:  cfg.Events.RetryBackoffMax,
		Retention:        cfg.Events.Retention,
	}, logger)

	// ---- Use cases ----
	if cfg.Payment.KeySecret == "" {
		logger.Warn().Msg("gateway key secret not set; client payment proofs will be rejected")
	}
	a.subs = usecase.NewSubscriptionUseCase(planRepo, payRepo, subRepo, tm, outbox.NewPublisher(outboxRepo), cfg.Payment.KeySecret, logger)
	a.orders = usecase.NewOrderUseCase(planRepo, payRepo, gateway, a.subs, logger)

	// ---- HTTP ----
	a.server = api.NewServer(a.orders, a.subs, api.Options{
		WebhookSecret:   cfg.Payment.WebhookSecret,
		MaxWebhookBytes: cfg.HTTP.MaxWebhookBytes,
		RequestTimeout:  cfg.HTTP.RequestTimeout,
		Auth:            api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		EventStore:      red.NewEventStore(a.kv, cfg.Payment.WebhookDedup),
		Health:          a.health,
	}, logger)

	return a, nil
}

func (a *app) health(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.ping != nil {
		if err := a.ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		metrics.SetDBPoolStats(pg.PoolStats(pool))
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
