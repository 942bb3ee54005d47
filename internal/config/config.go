// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxWebhookBytes int64         `yaml:"max_webhook_bytes"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"` // empty disables redis; plans are cached in-process
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type PaymentConfig struct {
	Provider       string        `yaml:"provider"` // razorpay | noop
	KeyID          string        `yaml:"key_id"`
	KeySecret      string        `yaml:"-"`
	WebhookSecret  string        `yaml:"-"`
	Currency       string        `yaml:"currency"`
	GatewayTimeout time.Duration `yaml:"gateway_timeout"`
	Breaker        BreakerConfig `yaml:"breaker"`
	WebhookDedup   time.Duration `yaml:"webhook_dedup_ttl"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type EventsConfig struct {
	Broker           string        `yaml:"broker"` // rabbitmq | log
	AMQPURL          string        `yaml:"-"`
	Exchange         string        `yaml:"exchange"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	BatchSize        int           `yaml:"batch_size"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	Retention        time.Duration `yaml:"retention"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"-"` // empty disables bearer auth
	Issuer    string `yaml:"issuer"`
}

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Payment  PaymentConfig  `yaml:"payment"`
	Events   EventsConfig   `yaml:"events"`
	Auth     AuthConfig     `yaml:"auth"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, then overlays secrets from the
// environment (and a .env file when present). Secrets never come from YAML.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !(errors.Is(err, os.ErrNotExist) && dev) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()
	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Payment.KeyID, "GATEWAY_KEY_ID")
	setString(&cfg.Payment.KeySecret, "GATEWAY_KEY_SECRET")
	setString(&cfg.Payment.WebhookSecret, "GATEWAY_WEBHOOK_SECRET")
	setString(&cfg.Events.AMQPURL, "AMQP_URL")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.HTTP.MaxWebhookBytes <= 0 {
		cfg.HTTP.MaxWebhookBytes = 1 << 20
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = "razorpay"
	}
	if cfg.Payment.Currency == "" {
		cfg.Payment.Currency = "INR"
	}
	if cfg.Payment.GatewayTimeout <= 0 {
		cfg.Payment.GatewayTimeout = 10 * time.Second
	}
	if cfg.Payment.WebhookDedup <= 0 {
		cfg.Payment.WebhookDedup = 24 * time.Hour
	}
	b := &cfg.Payment.Breaker
	if b.MaxRequests == 0 {
		b.MaxRequests = 1
	}
	if b.Interval <= 0 {
		b.Interval = time.Minute
	}
	if b.Timeout <= 0 {
		b.Timeout = 30 * time.Second
	}
	if b.FailureThreshold == 0 {
		b.FailureThreshold = 5
	}

	if cfg.Events.Broker == "" {
		cfg.Events.Broker = "log"
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "propmarket.events"
	}
	if cfg.Events.PollInterval <= 0 {
		cfg.Events.PollInterval = time.Second
	}
	if cfg.Events.BatchSize <= 0 {
		cfg.Events.BatchSize = 100
	}
	if cfg.Events.MaxRetries <= 0 {
		cfg.Events.MaxRetries = 5
	}
	if cfg.Events.RetryBackoffBase <= 0 {
		cfg.Events.RetryBackoffBase = time.Second
	}
	if cfg.Events.RetryBackoffMax <= 0 {
		cfg.Events.RetryBackoffMax = 5 * time.Minute
	}
	if cfg.Events.Retention <= 0 {
		cfg.Events.Retention = 7 * 24 * time.Hour
	}
}

func (cfg *Config) validate() error {
	if cfg.Database.URL == "" {
		return errors.New("database url is required (DATABASE_URL)")
	}
	switch cfg.Payment.Provider {
	case "razorpay":
		if cfg.Payment.KeyID == "" || cfg.Payment.KeySecret == "" {
			return errors.New("gateway credentials are required (GATEWAY_KEY_ID, GATEWAY_KEY_SECRET)")
		}
	case "noop":
		if !cfg.Runtime.Dev {
			return errors.New("payment.provider=noop is only allowed with --dev")
		}
	default:
		return fmt.Errorf("unknown payment.provider %q", cfg.Payment.Provider)
	}
	if cfg.Payment.WebhookSecret == "" {
		return errors.New("webhook secret is required (GATEWAY_WEBHOOK_SECRET)")
	}
	switch cfg.Events.Broker {
	case "log":
	case "rabbitmq":
		if cfg.Events.AMQPURL == "" {
			return errors.New("events.broker=rabbitmq requires AMQP_URL")
		}
	default:
		return fmt.Errorf("unknown events.broker %q", cfg.Events.Broker)
	}
	return nil
}

// Redacted returns a copy safe to log.
func (cfg Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	cfg.Database.URL = mask(cfg.Database.URL)
	cfg.Redis.Password = mask(cfg.Redis.Password)
	cfg.Payment.KeySecret = mask(cfg.Payment.KeySecret)
	cfg.Payment.WebhookSecret = mask(cfg.Payment.WebhookSecret)
	cfg.Events.AMQPURL = mask(cfg.Events.AMQPURL)
	cfg.Auth.JWTSecret = mask(cfg.Auth.JWTSecret)
	return cfg
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
