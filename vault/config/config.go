package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/LerianStudio/shared-vault/vault/cron"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/log"
	"gopkg.in/yaml.v3"
)

// Config is the resolved service configuration.
type Config struct {
	Service   Service   `yaml:"service"`
	Telemetry Telemetry `yaml:"telemetry"`
	Postgres  Postgres  `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
	RabbitMQ  RabbitMQ  `yaml:"rabbitmq"`
	Outbox    Outbox    `yaml:"outbox"`
	Custody   Custody   `yaml:"custody"`
	Identity  Identity  `yaml:"identity"`
	Audit     Audit     `yaml:"audit"`
}

// Service holds process level settings.
type Service struct {
	Name            string        `yaml:"name" env:"SERVICE_NAME"`
	Version         string        `yaml:"version" env:"VERSION"`
	Environment     string        `yaml:"environment" env:"ENV_NAME"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL"`
	Address         string        `yaml:"address" env:"SERVER_ADDRESS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	// ProgramID scopes custody address derivation.
	ProgramID string `yaml:"program_id" env:"VAULT_PROGRAM_ID"`

	// RateLimitMax caps mutating requests per client IP within
	// RateLimitWindow. Zero disables the limiter.
	RateLimitMax    int           `yaml:"rate_limit_max" env:"RATE_LIMIT_MAX"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW"`
}

// Telemetry toggles OpenTelemetry providers.
type Telemetry struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLE_TELEMETRY"`
	LibraryName string `yaml:"library_name" env:"OTEL_LIBRARY_NAME"`

	// CollectorEndpoint is the OTLP gRPC collector. Empty exports nothing.
	CollectorEndpoint string `yaml:"collector_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Postgres enables the persistent store when PrimaryDSN is set.
type Postgres struct {
	PrimaryDSN   string `yaml:"primary_dsn" env:"POSTGRES_PRIMARY_DSN"`
	ReplicaDSN   string `yaml:"replica_dsn" env:"POSTGRES_REPLICA_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"POSTGRES_MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"max_idle_conns" env:"POSTGRES_MAX_IDLE_CONNS"`
	Migrate      bool   `yaml:"migrate" env:"POSTGRES_MIGRATE"`
}

// Redis enables the distributed locker and replay guard when Addresses is set.
type Redis struct {
	Addresses      []string      `yaml:"addresses" env:"REDIS_ADDRESSES"`
	MasterName     string        `yaml:"master_name" env:"REDIS_MASTER_NAME"`
	Password       string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB             int           `yaml:"db" env:"REDIS_DB"`
	LockExpiry     time.Duration `yaml:"lock_expiry" env:"REDIS_LOCK_EXPIRY"`
	LockTries      int           `yaml:"lock_tries" env:"REDIS_LOCK_TRIES"`
	LockRetryDelay time.Duration `yaml:"lock_retry_delay" env:"REDIS_LOCK_RETRY_DELAY"`
}

// RabbitMQ enables event publishing when URL is set.
type RabbitMQ struct {
	URL            string        `yaml:"url" env:"RABBITMQ_URL"`
	Exchange       string        `yaml:"exchange" env:"RABBITMQ_EXCHANGE"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout" env:"RABBITMQ_CONFIRM_TIMEOUT"`
}

// Outbox tunes the event dispatcher.
type Outbox struct {
	Interval    time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL"`
	BatchSize   int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE"`
	MaxAttempts int           `yaml:"max_attempts" env:"OUTBOX_MAX_ATTEMPTS"`
	BaseBackoff time.Duration `yaml:"base_backoff" env:"OUTBOX_BASE_BACKOFF"`
	MaxBackoff  time.Duration `yaml:"max_backoff" env:"OUTBOX_MAX_BACKOFF"`
}

// Custody configures the in-memory holdings book and its circuit breaker.
type Custody struct {
	// Holdings seeds external balances, keyed by identity.
	Holdings            map[string]uint64 `yaml:"holdings"`
	BreakerTimeout      time.Duration     `yaml:"breaker_timeout" env:"CUSTODY_BREAKER_TIMEOUT"`
	ConsecutiveFailures uint32            `yaml:"consecutive_failures" env:"CUSTODY_CONSECUTIVE_FAILURES"`
}

// Identity tunes signature envelope checks.
type Identity struct {
	MaxEnvelopeTTL time.Duration `yaml:"max_envelope_ttl" env:"IDENTITY_MAX_ENVELOPE_TTL"`
}

// Audit schedules the periodic conservation audit. An empty Schedule
// disables it.
type Audit struct {
	Schedule string `yaml:"schedule" env:"AUDIT_SCHEDULE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: Service{
			Name:            "shared-vault",
			Version:         "0.0.0",
			Environment:     "development",
			LogLevel:        "info",
			Address:         ":3000",
			ShutdownTimeout: 15 * time.Second,
			ProgramID:       "0x00000000000000000000000000000000005a0175",
			RateLimitMax:    120,
			RateLimitWindow: time.Minute,
		},
		Telemetry: Telemetry{LibraryName: "github.com/LerianStudio/shared-vault"},
		Postgres:  Postgres{MaxOpenConns: 25, MaxIdleConns: 10, Migrate: true},
		Redis: Redis{
			LockExpiry:     10 * time.Second,
			LockTries:      32,
			LockRetryDelay: 100 * time.Millisecond,
		},
		RabbitMQ: RabbitMQ{Exchange: "vault.events", ConfirmTimeout: 5 * time.Second},
		Outbox: Outbox{
			Interval:    2 * time.Second,
			BatchSize:   50,
			MaxAttempts: 10,
			BaseBackoff: time.Second,
			MaxBackoff:  5 * time.Minute,
		},
		Custody:  Custody{BreakerTimeout: 10 * time.Second, ConsecutiveFailures: 5},
		Identity: Identity{MaxEnvelopeTTL: 5 * time.Minute},
		Audit:    Audit{Schedule: "*/5 * * * *"},
	}
}

// Load resolves defaults, then path when it exists, then the environment.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)

		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config file: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := SetConfigFromEnvVars(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Service.Address) == "" {
		errs = append(errs, errors.New("service.address is required"))
	}

	if _, err := log.ParseLevel(c.Service.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("service.log_level: %w", err))
	}

	if _, err := ledger.ParseIdentity(c.Service.ProgramID); err != nil {
		errs = append(errs, fmt.Errorf("service.program_id: %w", err))
	}

	for who := range c.Custody.Holdings {
		if _, err := ledger.ParseIdentity(who); err != nil {
			errs = append(errs, fmt.Errorf("custody.holdings[%s]: %w", who, err))
		}
	}

	if c.Postgres.ReplicaDSN != "" && c.Postgres.PrimaryDSN == "" {
		errs = append(errs, errors.New("postgres.replica_dsn requires postgres.primary_dsn"))
	}

	if c.RabbitMQ.URL != "" && c.Postgres.PrimaryDSN == "" {
		errs = append(errs, errors.New("rabbitmq.url requires postgres.primary_dsn for the outbox"))
	}

	if c.Audit.Schedule != "" {
		if _, err := cron.Parse(c.Audit.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("audit.schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}
