package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/LerianStudio/shared-vault/vault"
	"github.com/LerianStudio/shared-vault/vault/assert"
	"github.com/LerianStudio/shared-vault/vault/config"
	"github.com/LerianStudio/shared-vault/vault/cron"
	"github.com/LerianStudio/shared-vault/vault/custody"
	"github.com/LerianStudio/shared-vault/vault/derivation"
	"github.com/LerianStudio/shared-vault/vault/identity"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/log"
	httpin "github.com/LerianStudio/shared-vault/vault/net/http"
	"github.com/LerianStudio/shared-vault/vault/net/http/ratelimit"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/LerianStudio/shared-vault/vault/outbox"
	"github.com/LerianStudio/shared-vault/vault/postgres"
	"github.com/LerianStudio/shared-vault/vault/rabbitmq"
	"github.com/LerianStudio/shared-vault/vault/redis"
	"github.com/LerianStudio/shared-vault/vault/runtime"
	"github.com/LerianStudio/shared-vault/vault/server"
	vaultzap "github.com/LerianStudio/shared-vault/vault/zap"
	"github.com/gofiber/fiber/v2"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
)

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// service is the wired process.
type service struct {
	launcher *vault.Launcher
	app      *fiber.App
	manager  *server.Manager
	engine   *ledger.Engine
	closers  []closer
}

func newLogger(cfg config.Config) (log.Logger, error) {
	logger, _, err := vaultzap.New(vaultzap.Config{
		Environment:     vaultzap.Environment(cfg.Service.Environment),
		Level:           cfg.Service.LogLevel,
		OTelLibraryName: cfg.Telemetry.LibraryName,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	return logger, nil
}

// bootstrap wires every component selected by cfg. Postgres, Redis and
// RabbitMQ are optional; without them the ledger runs on in-process stores.
func bootstrap(ctx context.Context, cfg config.Config, logger log.Logger) (_ *service, err error) {
	svc := &service{}

	defer func() {
		if err != nil {
			svc.close(context.Background())
		}
	}()

	var telemetry *opentelemetry.Telemetry

	factory := metrics.NewNopFactory()

	if cfg.Telemetry.Enabled {
		telemetry, err = opentelemetry.InitializeTelemetry(&opentelemetry.TelemetryConfig{
			LibraryName:    cfg.Telemetry.LibraryName,
			ServiceName:    cfg.Service.Name,
			ServiceVersion: cfg.Service.Version,
			DeploymentEnv:  cfg.Service.Environment,
			Logger:         logger,

			CollectorExporterEndpoint: cfg.Telemetry.CollectorEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}

		factory = telemetry.MetricsFactory
	}

	tracer := otel.Tracer(cfg.Telemetry.LibraryName)

	runtime.InitPanicMetrics(factory)
	assert.InitAssertionMetrics(factory)

	var checks []httpin.DependencyCheck

	var (
		store   ledger.Store = ledger.NewMemoryStore()
		pgStore *postgres.Store
	)

	if cfg.Postgres.PrimaryDSN != "" {
		conn := &postgres.Connection{
			PrimaryDSN:   cfg.Postgres.PrimaryDSN,
			ReplicaDSN:   cfg.Postgres.ReplicaDSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			Logger:       logger,
		}

		if err = conn.Connect(ctx); err != nil {
			return nil, err
		}

		svc.closers = append(svc.closers, closer{"postgres", func(context.Context) error { return conn.Close() }})

		if cfg.Postgres.Migrate {
			if err = conn.Migrate(ctx); err != nil {
				return nil, err
			}
		}

		if pgStore, err = postgres.NewStore(conn); err != nil {
			return nil, err
		}

		store = pgStore

		checks = append(checks, httpin.DependencyCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				db, err := conn.DB()
				if err != nil {
					return err
				}

				return db.PingContext(ctx)
			},
		})
	}

	var (
		locker ledger.Locker        = ledger.NewLocalLocker()
		guard  identity.ReplayGuard = identity.NewMemoryReplayGuard()

		limitStorage fiber.Storage
	)

	if len(cfg.Redis.Addresses) > 0 {
		client, err := redis.New(ctx, redis.Config{
			Addresses:  cfg.Redis.Addresses,
			MasterName: cfg.Redis.MasterName,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}

		svc.closers = append(svc.closers, closer{"redis", func(context.Context) error { return client.Close() }})

		if locker, err = redis.NewLockManager(client, redis.LockOptions{
			Expiry:     cfg.Redis.LockExpiry,
			Tries:      cfg.Redis.LockTries,
			RetryDelay: cfg.Redis.LockRetryDelay,
		}); err != nil {
			return nil, err
		}

		if guard, err = redis.NewReplayGuard(client, ""); err != nil {
			return nil, err
		}

		limitStorage = ratelimit.NewRedisStorage(client)

		checks = append(checks, httpin.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Raw().Ping(ctx).Err() },
		})
	}

	holdings := custody.NewMemory()

	for raw, amount := range cfg.Custody.Holdings {
		who, err := ledger.ParseIdentity(raw)
		if err != nil {
			return nil, err
		}

		if err := holdings.Fund(who, amount); err != nil {
			return nil, fmt.Errorf("fund %s: %w", who, err)
		}
	}

	breakerCfg := custody.DefaultBreakerConfig()
	breakerCfg.Timeout = cfg.Custody.BreakerTimeout
	breakerCfg.ConsecutiveFailures = cfg.Custody.ConsecutiveFailures

	gateway := custody.NewBreaker("memory", holdings, breakerCfg, logger)

	checks = append(checks, httpin.DependencyCheck{
		Name:  "custody",
		State: func() string { return gateway.State().String() },
		Check: func(context.Context) error {
			if gateway.State() == gobreaker.StateOpen {
				return custody.ErrGatewayUnavailable
			}

			return nil
		},
	})

	svc.engine, err = ledger.NewEngine(store, gateway,
		ledger.WithLocker(locker),
		ledger.WithLogger(logger),
		ledger.WithMetrics(factory),
		ledger.WithTracer(tracer),
	)
	if err != nil {
		return nil, err
	}

	program, err := ledger.ParseIdentity(cfg.Service.ProgramID)
	if err != nil {
		return nil, err
	}

	binding, err := derivation.DeriveBinding(program.Address())
	if err != nil {
		return nil, fmt.Errorf("derive custody binding: %w", err)
	}

	verifier := identity.NewVerifier(
		identity.WithReplayGuard(guard),
		identity.WithMaxTTL(cfg.Identity.MaxEnvelopeTTL),
	)

	handler, err := httpin.NewHandler(svc.engine, verifier, binding)
	if err != nil {
		return nil, err
	}

	svc.app = httpin.NewRouter(handler, httpin.RouterConfig{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: factory,
		Version: cfg.Service.Version,
		Checks:  checks,
		RateLimit: httpin.RateLimit{
			Max:     cfg.Service.RateLimitMax,
			Window:  cfg.Service.RateLimitWindow,
			Storage: limitStorage,
		},
	})

	svc.manager = server.NewManager(svc.app, cfg.Service.Address, telemetry, logger).
		WithShutdownTimeout(cfg.Service.ShutdownTimeout)

	opts := []vault.LauncherOption{
		vault.WithLogger(logger),
		vault.RunApp("http", svc.manager),
	}

	if cfg.RabbitMQ.URL != "" {
		dispatcher, closers, err := newDispatcher(ctx, cfg, pgStore, logger, factory)
		if err != nil {
			return nil, err
		}

		svc.closers = append(closers, svc.closers...)
		svc.manager.OnShutdown("outbox", dispatcher.Shutdown)

		opts = append(opts, vault.RunApp("outbox", dispatcher))
	}

	if cfg.Audit.Schedule != "" {
		auditor, err := newAuditScheduler(cfg.Audit.Schedule, svc.engine, binding.Custody, logger)
		if err != nil {
			return nil, err
		}

		svc.manager.OnShutdown("audit", auditor.Shutdown)

		opts = append(opts, vault.RunApp("audit", auditor))
	}

	for _, c := range svc.closers {
		svc.manager.OnShutdown(c.name, c.fn)
	}

	svc.launcher = vault.NewLauncher(opts...)

	logger.Log(ctx, log.LevelInfo, "vault service wired",
		log.String("vault", binding.Custody.String()),
		log.Bool("postgres", pgStore != nil),
		log.Bool("redis", len(cfg.Redis.Addresses) > 0),
		log.Bool("rabbitmq", cfg.RabbitMQ.URL != ""),
		log.String("audit_schedule", cfg.Audit.Schedule),
	)

	return svc, nil
}

func newDispatcher(ctx context.Context, cfg config.Config, repo *postgres.Store, logger log.Logger, factory *metrics.MetricsFactory) (*outbox.Dispatcher, []closer, error) {
	if repo == nil {
		return nil, nil, errors.New("the outbox requires the postgres store")
	}

	conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQ.URL, logger)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, errors.Join(err, conn.Close())
	}

	publisher, err := rabbitmq.NewPublisher(ch, cfg.RabbitMQ.Exchange,
		rabbitmq.WithLogger(logger),
		rabbitmq.WithConfirmTimeout(cfg.RabbitMQ.ConfirmTimeout),
	)
	if err != nil {
		return nil, nil, errors.Join(err, ch.Close(), conn.Close())
	}

	closers := []closer{{"rabbitmq", func(context.Context) error { return errors.Join(publisher.Close(), conn.Close()) }}}

	dispatcher, err := outbox.NewDispatcher(repo, publisher,
		outbox.WithConfig(outbox.Config{
			Interval:    cfg.Outbox.Interval,
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
			BaseBackoff: cfg.Outbox.BaseBackoff,
			MaxBackoff:  cfg.Outbox.MaxBackoff,
		}),
		outbox.WithLogger(logger),
		outbox.WithTracer(otel.Tracer(cfg.Telemetry.LibraryName)),
		outbox.WithMetrics(factory),
	)
	if err != nil {
		return nil, nil, errors.Join(err, publisher.Close(), conn.Close())
	}

	return dispatcher, closers, nil
}

// newAuditScheduler runs the conservation audit of the custody vault on
// expr. A vault that was never initialized is skipped.
func newAuditScheduler(expr string, engine *ledger.Engine, id ledger.VaultID, logger log.Logger) (*cron.Scheduler, error) {
	schedule, err := cron.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse audit schedule: %w", err)
	}

	return cron.NewScheduler("ledger.audit", schedule, auditJob(engine, id, logger), cron.WithLogger(logger))
}

func auditJob(engine *ledger.Engine, id ledger.VaultID, logger log.Logger) cron.Job {
	return func(ctx context.Context) error {
		report, err := engine.Audit(ctx, id)
		if errors.Is(err, ledger.ErrVaultNotFound) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("audit vault %s: %w", id, err)
		}

		logger.Log(ctx, log.LevelDebug, "vault audit passed",
			log.String("vault", id.String()),
			log.Any("balance", report.Balance),
			log.Int("accounts", report.Accounts),
		)

		return nil
	}
}

func (s *service) close(ctx context.Context) {
	for _, c := range s.closers {
		_ = c.fn(ctx)
	}
}
