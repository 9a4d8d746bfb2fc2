package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/LerianStudio/shared-vault/vault"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry"
	"github.com/LerianStudio/shared-vault/vault/runtime"
	"github.com/gofiber/fiber/v2"
)

// ErrNoServerConfigured indicates the manager has no HTTP app.
var ErrNoServerConfigured = errors.New("no HTTP server configured")

const defaultShutdownTimeout = 30 * time.Second

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

// Manager owns the HTTP server lifecycle.
type Manager struct {
	app             *fiber.App
	address         string
	telemetry       *opentelemetry.Telemetry
	logger          log.Logger
	hooks           []hook
	shutdownChan    <-chan struct{}
	shutdownTimeout time.Duration
	started         chan struct{}
	startedOnce     sync.Once
	shutdownOnce    sync.Once
	startupErrors   chan error
}

var _ vault.App = (*Manager)(nil)

// NewManager creates a Manager. A nil logger falls back to a no-op logger.
func NewManager(app *fiber.App, address string, telemetry *opentelemetry.Telemetry, logger log.Logger) *Manager {
	return &Manager{
		app:             app,
		address:         address,
		telemetry:       telemetry,
		logger:          log.OrNop(logger),
		shutdownTimeout: defaultShutdownTimeout,
		started:         make(chan struct{}),
		startupErrors:   make(chan error, 1),
	}
}

// WithShutdownChannel replaces OS signals with ch as the shutdown trigger.
func (m *Manager) WithShutdownChannel(ch <-chan struct{}) *Manager {
	m.shutdownChan = ch

	return m
}

// WithShutdownTimeout bounds the whole shutdown sequence.
func (m *Manager) WithShutdownTimeout(d time.Duration) *Manager {
	if d > 0 {
		m.shutdownTimeout = d
	}

	return m
}

// OnShutdown registers fn to run after the HTTP server stopped. Hooks run in
// registration order.
func (m *Manager) OnShutdown(name string, fn func(ctx context.Context) error) *Manager {
	if fn != nil {
		m.hooks = append(m.hooks, hook{name: name, fn: fn})
	}

	return m
}

// Started is closed once the server goroutine was launched. It does not
// mean the socket is bound.
func (m *Manager) Started() <-chan struct{} {
	return m.started
}

// Run implements vault.App.
func (m *Manager) Run(_ *vault.Launcher) error {
	return m.StartWithGracefulShutdownWithError()
}

// StartWithGracefulShutdownWithError starts the server and blocks until a
// shutdown signal or a startup failure, then shuts everything down. The
// startup failure, if any, is returned joined with shutdown errors.
func (m *Manager) StartWithGracefulShutdownWithError() error {
	if m.app == nil {
		return ErrNoServerConfigured
	}

	m.start()

	var startupErr error

	if m.shutdownChan != nil {
		select {
		case <-m.shutdownChan:
		case startupErr = <-m.startupErrors:
		}
	} else {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

		select {
		case <-signals:
		case startupErr = <-m.startupErrors:
		}

		signal.Stop(signals)
	}

	if startupErr != nil {
		m.logger.Log(context.Background(), log.LevelError, "server startup failed", log.Err(startupErr))
	}

	m.logger.Log(context.Background(), log.LevelInfo, "gracefully shutting down")

	return errors.Join(startupErr, m.Shutdown())
}

func (m *Manager) start() {
	runtime.SafeGoWithContext(context.Background(), m.logger, "server", "start_http_server", runtime.KeepRunning,
		func(ctx context.Context) {
			m.logger.Log(ctx, log.LevelInfo, "starting HTTP server", log.String("address", m.address))

			if err := m.app.Listen(m.address); err != nil {
				select {
				case m.startupErrors <- fmt.Errorf("HTTP server: %w", err):
				default:
				}
			}
		})

	m.startedOnce.Do(func() { close(m.started) })
}

// Shutdown stops the HTTP server, then runs hooks, telemetry shutdown and
// logger sync. Only the first call does any work.
func (m *Manager) Shutdown() error {
	var errs []error

	m.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
		defer cancel()

		if m.app != nil {
			if err := m.app.ShutdownWithContext(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http: %w", err))
			}
		}

		for _, h := range m.hooks {
			m.logger.Log(ctx, log.LevelInfo, "running shutdown hook", log.String("hook", h.name))

			if err := h.fn(ctx); err != nil {
				m.logger.Log(ctx, log.LevelError, "shutdown hook failed", log.String("hook", h.name), log.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			}
		}

		if m.telemetry != nil {
			if err := m.telemetry.ShutdownTelemetry(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry: %w", err))
			}
		}

		m.logger.Log(ctx, log.LevelInfo, "graceful shutdown completed")

		// Sync errors on stdout/stderr are expected and not reported.
		_ = m.logger.Sync(ctx)
	})

	return errors.Join(errs...)
}
