package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/shared-vault/vault"
	"github.com/LerianStudio/shared-vault/vault/backoff"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/LerianStudio/shared-vault/vault/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config tunes the dispatcher.
type Config struct {
	// Interval between dispatch cycles.
	Interval  time.Duration
	BatchSize int
	// MaxAttempts is the number of deliveries tried before an event is FAILED.
	MaxAttempts int
	// BaseBackoff is multiplied by 2^attempt and jittered.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns the baseline dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Interval:    2 * time.Second,
		BatchSize:   50,
		MaxAttempts: 10,
		BaseBackoff: time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

func (cfg *Config) normalize() {
	defaults := DefaultConfig()

	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}

	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaults.BaseBackoff
	}

	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfig replaces the dispatcher configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) { d.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(d *Dispatcher) { d.logger = log.OrNop(logger) }
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithMetrics sets the metrics factory.
func WithMetrics(factory *metrics.MetricsFactory) Option {
	return func(d *Dispatcher) {
		if factory != nil {
			d.metrics = factory
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Result counts the outcome of one dispatch cycle.
type Result struct {
	Processed int
	Published int
	Failed    int
	Exhausted int
}

// Dispatcher polls the repository and publishes due events.
type Dispatcher struct {
	repo      Repository
	publisher Publisher
	cfg       Config
	logger    log.Logger
	tracer    trace.Tracer
	metrics   *metrics.MetricsFactory
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	cycles  sync.WaitGroup
}

var _ vault.App = (*Dispatcher)(nil)

// NewDispatcher builds a Dispatcher.
func NewDispatcher(repo Repository, publisher Publisher, opts ...Option) (*Dispatcher, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}

	if publisher == nil {
		return nil, ErrPublisherRequired
	}

	d := &Dispatcher{
		repo:      repo,
		publisher: publisher,
		cfg:       DefaultConfig(),
		logger:    log.NewNop(),
		tracer:    otel.Tracer("github.com/LerianStudio/shared-vault/vault/outbox"),
		metrics:   metrics.NewNopFactory(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	d.cfg.normalize()

	return d, nil
}

// Run dispatches until Stop is called.
func (d *Dispatcher) Run(_ *vault.Launcher) error {
	return d.RunContext(context.Background())
}

// RunContext dispatches until Stop is called or ctx is done.
func (d *Dispatcher) RunContext(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		cancel()

		return ErrDispatcherRunning
	}

	d.running = true
	d.cancel = cancel
	d.mu.Unlock()

	defer func() {
		cancel()

		d.mu.Lock()
		d.running = false
		d.cancel = nil
		d.mu.Unlock()
	}()

	d.logger.Log(ctx, log.LevelInfo, "outbox dispatcher started", log.Any("interval", d.cfg.Interval))
	defer d.logger.Log(context.Background(), log.LevelInfo, "outbox dispatcher stopped")

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		d.cycle(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) cycle(ctx context.Context) {
	d.cycles.Add(1)
	defer d.cycles.Done()
	defer runtime.RecoverWithPolicyAndContext(ctx, d.logger, "outbox", "dispatch_cycle", runtime.KeepRunning)

	d.DispatchOnce(ctx)
}

// Stop ends a running dispatch loop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Shutdown stops the loop and waits for the in-flight cycle.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.Stop()

	done := make(chan struct{})

	runtime.SafeGo(d.logger, "outbox.shutdown_wait", runtime.KeepRunning, func() {
		d.cycles.Wait()
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// DispatchOnce publishes one batch of due events. Delivery is at least
// once: an event published whose state update fails is published again.
func (d *Dispatcher) DispatchOnce(ctx context.Context) Result {
	ctx, span := d.tracer.Start(ctx, "outbox.dispatch")
	defer span.End()

	var result Result

	events, err := d.repo.ListPending(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "Failed to list pending events", err)
		d.logger.Log(ctx, log.LevelError, "failed to list pending outbox events", log.Err(err))

		return result
	}

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}

		result.Processed++

		if err := d.publish(ctx, event); err != nil {
			result.Failed++

			if d.fail(ctx, event, err) {
				result.Exhausted++
			}

			continue
		}

		result.Published++

		if err := d.repo.MarkPublished(ctx, event.ID, d.now()); err != nil {
			d.logger.Log(ctx, log.LevelError, "event published but PUBLISHED state not persisted; it will be redelivered",
				log.String("event_id", event.ID.String()), log.Err(err))
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.processed", result.Processed),
		attribute.Int("outbox.published", result.Published),
		attribute.Int("outbox.failed", result.Failed),
	)

	return result
}

func (d *Dispatcher) publish(ctx context.Context, event Event) error {
	if len(event.Payload) == 0 {
		return ErrEmptyPayload
	}

	if err := d.publisher.Publish(ctx, event); err != nil {
		return err
	}

	_ = d.metrics.RecordOutboxPublished(ctx, event.EventType)

	return nil
}

// fail records a failed delivery and reports whether the event is exhausted.
func (d *Dispatcher) fail(ctx context.Context, event Event, cause error) bool {
	attempts := event.Attempts + 1
	exhausted := attempts >= d.cfg.MaxAttempts
	next := d.now().Add(backoff.Capped(d.cfg.BaseBackoff, d.cfg.MaxBackoff, event.Attempts))

	_ = d.metrics.RecordOutboxFailed(ctx, event.EventType)

	level := log.LevelWarn
	if exhausted {
		level = log.LevelError
	}

	d.logger.Log(ctx, level, "failed to publish outbox event",
		log.String("event_id", event.ID.String()),
		log.String("event_type", event.EventType),
		log.Int("attempts", attempts),
		log.Bool("exhausted", exhausted),
		log.Err(cause))

	if err := d.repo.MarkFailed(ctx, event.ID, sanitizeError(cause), next, exhausted); err != nil {
		d.logger.Log(ctx, log.LevelError, "failed to persist outbox failure",
			log.String("event_id", event.ID.String()), log.Err(err))
	}

	return exhausted
}
