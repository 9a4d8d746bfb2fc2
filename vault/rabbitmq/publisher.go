package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry"
	"github.com/LerianStudio/shared-vault/vault/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultConfirmTimeout bounds the wait for a broker confirm.
const DefaultConfirmTimeout = 5 * time.Second

var (
	// ErrChannelRequired is returned by NewPublisher without a channel.
	ErrChannelRequired = errors.New("rabbitmq channel is required")
	// ErrExchangeRequired is returned by NewPublisher without an exchange.
	ErrExchangeRequired = errors.New("rabbitmq exchange is required")
	// ErrPublishNacked is returned when the broker rejects a message.
	ErrPublishNacked = errors.New("message was nacked by the broker")
	// ErrConfirmTimeout is returned when no confirm arrives in time.
	ErrConfirmTimeout = errors.New("timed out waiting for broker confirm")
	// ErrPublisherClosed is returned after Close or when the channel closed.
	ErrPublisherClosed = errors.New("publisher is closed")
)

// Channel is the part of *amqp.Channel the publisher needs.
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(p *Publisher) { p.logger = log.OrNop(logger) }
}

// WithConfirmTimeout overrides DefaultConfirmTimeout.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(p *Publisher) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// Publisher sends outbox events to a topic exchange, routed by event type.
// Publishes are serialized so each confirm matches the message just sent.
type Publisher struct {
	mu       sync.Mutex
	ch       Channel
	confirms chan amqp.Confirmation
	exchange string
	timeout  time.Duration
	logger   log.Logger
	closed   bool
}

var _ outbox.Publisher = (*Publisher)(nil)

// NewPublisher declares the durable topic exchange and puts ch in confirm mode.
func NewPublisher(ch Channel, exchange string, opts ...Option) (*Publisher, error) {
	if ch == nil {
		return nil, ErrChannelRequired
	}

	if exchange == "" {
		return nil, ErrExchangeRequired
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	p := &Publisher{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		exchange: exchange,
		timeout:  DefaultConfirmTimeout,
		logger:   log.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

// Publish sends event and waits for the broker confirm.
func (p *Publisher) Publish(ctx context.Context, event outbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	headers := amqp.Table{"aggregate_id": event.AggregateID}
	for k, v := range opentelemetry.InjectQueueTraceContext(ctx) {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Type:         event.EventType,
		Timestamp:    event.CreatedAt,
		AppId:        "shared-vault",
		Headers:      headers,
		Body:         event.Payload,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, event.EventType, true, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			p.closed = true
			return ErrPublisherClosed
		}

		if !confirm.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirm.DeliveryTag)
		}

		return nil
	case <-timer.C:
		// A late confirm would be matched to the next message.
		p.invalidate()
		return ErrConfirmTimeout
	case <-ctx.Done():
		p.invalidate()
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

func (p *Publisher) invalidate() {
	p.closed = true

	if err := p.ch.Close(); err != nil {
		p.logger.Log(context.Background(), log.LevelWarn, "failed to close rabbitmq channel", log.Err(err))
	}
}

// Close closes the channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	return p.ch.Close()
}
