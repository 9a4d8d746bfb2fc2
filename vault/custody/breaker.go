package custody

import (
	"context"
	"errors"
	"fmt"
	"time"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/sony/gobreaker"
)

// ErrGatewayUnavailable is returned while the circuit is open.
var ErrGatewayUnavailable = constant.ErrGatewayUnavailable

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// DefaultBreakerConfig suits a remote custody service.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// Breaker guards a TransferGateway with a circuit breaker. Business
// rejections such as insufficient holdings do not count as failures.
type Breaker struct {
	next    ledger.TransferGateway
	breaker *gobreaker.CircuitBreaker
	logger  log.Logger
}

var _ ledger.TransferGateway = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(name string, next ledger.TransferGateway, cfg BreakerConfig, logger log.Logger) *Breaker {
	logger = log.OrNop(logger)

	settings := gobreaker.Settings{
		Name:        "custody-" + name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures ||
				(counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailureRatio)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, constant.ErrTransferFailed) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Log(context.Background(), log.LevelWarn, "custody circuit breaker state changed",
				log.String("breaker", name), log.String("from", from.String()), log.String("to", to.String()))
		},
	}

	return &Breaker{next: next, breaker: gobreaker.NewCircuitBreaker(settings), logger: logger}
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.breaker.State()
}

// MoveIn forwards to the wrapped gateway through the breaker.
func (b *Breaker) MoveIn(ctx context.Context, binding ledger.Binding, from ledger.Identity, amount uint64) error {
	return b.execute(func() error {
		return b.next.MoveIn(ctx, binding, from, amount)
	})
}

// MoveOut forwards to the wrapped gateway through the breaker.
func (b *Breaker) MoveOut(ctx context.Context, binding ledger.Binding, to ledger.Identity, amount uint64, authority ledger.Identity) error {
	return b.execute(func() error {
		return b.next.MoveOut(ctx, binding, to, amount, authority)
	})
}

func (b *Breaker) execute(fn func() error) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	return err
}
