package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"go.opentelemetry.io/otel"
)

const maxLockTries = 1000

var (
	// ErrNilLockFn is returned when a nil function is passed to WithLock.
	ErrNilLockFn = errors.New("lock function is nil")
	// ErrEmptyLockKey is returned when an empty lock key is provided.
	ErrEmptyLockKey = errors.New("lock key cannot be empty")
	// ErrLockExpiryInvalid is returned when lock expiry is not positive.
	ErrLockExpiryInvalid = errors.New("lock expiry must be greater than 0")
	// ErrLockTriesInvalid is returned when tries is outside [1, 1000].
	ErrLockTriesInvalid = errors.New("lock tries must be between 1 and 1000")
	// ErrLockRetryDelayNegative is returned when retry delay is negative.
	ErrLockRetryDelayNegative = errors.New("lock retry delay cannot be negative")
)

// LockOptions tunes lock acquisition.
type LockOptions struct {
	// Expiry bounds how long a crashed holder can block the vault.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultLockOptions suits ledger operations, which finish well within
// a second including the custody transfer.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 100 * time.Millisecond,
	}
}

func (o LockOptions) validate() error {
	if o.Expiry <= 0 {
		return ErrLockExpiryInvalid
	}

	if o.Tries < 1 || o.Tries > maxLockTries {
		return ErrLockTriesInvalid
	}

	if o.RetryDelay < 0 {
		return ErrLockRetryDelayNegative
	}

	return nil
}

// LockManager serializes work per key across processes with RedLock.
type LockManager struct {
	redsync *redsync.Redsync
	opts    LockOptions
	logger  log.Logger
}

var _ ledger.Locker = (*LockManager)(nil)

// NewLockManager builds a LockManager over client.
func NewLockManager(client *Client, opts LockOptions) (*LockManager, error) {
	if client == nil || client.rdb == nil {
		return nil, ErrNilClient
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}

	return &LockManager{
		redsync: redsync.New(goredis.NewPool(client.rdb)),
		opts:    opts,
		logger:  client.logger,
	}, nil
}

// WithLock runs fn while holding the lock for key. The lock is released
// when fn returns, including on panic.
func (m *LockManager) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return ErrNilLockFn
	}

	if strings.TrimSpace(key) == "" {
		return ErrEmptyLockKey
	}

	safeKey := safeLockKeyForLogs(key)

	ctx, span := otel.Tracer("github.com/LerianStudio/shared-vault/vault/redis").Start(ctx, "redis.lock.with_lock")
	defer span.End()

	mutex := m.redsync.NewMutex(
		"lock:"+key,
		redsync.WithExpiry(m.opts.Expiry),
		redsync.WithTries(m.opts.Tries),
		redsync.WithRetryDelay(m.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		m.logger.Log(ctx, log.LevelError, "failed to acquire lock", log.String("lock_key", safeKey), log.Err(err))
		opentelemetry.HandleSpanError(&span, "Failed to acquire lock", err)

		return fmt.Errorf("failed to acquire lock %s: %w", safeKey, err)
	}

	defer func() {
		// Detached: a cancelled caller still releases the lock.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()

		if ok, err := mutex.UnlockContext(releaseCtx); !ok || err != nil {
			m.logger.Log(ctx, log.LevelWarn, "failed to release lock",
				log.String("lock_key", safeKey), log.Bool("unlock_ok", ok), log.Err(err))
		}
	}()

	return fn(ctx)
}

func safeLockKeyForLogs(key string) string {
	const maxLockKeyLogLength = 128

	safe := strconv.QuoteToASCII(key)
	if len(safe) <= maxLockKeyLogLength {
		return safe
	}

	return safe[:maxLockKeyLogLength] + "...(truncated)"
}
