package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNilClient is returned when a nil client is used.
	ErrNilClient = errors.New("redis client is nil")
	// ErrNoAddresses is returned when Config has no addresses.
	ErrNoAddresses = errors.New("redis: at least one address is required")
)

// Config describes how to reach Redis. A MasterName selects sentinel mode;
// more than one address without it selects cluster mode.
type Config struct {
	Addresses    []string
	MasterName   string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	Logger       log.Logger
}

// Client owns the underlying redis.UniversalClient.
type Client struct {
	rdb    redis.UniversalClient
	logger log.Logger
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Client, error) {
	addrs := make([]string, 0, len(cfg.Addresses))

	for _, addr := range cfg.Addresses {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}

	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   cfg.MasterName,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()

		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger := log.OrNop(cfg.Logger)
	logger.Log(ctx, log.LevelInfo, "connected to redis", log.Int("addresses", len(addrs)))

	return &Client{rdb: rdb, logger: logger}, nil
}

// Wrap adopts an existing client.
func Wrap(rdb redis.UniversalClient, logger log.Logger) (*Client, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}

	return &Client{rdb: rdb, logger: log.OrNop(logger)}, nil
}

// Raw returns the underlying client.
func (c *Client) Raw() redis.UniversalClient {
	return c.rdb
}

// Close closes the connection pool.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}

	return c.rdb.Close()
}
