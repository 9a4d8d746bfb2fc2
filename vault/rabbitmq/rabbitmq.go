package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/shared-vault/vault/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrURLRequired is returned by Connect without a URL.
var ErrURLRequired = errors.New("rabbitmq url is required")

// Connection owns one AMQP connection.
type Connection struct {
	conn   *amqp.Connection
	logger log.Logger
}

// Connect dials url.
func Connect(ctx context.Context, url string, logger log.Logger) (*Connection, error) {
	if url == "" {
		return nil, ErrURLRequired
	}

	logger = log.OrNop(logger)

	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Properties: amqp.Table{
			"connection_name": "shared-vault",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	logger.Log(ctx, log.LevelInfo, "connected to rabbitmq")

	return &Connection{conn: conn, logger: logger}, nil
}

// Channel opens a new channel.
func (c *Connection) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	return ch, nil
}

// Close closes the connection.
func (c *Connection) Close() error {
	if c == nil || c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	return c.conn.Close()
}
