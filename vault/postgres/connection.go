package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/bxcodec/dbresolver/v2"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrPrimaryDSNRequired is returned by Connect without a primary DSN.
	ErrPrimaryDSNRequired = errors.New("postgres primary dsn is required")
	// ErrNotConnected is returned when the connection is used before Connect.
	ErrNotConnected = errors.New("postgres is not connected")

	dbOpenFn = sql.Open

	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
)

// Connection holds the primary and replica pools behind a resolver. An
// empty ReplicaDSN reuses the primary.
type Connection struct {
	PrimaryDSN   string
	ReplicaDSN   string
	MaxOpenConns int
	MaxIdleConns int
	Logger       log.Logger

	primary *sql.DB
	db      dbresolver.DB
}

func (c *Connection) initDefaults() {
	c.Logger = log.OrNop(c.Logger)

	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}

	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}

	if c.ReplicaDSN == "" {
		c.ReplicaDSN = c.PrimaryDSN
	}
}

// Connect opens both pools and pings them through the resolver.
func (c *Connection) Connect(ctx context.Context) error {
	if c.PrimaryDSN == "" {
		return ErrPrimaryDSNRequired
	}

	c.initDefaults()

	c.Logger.Log(ctx, log.LevelInfo, "connecting to primary and replica databases")

	primary, err := c.open(c.PrimaryDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to primary database: %s", sanitizeSensitiveError(err))
	}

	replica, err := c.open(c.ReplicaDSN)
	if err != nil {
		_ = primary.Close()

		return fmt.Errorf("failed to connect to replica database: %s", sanitizeSensitiveError(err))
	}

	db := dbresolver.New(
		dbresolver.WithPrimaryDBs(primary),
		dbresolver.WithReplicaDBs(replica),
		dbresolver.WithLoadBalancer(dbresolver.RoundRobinLB),
	)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return fmt.Errorf("failed to ping database: %s", sanitizeSensitiveError(err))
	}

	c.primary = primary
	c.db = db

	c.Logger.Log(ctx, log.LevelInfo, "connected to postgres")

	return nil
}

func (c *Connection) open(dsn string) (*sql.DB, error) {
	db, err := dbOpenFn("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	return db, nil
}

// DB returns the resolver.
func (c *Connection) DB() (dbresolver.DB, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}

	return c.db, nil
}

// Migrate applies the embedded schema migrations on the primary.
func (c *Connection) Migrate(ctx context.Context) error {
	if c.primary == nil {
		return ErrNotConnected
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(c.primary, &migratepg.Config{SchemaName: "public"})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			c.Logger.Log(ctx, log.LevelInfo, "no new migrations found")
			return nil
		}

		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("migration failed: dirty database version %d", dirty.Version)
		}

		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, _ := m.Version()
	c.Logger.Log(ctx, log.LevelInfo, "migrations applied", log.Uint64("version", uint64(version)))

	return nil
}

// Close releases both pools.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	err := c.db.Close()
	c.db = nil
	c.primary = nil

	return err
}

func sanitizeSensitiveError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := connectionStringCredentialsPattern.ReplaceAllString(err.Error(), "://***@")

	return connectionStringPasswordPattern.ReplaceAllString(sanitized, "${1}***")
}
