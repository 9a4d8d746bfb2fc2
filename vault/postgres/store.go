package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/outbox"
	"github.com/bxcodec/dbresolver/v2"
	"github.com/google/uuid"
)

// ErrStaleWrite is returned when a record was changed outside the vault lock.
var ErrStaleWrite = errors.New("postgres: record version is stale")

// DefaultClaimLease is how long a listed event stays invisible to other
// dispatchers before it becomes due again.
const DefaultClaimLease = time.Minute

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.Store and outbox.Repository.
type Store struct {
	db         dbresolver.DB
	logger     log.Logger
	claimLease time.Duration
}

var (
	_ ledger.Store      = (*Store)(nil)
	_ outbox.Repository = (*Store)(nil)
)

// NewStore builds a Store over an open connection.
func NewStore(conn *Connection) (*Store, error) {
	db, err := conn.DB()
	if err != nil {
		return nil, err
	}

	return &Store{db: db, logger: conn.Logger, claimLease: DefaultClaimLease}, nil
}

// Update runs fn in one primary transaction holding the vault's advisory lock.
func (s *Store) Update(ctx context.Context, vault ledger.VaultID, fn func(ctx context.Context, tx ledger.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Log(ctx, log.LevelError, "failed to roll back vault transaction", log.Err(rbErr))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, vault.String()); err != nil {
		return fmt.Errorf("lock vault: %w", err)
	}

	if err = fn(ctx, &storeTx{reader: reader{q: tx, vault: vault}}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// View runs fn against the replica.
func (s *Store) View(ctx context.Context, vault ledger.VaultID, fn func(ctx context.Context, r ledger.Reader) error) error {
	return fn(ctx, reader{q: s.db, vault: vault})
}

type reader struct {
	q     querier
	vault ledger.VaultID
}

const vaultColumns = `id, owner, balance::text, custody_authority, custody_bump, authority_bump, version, created_at, updated_at`

const accountColumns = `vault_id, owner, deposited::text, debt::text, is_whitelisted, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanVault(row scanner) (ledger.VaultAccount, error) {
	var (
		v       ledger.VaultAccount
		balance string
	)

	if err := row.Scan(&v.ID, &v.Owner, &balance, &v.CustodyAuthority, &v.CustodyBump, &v.AuthorityBump,
		&v.Version, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return ledger.VaultAccount{}, err
	}

	var err error

	v.Balance, err = strconv.ParseUint(balance, 10, 64)

	return v, err
}

func scanAccount(row scanner) (ledger.UserAccount, error) {
	var (
		u               ledger.UserAccount
		deposited, debt string
	)

	if err := row.Scan(&u.Vault, &u.Owner, &deposited, &debt, &u.IsWhitelisted, &u.Version, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return ledger.UserAccount{}, err
	}

	var err error

	if u.Deposited, err = strconv.ParseUint(deposited, 10, 64); err != nil {
		return ledger.UserAccount{}, err
	}

	u.Debt, err = strconv.ParseUint(debt, 10, 64)

	return u, err
}

func (r reader) Vault(ctx context.Context) (ledger.VaultAccount, bool, error) {
	v, err := scanVault(r.q.QueryRowContext(ctx, `SELECT `+vaultColumns+` FROM vaults WHERE id = $1`, r.vault.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.VaultAccount{}, false, nil
	}

	if err != nil {
		return ledger.VaultAccount{}, false, fmt.Errorf("load vault: %w", err)
	}

	return v, true, nil
}

func (r reader) User(ctx context.Context, owner ledger.Identity) (ledger.UserAccount, bool, error) {
	u, err := scanAccount(r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM vault_accounts WHERE vault_id = $1 AND owner = $2`, r.vault.String(), owner.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.UserAccount{}, false, nil
	}

	if err != nil {
		return ledger.UserAccount{}, false, fmt.Errorf("load account: %w", err)
	}

	return u, true, nil
}

func (r reader) Users(ctx context.Context) ([]ledger.UserAccount, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM vault_accounts WHERE vault_id = $1 ORDER BY lower(owner)`, r.vault.String())
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var users []ledger.UserAccount

	for rows.Next() {
		u, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}

		users = append(users, u)
	}

	return users, rows.Err()
}

type storeTx struct {
	reader
}

func (tx *storeTx) PutVault(ctx context.Context, v ledger.VaultAccount) error {
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO vaults (id, owner, balance, custody_authority, custody_bump, authority_bump, version, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			balance = EXCLUDED.balance,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE vaults.version < EXCLUDED.version`,
		v.ID.String(), v.Owner.String(), strconv.FormatUint(v.Balance, 10), v.CustodyAuthority.String(),
		int16(v.CustodyBump), int16(v.AuthorityBump), v.Version, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put vault: %w", err)
	}

	return expectOneRow(res)
}

func (tx *storeTx) PutUser(ctx context.Context, u ledger.UserAccount) error {
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO vault_accounts (vault_id, owner, deposited, debt, is_whitelisted, version, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8)
		ON CONFLICT (vault_id, owner) DO UPDATE SET
			deposited = EXCLUDED.deposited,
			debt = EXCLUDED.debt,
			is_whitelisted = EXCLUDED.is_whitelisted,
			version = EXCLUDED.version,
			updated_at = EXCLUDED.updated_at
		WHERE vault_accounts.version < EXCLUDED.version`,
		u.Vault.String(), u.Owner.String(), strconv.FormatUint(u.Deposited, 10), strconv.FormatUint(u.Debt, 10),
		u.IsWhitelisted, u.Version, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}

	return expectOneRow(res)
}

func (tx *storeTx) Enqueue(ctx context.Context, event ledger.Event) error {
	e, err := outbox.FromLedger(event)
	if err != nil {
		return err
	}

	if _, err := tx.q.ExecContext(ctx, `
		INSERT INTO vault_events (id, event_type, aggregate_id, payload, status, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)`,
		e.ID, e.EventType, e.AggregateID, string(e.Payload), string(e.Status), e.NextAttemptAt, e.CreatedAt); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}

	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n != 1 {
		return ErrStaleWrite
	}

	return nil
}

// ListPending claims up to limit due events for the claim lease and returns
// them oldest first.
func (s *Store) ListPending(ctx context.Context, now time.Time, limit int) ([]outbox.Event, error) {
	rows, err := s.primary().QueryContext(ctx, `
		UPDATE vault_events SET next_attempt_at = $2
		WHERE id IN (
			SELECT id FROM vault_events
			WHERE status = 'PENDING' AND next_attempt_at <= $1
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns,
		now, now.Add(s.claimLease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending events: %w", err)
	}

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })

	return events, nil
}

// MarkPublished records a successful delivery.
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := s.primary().ExecContext(ctx,
		`UPDATE vault_events SET status = 'PUBLISHED', published_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}

	return nil
}

// MarkFailed records a failed delivery attempt.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string, nextAttemptAt time.Time, exhausted bool) error {
	status := outbox.StatusPending
	if exhausted {
		status = outbox.StatusFailed
	}

	if _, err := s.primary().ExecContext(ctx, `
		UPDATE vault_events
		SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3, status = $4
		WHERE id = $1`, id, reason, nextAttemptAt, string(status)); err != nil {
		return fmt.Errorf("mark event failed: %w", err)
	}

	return nil
}

// Events returns the events recorded for vault, oldest first.
func (s *Store) Events(ctx context.Context, vault ledger.VaultID) ([]outbox.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM vault_events WHERE aggregate_id = $1 ORDER BY created_at`, vault.String())
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	return scanEvents(rows)
}

const eventColumns = `id, event_type, aggregate_id, payload::text, status, attempts, last_error, next_attempt_at, created_at, published_at`

func scanEvents(rows *sql.Rows) ([]outbox.Event, error) {
	defer rows.Close()

	var events []outbox.Event

	for rows.Next() {
		var (
			e       outbox.Event
			payload string
			status  string
		)

		if err := rows.Scan(&e.ID, &e.EventType, &e.AggregateID, &payload, &status, &e.Attempts, &e.LastError,
			&e.NextAttemptAt, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		e.Payload = []byte(payload)
		e.Status = outbox.Status(status)
		events = append(events, e)
	}

	return events, rows.Err()
}

func (s *Store) primary() querier {
	if dbs := s.db.PrimaryDBs(); len(dbs) > 0 {
		return dbs[0]
	}

	return s.db
}
