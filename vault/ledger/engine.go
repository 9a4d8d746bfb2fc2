package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/shared-vault/vault/assert"
	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/LerianStudio/shared-vault/vault/ledger"

var (
	// ErrNilStore is returned by NewEngine when store is nil.
	ErrNilStore = errors.New("ledger store is nil")
	// ErrNilGateway is returned by NewEngine when gateway is nil.
	ErrNilGateway = errors.New("transfer gateway is nil")
)

// Engine runs the five ledger operations.
type Engine struct {
	store   Store
	gateway TransferGateway
	locker  Locker
	logger  log.Logger
	metrics *metrics.MetricsFactory
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker replaces the in-process locker, e.g. with a distributed one.
func WithLocker(locker Locker) Option {
	return func(e *Engine) {
		if locker != nil {
			e.locker = locker
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = log.OrNop(logger)
	}
}

// WithMetrics sets the metrics factory.
func WithMetrics(factory *metrics.MetricsFactory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.metrics = factory
		}
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithClock overrides the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine builds an Engine over store and gateway.
func NewEngine(store Store, gateway TransferGateway, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrNilStore
	}

	if gateway == nil {
		return nil, ErrNilGateway
	}

	e := &Engine{
		store:   store,
		gateway: gateway,
		locker:  NewLocalLocker(),
		logger:  log.NewNop(),
		metrics: metrics.NewNopFactory(),
		tracer:  otel.Tracer(tracerName),
		now:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Initialize creates the vault for binding, owned by the caller, and moves
// amount from the caller into custody. The caller's account starts with the
// full amount deposited and whitelisted.
func (e *Engine) Initialize(ctx context.Context, cmd Command, binding Binding, amount uint64) (Receipt, error) {
	if cmd.Vault == "" {
		cmd.Vault = binding.Custody
	}

	return e.run(ctx, constant.OperationInitialize, cmd, func(ctx context.Context, tx Tx) (Receipt, compensation, error) {
		if cmd.Vault != binding.Custody {
			return Receipt{}, nil, newError(ErrInvalidIdentity, "vault", "vault does not match the custody binding")
		}

		if binding.Authority == "" {
			return Receipt{}, nil, newError(ErrInvalidIdentity, "binding.authority", "custody authority is required")
		}

		if amount == 0 {
			return Receipt{}, nil, newError(ErrInvalidAmount, "amount", "amount must be greater than zero")
		}

		if _, exists, err := tx.Vault(ctx); err != nil {
			return Receipt{}, nil, err
		} else if exists {
			return Receipt{}, nil, newError(ErrAlreadyInitialized, "vault", "vault is already initialized")
		}

		now := e.now()

		vault := VaultAccount{
			ID:               binding.Custody,
			Owner:            cmd.Caller,
			Balance:          amount,
			CustodyAuthority: binding.Authority,
			CustodyBump:      binding.CustodyBump,
			AuthorityBump:    binding.AuthorityBump,
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}

		owner := newUserAccount(vault.ID, cmd.Caller, now)
		owner.Deposited = amount
		owner.IsWhitelisted = true
		owner.Version = 1

		receipt, err := e.commit(ctx, tx, constant.EventVaultInitialized, cmd.Caller, vault, owner, amount, 0, 0)
		if err != nil {
			return Receipt{}, nil, err
		}

		if err := e.gateway.MoveIn(ctx, binding, cmd.Caller, amount); err != nil {
			return Receipt{}, nil, fmt.Errorf("move into custody: %w", err)
		}

		return receipt, e.refund(binding, cmd.Caller, amount), nil
	})
}

// Deposit moves amount from the caller into custody, repaying the caller's
// debt before increasing their stake.
func (e *Engine) Deposit(ctx context.Context, cmd Command, amount uint64) (Receipt, error) {
	return e.run(ctx, constant.OperationDeposit, cmd, func(ctx context.Context, tx Tx) (Receipt, compensation, error) {
		if amount == 0 {
			return Receipt{}, nil, newError(ErrInvalidAmount, "amount", "amount must be greater than zero")
		}

		vault, err := e.loadVault(ctx, tx)
		if err != nil {
			return Receipt{}, nil, err
		}

		user, exists, err := tx.User(ctx, cmd.Caller)
		if err != nil {
			return Receipt{}, nil, err
		}

		if !exists {
			user = newUserAccount(vault.ID, cmd.Caller, e.now())
		}

		nextVault, nextUser, repaid, err := applyDeposit(vault, user, amount)
		if err != nil {
			return Receipt{}, nil, err
		}

		receipt, err := e.commit(ctx, tx, constant.EventVaultDeposited, cmd.Caller, nextVault, nextUser, amount, repaid, 0)
		if err != nil {
			return Receipt{}, nil, err
		}

		if err := e.gateway.MoveIn(ctx, vault.Binding(), cmd.Caller, amount); err != nil {
			return Receipt{}, nil, fmt.Errorf("move into custody: %w", err)
		}

		return receipt, e.refund(vault.Binding(), cmd.Caller, amount), nil
	})
}

// Withdraw moves amount out of custody to the caller. Whitelisted callers may
// withdraw beyond their stake, incurring debt for the shortfall.
func (e *Engine) Withdraw(ctx context.Context, cmd Command, amount uint64) (Receipt, error) {
	return e.run(ctx, constant.OperationWithdraw, cmd, func(ctx context.Context, tx Tx) (Receipt, compensation, error) {
		if amount == 0 {
			return Receipt{}, nil, newError(ErrInvalidAmount, "amount", "amount must be greater than zero")
		}

		vault, err := e.loadVault(ctx, tx)
		if err != nil {
			return Receipt{}, nil, err
		}

		user, exists, err := tx.User(ctx, cmd.Caller)
		if err != nil {
			return Receipt{}, nil, err
		}

		if !exists {
			return Receipt{}, nil, newError(ErrAccountNotFound, "caller", "caller has no account in this vault")
		}

		nextVault, nextUser, issued, err := applyWithdraw(vault, user, amount)
		if err != nil {
			return Receipt{}, nil, err
		}

		receipt, err := e.commit(ctx, tx, constant.EventVaultWithdrawn, cmd.Caller, nextVault, nextUser, amount, 0, issued)
		if err != nil {
			return Receipt{}, nil, err
		}

		if err := e.gateway.MoveOut(ctx, vault.Binding(), cmd.Caller, amount, vault.CustodyAuthority); err != nil {
			return Receipt{}, nil, fmt.Errorf("move out of custody: %w", err)
		}

		return receipt, e.reclaim(vault.Binding(), cmd.Caller, amount), nil
	})
}

// Whitelist allows target to incur debt. Only the vault owner may call it,
// and both owner and target must sign. The target account is created when
// missing.
func (e *Engine) Whitelist(ctx context.Context, cmd Command, target Identity) (Receipt, error) {
	return e.setWhitelisted(ctx, constant.OperationWhitelist, cmd, target, true)
}

// Blacklist revokes target's permission to incur debt. Existing debt is
// left untouched. The target account must exist.
func (e *Engine) Blacklist(ctx context.Context, cmd Command, target Identity) (Receipt, error) {
	return e.setWhitelisted(ctx, constant.OperationBlacklist, cmd, target, false)
}

func (e *Engine) setWhitelisted(ctx context.Context, operation string, cmd Command, target Identity, whitelisted bool) (Receipt, error) {
	return e.run(ctx, operation, cmd, func(ctx context.Context, tx Tx) (Receipt, compensation, error) {
		if target == "" {
			return Receipt{}, nil, newError(ErrInvalidIdentity, "target", "target identity is required")
		}

		vault, err := e.loadVault(ctx, tx)
		if err != nil {
			return Receipt{}, nil, err
		}

		if err := requireOwner(vault, cmd, target); err != nil {
			return Receipt{}, nil, err
		}

		user, exists, err := tx.User(ctx, target)
		if err != nil {
			return Receipt{}, nil, err
		}

		if !exists {
			if !whitelisted {
				return Receipt{}, nil, newError(ErrAccountNotFound, "target", "target has no account in this vault")
			}

			user = newUserAccount(vault.ID, target, e.now())
		}

		next, changed := applyWhitelistFlag(user, whitelisted)
		if !changed && exists {
			return Receipt{Vault: vault, User: user}, nil, nil
		}

		eventType := constant.EventVaultBlacklisted
		if whitelisted {
			eventType = constant.EventVaultWhitelisted
		}

		next.UpdatedAt = e.now()
		if err := tx.PutUser(ctx, next); err != nil {
			return Receipt{}, nil, err
		}

		event := e.newEvent(eventType, cmd.Caller, vault, next)
		if err := tx.Enqueue(ctx, event); err != nil {
			return Receipt{}, nil, err
		}

		return Receipt{Vault: vault, User: next, Event: &event}, nil, nil
	})
}

// Vault returns the committed vault record.
func (e *Engine) Vault(ctx context.Context, id VaultID) (VaultAccount, error) {
	var vault VaultAccount

	err := e.store.View(ctx, id, func(ctx context.Context, r Reader) error {
		var err error

		vault, err = e.loadVault(ctx, r)

		return err
	})

	return vault, err
}

// Account returns who's committed account in vault id.
func (e *Engine) Account(ctx context.Context, id VaultID, who Identity) (UserAccount, error) {
	var user UserAccount

	err := e.store.View(ctx, id, func(ctx context.Context, r Reader) error {
		if _, err := e.loadVault(ctx, r); err != nil {
			return err
		}

		found, exists, err := r.User(ctx, who)
		if err != nil {
			return err
		}

		if !exists {
			return newError(ErrAccountNotFound, "identity", "identity has no account in this vault")
		}

		user = found

		return nil
	})

	return user, err
}

func (e *Engine) loadVault(ctx context.Context, r Reader) (VaultAccount, error) {
	vault, exists, err := r.Vault(ctx)
	if err != nil {
		return VaultAccount{}, err
	}

	if !exists {
		return VaultAccount{}, newError(ErrVaultNotFound, "vault", "vault is not initialized")
	}

	return vault, nil
}

// commit stamps the new records, checks debt exclusivity on the touched
// account and stages the records with their event.
func (e *Engine) commit(ctx context.Context, tx Tx, eventType string, actor Identity, vault VaultAccount, user UserAccount, amount, repaid, issued uint64) (Receipt, error) {
	asserter := assert.New(e.logger, "ledger", eventType)
	if err := asserter.That(ctx, user.Deposited == 0 || user.Debt == 0,
		"deposited and debt must not both be non-zero",
		"owner", user.Owner, "deposited", user.Deposited, "debt", user.Debt); err != nil {
		return Receipt{}, err
	}

	now := e.now()
	vault.UpdatedAt = now
	user.UpdatedAt = now

	if err := tx.PutVault(ctx, vault); err != nil {
		return Receipt{}, err
	}

	if err := tx.PutUser(ctx, user); err != nil {
		return Receipt{}, err
	}

	event := e.newEvent(eventType, actor, vault, user)
	event.Amount = amount
	event.Repaid = repaid
	event.DebtIssued = issued

	if err := tx.Enqueue(ctx, event); err != nil {
		return Receipt{}, err
	}

	return Receipt{Vault: vault, User: user, Event: &event}, nil
}

func (e *Engine) newEvent(eventType string, actor Identity, vault VaultAccount, user UserAccount) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return Event{
		ID:            id,
		Type:          eventType,
		Vault:         vault.ID,
		Actor:         actor,
		Subject:       user.Owner,
		Balance:       vault.Balance,
		Deposited:     user.Deposited,
		Debt:          user.Debt,
		IsWhitelisted: user.IsWhitelisted,
		OccurredAt:    e.now(),
	}
}

// unitOfWork stages an operation in tx and performs its transfer as the
// last step. The returned compensation reverses that transfer.
type unitOfWork func(ctx context.Context, tx Tx) (Receipt, compensation, error)

// compensation reverses a transfer whose records failed to commit.
type compensation func(ctx context.Context) error

func (e *Engine) refund(binding Binding, to Identity, amount uint64) compensation {
	return func(ctx context.Context) error {
		return e.gateway.MoveOut(ctx, binding, to, amount, binding.Authority)
	}
}

func (e *Engine) reclaim(binding Binding, from Identity, amount uint64) compensation {
	return func(ctx context.Context) error {
		return e.gateway.MoveIn(ctx, binding, from, amount)
	}
}

// run validates the command, then executes fn under the vault lock inside
// one store unit of work, and records telemetry for the outcome.
func (e *Engine) run(ctx context.Context, operation string, cmd Command, fn unitOfWork) (Receipt, error) {
	started := time.Now()

	ctx, span := e.tracer.Start(ctx, "ledger."+operation, trace.WithAttributes(
		attribute.String("vault.id", cmd.Vault.String()),
		attribute.String("vault.caller", cmd.Caller.String()),
	))
	defer span.End()

	logger := e.logger.With(
		log.String("operation", operation),
		log.String("vault", cmd.Vault.String()),
		log.String("caller", cmd.Caller.String()),
	)

	receipt, err := e.execute(ctx, cmd, fn)

	_ = e.metrics.RecordOperationLatency(ctx, operation, time.Since(started).Milliseconds())

	if err != nil {
		code := CodeOf(err)
		if code == "" {
			code = "internal"
		}

		_ = e.metrics.RecordOperationRejected(ctx, operation, code)

		var domainErr DomainError
		if errors.As(err, &domainErr) {
			opentelemetry.HandleSpanBusinessErrorEvent(&span, "ledger.rejected", err)
			logger.Log(ctx, log.LevelWarn, "ledger operation rejected", log.String("code", code), log.Err(err))
		} else {
			opentelemetry.HandleSpanError(&span, "ledger operation failed", err)
			logger.Log(ctx, log.LevelError, "ledger operation failed", log.Err(err))
		}

		return Receipt{}, err
	}

	if receipt.Event != nil {
		_ = e.metrics.RecordOperationProcessed(ctx, operation)
		_ = e.metrics.RecordPoolBalance(ctx, receipt.Vault.ID.String(), receipt.Vault.Balance)
		_ = e.metrics.RecordDebtIssued(ctx, receipt.Vault.ID.String(), receipt.Event.DebtIssued)
	}

	logger.Log(ctx, log.LevelInfo, "ledger operation committed",
		log.Uint64("balance", receipt.Vault.Balance),
		log.Uint64("deposited", receipt.User.Deposited),
		log.Uint64("debt", receipt.User.Debt),
	)

	return receipt, nil
}

func (e *Engine) execute(ctx context.Context, cmd Command, fn unitOfWork) (Receipt, error) {
	if cmd.Vault == "" {
		return Receipt{}, newError(ErrInvalidIdentity, "vault", "vault identity is required")
	}

	if cmd.Caller == "" {
		return Receipt{}, newError(ErrInvalidIdentity, "caller", "caller identity is required")
	}

	if err := requireSigner(cmd); err != nil {
		return Receipt{}, err
	}

	var (
		receipt Receipt
		undo    compensation
	)

	err := e.locker.WithLock(ctx, "vault:"+cmd.Vault.String(), func(ctx context.Context) error {
		err := e.store.Update(ctx, cmd.Vault, func(ctx context.Context, tx Tx) error {
			var err error

			receipt, undo, err = fn(ctx, tx)

			return err
		})
		if err == nil || undo == nil {
			return err
		}

		// The transfer went through but the records did not land.
		if undoErr := undo(context.WithoutCancel(ctx)); undoErr != nil {
			e.logger.Log(ctx, log.LevelError, "transfer compensation failed",
				log.String("vault", cmd.Vault.String()), log.Err(undoErr))

			return errors.Join(err, fmt.Errorf("compensate transfer: %w", undoErr))
		}

		e.logger.Log(ctx, log.LevelWarn, "transfer reversed after failed commit",
			log.String("vault", cmd.Vault.String()), log.Err(err))

		return err
	})
	if err != nil {
		return Receipt{}, err
	}

	return receipt, nil
}
