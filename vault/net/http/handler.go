package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LerianStudio/shared-vault/vault"
	"github.com/LerianStudio/shared-vault/vault/assert"
	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/identity"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry"
	"github.com/LerianStudio/shared-vault/vault/safe"
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	entityVault   = "Vault"
	entityAccount = "Account"
)

var (
	// ErrEngineRequired is returned by NewHandler without an engine.
	ErrEngineRequired = errors.New("ledger engine is required")
	// ErrVerifierRequired is returned by NewHandler without a verifier.
	ErrVerifierRequired = errors.New("envelope verifier is required")
)

// Handler serves the ledger operations.
type Handler struct {
	engine   *ledger.Engine
	verifier *identity.Verifier
	binding  ledger.Binding
	decimals int32
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithDecimals sets how many fractional digits amounts are rendered with.
func WithDecimals(decimals int32) HandlerOption {
	return func(h *Handler) {
		if decimals >= 0 {
			h.decimals = decimals
		}
	}
}

// NewHandler builds a Handler. binding is the custody binding that
// initialize requests must target.
func NewHandler(engine *ledger.Engine, verifier *identity.Verifier, binding ledger.Binding, opts ...HandlerOption) (*Handler, error) {
	if engine == nil {
		return nil, ErrEngineRequired
	}

	if verifier == nil {
		return nil, ErrVerifierRequired
	}

	h := &Handler{engine: engine, verifier: verifier, binding: binding}

	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// Register mounts the vault routes on router.
func (h *Handler) Register(router fiber.Router) {
	v1 := router.Group("/v1/vaults")

	v1.Post("/", h.Initialize)
	v1.Get("/:vault", h.GetVault)
	v1.Get("/:vault/accounts/:identity", h.GetAccount)
	v1.Get("/:vault/audit", h.Audit)
	v1.Post("/:vault/deposits", h.Deposit)
	v1.Post("/:vault/withdrawals", h.Withdraw)
	v1.Post("/:vault/whitelist", h.Whitelist)
	v1.Post("/:vault/blacklist", h.Blacklist)
}

// Initialize creates the vault bound to the configured custody account.
func (h *Handler) Initialize(c *fiber.Ctx) error {
	ctx, span, logger := h.start(c, "handler.initialize")
	defer span.End()

	var payload AmountPayload

	cmd, err := h.authenticate(ctx, c, constant.OperationInitialize, h.binding.Custody, &payload)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err, h.binding.Custody)
	}

	amount, err := parseAmount(payload.Amount)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err)
	}

	receipt, err := h.engine.Initialize(ctx, cmd, h.binding, amount)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err, h.binding.Custody)
	}

	logger.Log(ctx, log.LevelInfo, "vault initialized",
		log.String("vault", receipt.Vault.ID.String()), log.String("owner", receipt.Vault.Owner.String()))

	return Created(c, h.receiptResponse(receipt))
}

// Deposit moves value from the caller into the pool.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.amountOperation(c, constant.OperationDeposit, h.engine.Deposit)
}

// Withdraw moves value from the pool to the caller.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.amountOperation(c, constant.OperationWithdraw, h.engine.Withdraw)
}

// Whitelist lets the target incur debt.
func (h *Handler) Whitelist(c *fiber.Ctx) error {
	return h.targetOperation(c, constant.OperationWhitelist, h.engine.Whitelist)
}

// Blacklist stops the target from incurring debt.
func (h *Handler) Blacklist(c *fiber.Ctx) error {
	return h.targetOperation(c, constant.OperationBlacklist, h.engine.Blacklist)
}

// GetVault returns the committed vault record.
func (h *Handler) GetVault(c *fiber.Ctx) error {
	ctx, span, logger := h.start(c, "handler.get_vault")
	defer span.End()

	id, err := ledger.ParseVaultID(c.Params("vault"))
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err)
	}

	found, err := h.engine.Vault(ctx, id)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err, id)
	}

	return OK(c, h.vaultResponse(found))
}

// GetAccount returns one participant's committed account.
func (h *Handler) GetAccount(c *fiber.Ctx) error {
	ctx, span, logger := h.start(c, "handler.get_account")
	defer span.End()

	id, err := ledger.ParseVaultID(c.Params("vault"))
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err)
	}

	who, err := ledger.ParseIdentity(c.Params("identity"))
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityAccount, err)
	}

	found, err := h.engine.Account(ctx, id, who)
	if err != nil {
		subject := any(who)
		if errors.Is(err, constant.ErrVaultNotFound) {
			subject = id
		}

		return h.fail(ctx, c, logger, &span, entityAccount, err, subject)
	}

	return OK(c, h.accountResponse(found))
}

// Audit recomputes the vault invariants. A vault that fails the audit is
// still reported with 200 and conserved=false.
func (h *Handler) Audit(c *fiber.Ctx) error {
	ctx, span, logger := h.start(c, "handler.audit")
	defer span.End()

	id, err := ledger.ParseVaultID(c.Params("vault"))
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err)
	}

	report, err := h.engine.Audit(ctx, id)
	if err != nil && !errors.Is(err, assert.ErrAssertionFailed) {
		return h.fail(ctx, c, logger, &span, entityVault, err, id)
	}

	if err != nil {
		logger.Log(ctx, log.LevelError, "vault audit failed",
			log.String("vault", id.String()), log.Any("violations", report.Violations))
	}

	return OK(c, h.auditResponse(report))
}

type amountFunc func(ctx context.Context, cmd ledger.Command, amount uint64) (ledger.Receipt, error)

func (h *Handler) amountOperation(c *fiber.Ctx, operation string, apply amountFunc) error {
	ctx, span, logger := h.start(c, "handler."+operation)
	defer span.End()

	id, err := ledger.ParseVaultID(c.Params("vault"))
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err)
	}

	var payload AmountPayload

	cmd, err := h.authenticate(ctx, c, operation, id, &payload)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err, id)
	}

	amount, err := parseAmount(payload.Amount)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err)
	}

	receipt, err := apply(ctx, cmd, amount)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err, subjectFor(err, id, cmd.Caller))
	}

	return OK(c, h.receiptResponse(receipt))
}

type targetFunc func(ctx context.Context, cmd ledger.Command, target ledger.Identity) (ledger.Receipt, error)

func (h *Handler) targetOperation(c *fiber.Ctx, operation string, apply targetFunc) error {
	ctx, span, logger := h.start(c, "handler."+operation)
	defer span.End()

	id, err := ledger.ParseVaultID(c.Params("vault"))
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err)
	}

	var payload TargetPayload

	cmd, err := h.authenticate(ctx, c, operation, id, &payload)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err, id)
	}

	target, err := ledger.ParseIdentity(payload.Target)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityAccount, err)
	}

	receipt, err := apply(ctx, cmd, target)
	if err != nil {
		return h.fail(ctx, c, logger, &span, entityVault, err, subjectFor(err, id, target))
	}

	return OK(c, h.receiptResponse(receipt))
}

// authenticate decodes the envelope in the request body, checks that it
// targets operation on vault, decodes and validates its payload into dst and
// recovers the signer set.
func (h *Handler) authenticate(ctx context.Context, c *fiber.Ctx, operation string, id ledger.VaultID, dst any) (ledger.Command, error) {
	var env identity.Envelope
	if err := json.Unmarshal(c.Body(), &env); err != nil {
		return ledger.Command{}, fmt.Errorf("%w: decode envelope: %v", constant.ErrInvalidRequest, err)
	}

	if env.Operation != operation {
		return ledger.Command{}, ValidationError{Field: "operation", Tag: "eq=" + operation}
	}

	target, err := ledger.ParseVaultID(env.Vault)
	if err != nil || target != id {
		return ledger.Command{}, ValidationError{Field: "vault", Tag: "eq=" + id.String()}
	}

	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return ledger.Command{}, fmt.Errorf("%w: decode payload: %v", constant.ErrInvalidRequest, err)
	}

	if err := ValidateStruct(dst); err != nil {
		return ledger.Command{}, err
	}

	signers, err := h.verifier.Verify(ctx, env)
	if err != nil {
		return ledger.Command{}, err
	}

	var callerRaw string

	switch p := dst.(type) {
	case *AmountPayload:
		callerRaw = p.Caller
	case *TargetPayload:
		callerRaw = p.Caller
	}

	caller, err := ledger.ParseIdentity(callerRaw)
	if err != nil {
		return ledger.Command{}, err
	}

	return ledger.Command{Vault: id, Caller: caller, Signers: signers}, nil
}

func (h *Handler) start(c *fiber.Ctx, name string) (context.Context, trace.Span, log.Logger) {
	ctx := c.UserContext()
	logger, tracer, headerID, _ := vault.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attribute.String("app.request.request_id", headerID))

	return ctx, span, logger
}

func (h *Handler) fail(ctx context.Context, c *fiber.Ctx, logger log.Logger, span *trace.Span, entityType string, err error, args ...any) error {
	if statusFor(err) >= fiber.StatusInternalServerError {
		opentelemetry.HandleSpanError(span, "request failed", err)
		logger.Log(ctx, log.LevelError, "request failed",
			log.String("path", c.Path()), log.String("code", ledger.CodeOf(err)), log.Err(err))
	} else {
		opentelemetry.HandleSpanBusinessErrorEvent(span, "request rejected", err)
		logger.Log(ctx, log.LevelWarn, "request rejected",
			log.String("path", c.Path()), log.String("code", ledger.CodeOf(err)), log.Err(err))
	}

	return WithError(c, entityType, err, args...)
}

func subjectFor(err error, id ledger.VaultID, who ledger.Identity) any {
	if errors.Is(err, constant.ErrAccountNotFound) {
		return who
	}

	return id
}

// parseAmount maps text parse failures onto ledger error codes.
func parseAmount(raw string) (uint64, error) {
	amount, err := safe.ParseAmount(raw)

	switch {
	case errors.Is(err, safe.ErrOverflow):
		return 0, ledger.DomainError{Code: constant.ErrArithmeticOverflow, Field: "amount", Message: "amount exceeds 64 bits"}
	case err != nil:
		return 0, ledger.DomainError{Code: constant.ErrInvalidAmount, Field: "amount", Message: "amount must be an integer in base units"}
	}

	return amount, nil
}
