//go:build unit

package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/custody"
	"github.com/LerianStudio/shared-vault/vault/derivation"
	"github.com/LerianStudio/shared-vault/vault/identity"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProgram = common.HexToAddress("0x00000000000000000000000000000000005a0175")

type harness struct {
	app     *fiber.App
	binding ledger.Binding
	owner   *ecdsa.PrivateKey
	user    *ecdsa.PrivateKey
}

func newHarness(t *testing.T, gateway ledger.TransferGateway, checks ...DependencyCheck) *harness {
	t.Helper()

	binding, err := derivation.DeriveBinding(testProgram)
	require.NoError(t, err)

	owner, err := crypto.GenerateKey()
	require.NoError(t, err)

	user, err := crypto.GenerateKey()
	require.NoError(t, err)

	if gateway == nil {
		memory := custody.NewMemory()
		require.NoError(t, memory.Fund(identity.Address(owner), 10_000))
		require.NoError(t, memory.Fund(identity.Address(user), 10_000))
		gateway = memory
	}

	engine, err := ledger.NewEngine(ledger.NewMemoryStore(), gateway)
	require.NoError(t, err)

	verifier := identity.NewVerifier(identity.WithReplayGuard(identity.NewMemoryReplayGuard()))

	handler, err := NewHandler(engine, verifier, binding)
	require.NoError(t, err)

	app := NewRouter(handler, RouterConfig{Version: "1.2.3", Checks: checks})

	return &harness{app: app, binding: binding, owner: owner, user: user}
}

func (h *harness) envelope(t *testing.T, operation string, vault ledger.VaultID, payload any, keys ...*ecdsa.PrivateKey) []byte {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	env := identity.Envelope{
		Operation: operation,
		Vault:     vault.String(),
		Payload:   raw,
		Nonce:     uuid.NewString(),
	}

	for _, key := range keys {
		require.NoError(t, identity.Sign(key, &env))
	}

	body, err := json.Marshal(env)
	require.NoError(t, err)

	return body
}

func (h *harness) do(t *testing.T, method, path string, body []byte) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)

	defer func() { assert.NoError(t, resp.Body.Close()) }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}

	return resp.StatusCode, out
}

func (h *harness) amount(t *testing.T, path, operation string, key *ecdsa.PrivateKey, amount string) (int, map[string]any) {
	t.Helper()

	body := h.envelope(t, operation, h.binding.Custody,
		AmountPayload{Caller: identity.Address(key).String(), Amount: amount}, key)

	return h.do(t, http.MethodPost, path, body)
}

func (h *harness) vaultPath(suffix string) string {
	return "/v1/vaults/" + h.binding.Custody.String() + suffix
}

func (h *harness) initialize(t *testing.T, amount string) {
	t.Helper()

	status, body := h.amount(t, "/v1/vaults", constant.OperationInitialize, h.owner, amount)
	require.Equal(t, http.StatusCreated, status, body)
}

func field(body map[string]any, path ...string) any {
	var current any = body

	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}

		current = m[key]
	}

	return current
}

func TestObservedScenarioOverHTTP(t *testing.T) {
	h := newHarness(t, nil)

	status, body := h.amount(t, "/v1/vaults", constant.OperationInitialize, h.owner, "500")
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "500", field(body, "vault", "balance"))
	assert.Equal(t, "500", field(body, "account", "deposited"))
	assert.Equal(t, true, field(body, "account", "isWhitelisted"))
	assert.NotEmpty(t, field(body, "eventId"))

	status, body = h.amount(t, h.vaultPath("/deposits"), constant.OperationDeposit, h.user, "200")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "700", field(body, "vault", "balance"))

	status, body = h.amount(t, h.vaultPath("/withdrawals"), constant.OperationWithdraw, h.user, "100")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "600", field(body, "vault", "balance"))
	assert.Equal(t, "100", field(body, "account", "deposited"))

	status, body = h.amount(t, h.vaultPath("/withdrawals"), constant.OperationWithdraw, h.owner, "501")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "99", field(body, "vault", "balance"))
	assert.Equal(t, "0", field(body, "account", "deposited"))
	assert.Equal(t, "1", field(body, "account", "debt"))

	status, body = h.amount(t, h.vaultPath("/deposits"), constant.OperationDeposit, h.owner, "501")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "600", field(body, "vault", "balance"))
	assert.Equal(t, "500", field(body, "account", "deposited"))
	assert.Equal(t, "0", field(body, "account", "debt"))

	status, body = h.amount(t, h.vaultPath("/withdrawals"), constant.OperationWithdraw, h.user, "200")
	require.Equal(t, http.StatusUnprocessableEntity, status, body)
	assert.Equal(t, constant.ErrCanNotBorrow.Error(), body["code"])

	status, body = h.do(t, http.MethodGet, h.vaultPath("/accounts/"+identity.Address(h.user).String()), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "100", body["deposited"])
	assert.Equal(t, "0", body["debt"])

	status, body = h.do(t, http.MethodGet, h.vaultPath(""), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "600", body["balance"])
	assert.Equal(t, identity.Address(h.owner).String(), body["owner"])

	status, body = h.do(t, http.MethodGet, h.vaultPath("/audit"), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["conserved"])
	assert.Equal(t, "600", body["totalDeposited"])
	assert.Equal(t, "0", body["totalDebt"])
	assert.EqualValues(t, 2, body["accounts"])
}

func TestInitializeTwiceConflicts(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(t, "500")

	status, body := h.amount(t, "/v1/vaults", constant.OperationInitialize, h.user, "10")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, constant.ErrAlreadyInitialized.Error(), body["code"])
	assert.Equal(t, "Vault Already Initialized", body["title"])
}

func TestWhitelistRequiresOwnerAndTargetSignatures(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(t, "500")

	ownerID := identity.Address(h.owner).String()
	userID := identity.Address(h.user).String()
	path := h.vaultPath("/whitelist")

	body := h.envelope(t, constant.OperationWhitelist, h.binding.Custody,
		TargetPayload{Caller: userID, Target: userID}, h.user)
	status, resp := h.do(t, http.MethodPost, path, body)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, constant.ErrNotAuthorized.Error(), resp["code"])

	body = h.envelope(t, constant.OperationWhitelist, h.binding.Custody,
		TargetPayload{Caller: ownerID, Target: userID}, h.owner)
	status, resp = h.do(t, http.MethodPost, path, body)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, constant.ErrNotAuthorized.Error(), resp["code"])

	body = h.envelope(t, constant.OperationWhitelist, h.binding.Custody,
		TargetPayload{Caller: ownerID, Target: userID}, h.owner, h.user)
	status, resp = h.do(t, http.MethodPost, path, body)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, true, field(resp, "account", "isWhitelisted"))

	body = h.envelope(t, constant.OperationBlacklist, h.binding.Custody,
		TargetPayload{Caller: ownerID, Target: userID}, h.owner, h.user)
	status, resp = h.do(t, http.MethodPost, h.vaultPath("/blacklist"), body)
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, false, field(resp, "account", "isWhitelisted"))
}

func TestReplayedEnvelopeIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(t, "500")

	body := h.envelope(t, constant.OperationDeposit, h.binding.Custody,
		AmountPayload{Caller: identity.Address(h.user).String(), Amount: "5"}, h.user)

	status, resp := h.do(t, http.MethodPost, h.vaultPath("/deposits"), body)
	require.Equal(t, http.StatusOK, status, resp)

	status, resp = h.do(t, http.MethodPost, h.vaultPath("/deposits"), body)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, constant.ErrInvalidSignature.Error(), resp["code"])
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, nil)
	h.initialize(t, "500")

	userID := identity.Address(h.user).String()

	tests := []struct {
		name       string
		path       string
		body       []byte
		wantStatus int
		wantCode   error
		wantText   string
	}{
		{
			name:       "malformed vault in path",
			path:       "/v1/vaults/not-a-vault/deposits",
			body:       h.envelope(t, constant.OperationDeposit, h.binding.Custody, AmountPayload{Caller: userID, Amount: "1"}, h.user),
			wantStatus: http.StatusBadRequest,
			wantCode:   constant.ErrInvalidIdentity,
		},
		{
			name:       "operation mismatch",
			path:       h.vaultPath("/deposits"),
			body:       h.envelope(t, constant.OperationWithdraw, h.binding.Custody, AmountPayload{Caller: userID, Amount: "1"}, h.user),
			wantStatus: http.StatusBadRequest,
			wantCode:   constant.ErrInvalidRequest,
			wantText:   "operation",
		},
		{
			name:       "missing caller",
			path:       h.vaultPath("/deposits"),
			body:       h.envelope(t, constant.OperationDeposit, h.binding.Custody, AmountPayload{Amount: "1"}, h.user),
			wantStatus: http.StatusBadRequest,
			wantCode:   constant.ErrInvalidRequest,
			wantText:   "caller is required",
		},
		{
			name:       "non numeric amount",
			path:       h.vaultPath("/deposits"),
			body:       h.envelope(t, constant.OperationDeposit, h.binding.Custody, AmountPayload{Caller: userID, Amount: "abc"}, h.user),
			wantStatus: http.StatusBadRequest,
			wantCode:   constant.ErrInvalidAmount,
		},
		{
			name:       "zero amount",
			path:       h.vaultPath("/deposits"),
			body:       h.envelope(t, constant.OperationDeposit, h.binding.Custody, AmountPayload{Caller: userID, Amount: "0"}, h.user),
			wantStatus: http.StatusBadRequest,
			wantCode:   constant.ErrInvalidAmount,
		},
		{
			name:       "amount beyond 64 bits",
			path:       h.vaultPath("/deposits"),
			body:       h.envelope(t, constant.OperationDeposit, h.binding.Custody, AmountPayload{Caller: userID, Amount: "18446744073709551616"}, h.user),
			wantStatus: http.StatusBadRequest,
			wantCode:   constant.ErrArithmeticOverflow,
		},
		{
			name:       "unsigned envelope",
			path:       h.vaultPath("/deposits"),
			body:       h.envelope(t, constant.OperationDeposit, h.binding.Custody, AmountPayload{Caller: userID, Amount: "1"}),
			wantStatus: http.StatusForbidden,
			wantCode:   constant.ErrInvalidSignature,
		},
		{
			name:       "body is not an envelope",
			path:       h.vaultPath("/deposits"),
			body:       []byte("{"),
			wantStatus: http.StatusBadRequest,
			wantCode:   constant.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := h.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, status, resp)
			assert.Equal(t, tt.wantCode.Error(), resp["code"])

			if tt.wantText != "" {
				assert.Contains(t, resp["message"], tt.wantText)
			}
		})
	}
}

func TestReadsOfUnknownRecords(t *testing.T) {
	h := newHarness(t, nil)

	status, resp := h.do(t, http.MethodGet, h.vaultPath(""), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, constant.ErrVaultNotFound.Error(), resp["code"])
	assert.Contains(t, resp["message"], h.binding.Custody.String())

	h.initialize(t, "500")

	status, resp = h.do(t, http.MethodGet, h.vaultPath("/accounts/"+identity.Address(h.user).String()), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, constant.ErrAccountNotFound.Error(), resp["code"])

	status, resp = h.do(t, http.MethodGet, h.vaultPath("/accounts/nobody"), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, constant.ErrInvalidIdentity.Error(), resp["code"])
}

type unavailableGateway struct{}

func (unavailableGateway) MoveIn(context.Context, ledger.Binding, ledger.Identity, uint64) error {
	return constant.ErrGatewayUnavailable
}

func (unavailableGateway) MoveOut(context.Context, ledger.Binding, ledger.Identity, uint64, ledger.Identity) error {
	return constant.ErrGatewayUnavailable
}

func TestGatewayOutageMapsToServiceUnavailable(t *testing.T) {
	h := newHarness(t, unavailableGateway{})

	status, resp := h.amount(t, "/v1/vaults", constant.OperationInitialize, h.owner, "500")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, constant.ErrGatewayUnavailable.Error(), resp["code"])

	status, _ = h.do(t, http.MethodGet, h.vaultPath(""), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthAndVersion(t *testing.T) {
	healthy := newHarness(t, nil, DependencyCheck{
		Name:  "custody",
		State: func() string { return "closed" },
	})

	status, resp := healthy.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "available", resp["status"])
	assert.Equal(t, "closed", field(resp, "dependencies", "custody", "state"))

	status, resp = healthy.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1.2.3", resp["version"])

	degraded := newHarness(t, nil, DependencyCheck{
		Name:  "postgres",
		Check: func(context.Context) error { return errors.New("connection refused") },
	})

	status, resp = degraded.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "degraded", resp["status"])
	assert.Equal(t, "connection refused", field(resp, "dependencies", "postgres", "error"))
}

func TestHealthSurvivesPanickingCheck(t *testing.T) {
	h := newHarness(t, nil,
		DependencyCheck{Name: "redis", Check: func(context.Context) error { panic("nil client") }},
		DependencyCheck{Name: "custody", Check: func(context.Context) error { return nil }},
	)

	status, resp := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, false, field(resp, "dependencies", "redis", "healthy"))
	assert.Equal(t, "check panicked", field(resp, "dependencies", "redis", "error"))
	assert.Equal(t, true, field(resp, "dependencies", "custody", "healthy"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	req.Header.Set(constant.HeaderID, "req-42")

	resp, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { assert.NoError(t, resp.Body.Close()) }()

	assert.Equal(t, "req-42", resp.Header.Get(constant.HeaderID))

	req = httptest.NewRequest(http.MethodGet, "/version", nil)

	resp2, err := h.app.Test(req, -1)
	require.NoError(t, err)
	defer func() { assert.NoError(t, resp2.Body.Close()) }()

	_, err = uuid.Parse(resp2.Header.Get(constant.HeaderID))
	assert.NoError(t, err)
}

func TestNewHandlerValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, identity.NewVerifier(), ledger.Binding{})
	assert.ErrorIs(t, err, ErrEngineRequired)

	engine, err := ledger.NewEngine(ledger.NewMemoryStore(), custody.NewMemory())
	require.NoError(t, err)

	_, err = NewHandler(engine, nil, ledger.Binding{})
	assert.ErrorIs(t, err, ErrVerifierRequired)
}

func TestWithErrorHidesUnknownErrors(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		return WithError(c, "Vault", errors.New("dial tcp 10.0.0.1:5432: secret detail"))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	defer func() { assert.NoError(t, resp.Body.Close()) }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, string(raw), "secret detail")
}

func TestRateLimitThrottlesMutationsOnly(t *testing.T) {
	assert.Nil(t, WithRateLimit(RateLimit{}))

	app := fiber.New()
	app.Use(WithRateLimit(RateLimit{Max: 2, Window: time.Minute}))
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	send := func(method string) (int, string) {
		resp, err := app.Test(httptest.NewRequest(method, "/", nil), -1)
		require.NoError(t, err)
		defer func() { assert.NoError(t, resp.Body.Close()) }()

		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		return resp.StatusCode, string(raw)
	}

	for i := 0; i < 2; i++ {
		status, _ := send(http.MethodPost)
		assert.Equal(t, http.StatusNoContent, status)
	}

	status, body := send(http.MethodPost)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Contains(t, body, constant.ErrRateLimited.Error())

	for i := 0; i < 5; i++ {
		status, _ = send(http.MethodGet)
		assert.Equal(t, http.StatusNoContent, status)
	}
}
