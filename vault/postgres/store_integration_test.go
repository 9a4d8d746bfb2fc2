//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/shared-vault/vault/custody"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/outbox"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("vault"),
		tcpostgres.WithUsername("vault"),
		tcpostgres.WithPassword("vault"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn := &Connection{PrimaryDSN: dsn}
	require.NoError(t, conn.Connect(ctx))
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.Migrate(ctx))
	require.NoError(t, conn.Migrate(ctx))

	store, err := NewStore(conn)
	require.NoError(t, err)

	return store
}

func TestStoreRunsLedgerScenario(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	owner := ledger.IdentityFromAddress(common.HexToAddress("0xa1"))
	friend := ledger.IdentityFromAddress(common.HexToAddress("0xb2"))
	binding := ledger.Binding{
		Custody:   ledger.VaultID(common.HexToAddress("0xf0").Hex()),
		Authority: ledger.IdentityFromAddress(common.HexToAddress("0xe1")),
	}

	holdings := custody.NewMemory()
	require.NoError(t, holdings.Fund(owner, 1000))
	require.NoError(t, holdings.Fund(friend, 1000))

	engine, err := ledger.NewEngine(store, holdings)
	require.NoError(t, err)

	cmd := func(caller ledger.Identity, signers ...ledger.Identity) ledger.Command {
		return ledger.Command{Vault: binding.Custody, Caller: caller, Signers: ledger.NewSignerSet(append(signers, caller)...)}
	}

	_, err = engine.Initialize(ctx, cmd(owner), binding, 500)
	require.NoError(t, err)

	_, err = engine.Initialize(ctx, cmd(owner), binding, 500)
	assert.ErrorIs(t, err, ledger.ErrAlreadyInitialized)

	_, err = engine.Whitelist(ctx, cmd(owner, friend), friend)
	require.NoError(t, err)

	receipt, err := engine.Withdraw(ctx, cmd(friend), 120)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), receipt.User.Debt)

	receipt, err = engine.Deposit(ctx, cmd(friend), 200)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), receipt.User.Debt)
	assert.Equal(t, uint64(80), receipt.User.Deposited)

	report, err := engine.Audit(ctx, binding.Custody)
	require.NoError(t, err)
	assert.True(t, report.Conserved)
	assert.Equal(t, uint64(580), report.Balance)

	events, err := store.Events(ctx, binding.Custody)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, "vault.initialized", events[0].EventType)
	assert.Equal(t, outbox.StatusPending, events[0].Status)
}

func TestStoreOrdersAccountsByAddress(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	owner := ledger.IdentityFromAddress(common.HexToAddress("0xa1"))
	upper := ledger.IdentityFromAddress(common.HexToAddress("0xc3"))
	lower := ledger.IdentityFromAddress(common.HexToAddress("0xb2"))
	binding := ledger.Binding{
		Custody:   ledger.VaultID(common.HexToAddress("0xf0").Hex()),
		Authority: ledger.IdentityFromAddress(common.HexToAddress("0xe1")),
	}

	holdings := custody.NewMemory()
	for _, who := range []ledger.Identity{owner, upper, lower} {
		require.NoError(t, holdings.Fund(who, 100))
	}

	engine, err := ledger.NewEngine(store, holdings)
	require.NoError(t, err)

	for _, who := range []ledger.Identity{owner, upper, lower} {
		cmd := ledger.Command{Vault: binding.Custody, Caller: who, Signers: ledger.NewSignerSet(who)}
		if who == owner {
			_, err = engine.Initialize(ctx, cmd, binding, 10)
		} else {
			_, err = engine.Deposit(ctx, cmd, 10)
		}

		require.NoError(t, err)
	}

	var owners []ledger.Identity

	require.NoError(t, store.View(ctx, binding.Custody, func(ctx context.Context, r ledger.Reader) error {
		users, err := r.Users(ctx)
		for _, user := range users {
			owners = append(owners, user.Owner)
		}

		return err
	}))

	assert.Equal(t, []ledger.Identity{owner, lower, upper}, owners)
}

func TestStoreSerializesConcurrentDeposits(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	binding := ledger.Binding{
		Custody:   ledger.VaultID(common.HexToAddress("0xf1").Hex()),
		Authority: ledger.IdentityFromAddress(common.HexToAddress("0xe2")),
	}
	owner := ledger.IdentityFromAddress(common.HexToAddress("0xa1"))

	holdings := custody.NewMemory()
	require.NoError(t, holdings.Fund(owner, 10_000))

	// Engines without a shared locker rely on the advisory lock alone.
	first, err := ledger.NewEngine(store, holdings)
	require.NoError(t, err)
	second, err := ledger.NewEngine(store, holdings)
	require.NoError(t, err)

	cmd := ledger.Command{Vault: binding.Custody, Caller: owner, Signers: ledger.NewSignerSet(owner)}

	_, err = first.Initialize(ctx, cmd, binding, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		engine := first
		if i%2 == 1 {
			engine = second
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := engine.Deposit(ctx, cmd, 10)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	vault, err := first.Vault(ctx, binding.Custody)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), vault.Balance)
}

func TestStoreOutboxLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	owner := ledger.IdentityFromAddress(common.HexToAddress("0xa1"))
	binding := ledger.Binding{
		Custody:   ledger.VaultID(common.HexToAddress("0xf2").Hex()),
		Authority: ledger.IdentityFromAddress(common.HexToAddress("0xe3")),
	}

	holdings := custody.NewMemory()
	require.NoError(t, holdings.Fund(owner, 100))

	engine, err := ledger.NewEngine(store, holdings)
	require.NoError(t, err)

	_, err = engine.Initialize(ctx, ledger.Command{Vault: binding.Custody, Caller: owner, Signers: ledger.NewSignerSet(owner)}, binding, 100)
	require.NoError(t, err)

	now := time.Now().UTC().Add(time.Second)

	pending, err := store.ListPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var payload ledger.Event
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	assert.Equal(t, "vault.initialized", payload.Type)
	assert.Equal(t, uint64(100), payload.Balance)

	again, err := store.ListPending(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed events stay invisible for the lease")

	require.NoError(t, store.MarkFailed(ctx, pending[0].ID, "broker down", now, false))

	retry, err := store.ListPending(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.Equal(t, 1, retry[0].Attempts)
	assert.Equal(t, "broker down", retry[0].LastError)

	require.NoError(t, store.MarkPublished(ctx, retry[0].ID, now))

	events, err := store.Events(ctx, binding.Custody)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, outbox.StatusPublished, events[0].Status)
	require.NotNil(t, events[0].PublishedAt)
}
