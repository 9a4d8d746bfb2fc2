package custody

import (
	"context"
	"fmt"
	"sync"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/ledger"
	"github.com/LerianStudio/shared-vault/vault/safe"
)

var (
	// ErrInsufficientHoldings means the sender's external holdings cannot
	// cover the transfer.
	ErrInsufficientHoldings = fmt.Errorf("%w: insufficient external holdings", constant.ErrTransferFailed)
	// ErrCustodyShortfall means the custody account cannot cover the transfer.
	ErrCustodyShortfall = fmt.Errorf("%w: custody account shortfall", constant.ErrTransferFailed)
	// ErrWrongAuthority means the signing authority does not control the
	// custody account.
	ErrWrongAuthority = fmt.Errorf("%w: authority does not control custody account", constant.ErrTransferFailed)
)

type custodyAccount struct {
	authority ledger.Identity
	balance   uint64
}

// Memory keeps external holdings and custody balances in process memory.
type Memory struct {
	mu       sync.Mutex
	holdings map[ledger.Identity]uint64
	custody  map[ledger.VaultID]*custodyAccount
}

var _ ledger.TransferGateway = (*Memory)(nil)

// NewMemory returns an empty holdings book.
func NewMemory() *Memory {
	return &Memory{
		holdings: make(map[ledger.Identity]uint64),
		custody:  make(map[ledger.VaultID]*custodyAccount),
	}
}

// Fund credits amount to who's external holdings.
func (m *Memory) Fund(who ledger.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := safe.Add(m.holdings[who], amount)
	if err != nil {
		return err
	}

	m.holdings[who] = next

	return nil
}

// Holdings returns who's external holdings.
func (m *Memory) Holdings(who ledger.Identity) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.holdings[who]
}

// CustodyBalance returns the balance held by a custody account.
func (m *Memory) CustodyBalance(id ledger.VaultID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acc := m.custody[id]; acc != nil {
		return acc.balance
	}

	return 0
}

// MoveIn debits from and credits the custody account. The first transfer
// into a custody account registers its authority.
func (m *Memory) MoveIn(ctx context.Context, binding ledger.Binding, from ledger.Identity, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holdings[from] < amount {
		return ErrInsufficientHoldings
	}

	acc := m.custody[binding.Custody]
	if acc == nil {
		acc = &custodyAccount{authority: binding.Authority}
	}

	next, err := safe.Add(acc.balance, amount)
	if err != nil {
		return err
	}

	m.holdings[from] -= amount
	acc.balance = next
	m.custody[binding.Custody] = acc

	return nil
}

// MoveOut debits the custody account and credits to, provided authority
// controls the account.
func (m *Memory) MoveOut(ctx context.Context, binding ledger.Binding, to ledger.Identity, amount uint64, authority ledger.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acc := m.custody[binding.Custody]
	if acc == nil || acc.balance < amount {
		return ErrCustodyShortfall
	}

	if acc.authority != authority {
		return ErrWrongAuthority
	}

	next, err := safe.Add(m.holdings[to], amount)
	if err != nil {
		return err
	}

	acc.balance -= amount
	m.holdings[to] = next

	return nil
}
