package ledger

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

type memoryVault struct {
	account VaultAccount
	users   map[Identity]UserAccount
	events  []Event
}

// MemoryStore is an in-process Store. Updates on all vaults are serialized
// by a single mutex.
type MemoryStore struct {
	mu     sync.RWMutex
	vaults map[VaultID]*memoryVault
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vaults: make(map[VaultID]*memoryVault)}
}

// Update runs fn against a staging copy and applies it only if fn succeeds.
func (s *MemoryStore) Update(ctx context.Context, vault VaultID, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{base: s.vaults[vault], users: make(map[Identity]UserAccount)}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	current := s.vaults[vault]
	if current == nil {
		if tx.vault == nil {
			return nil
		}

		current = &memoryVault{users: make(map[Identity]UserAccount)}
		s.vaults[vault] = current
	}

	if tx.vault != nil {
		current.account = *tx.vault
	}

	for id, user := range tx.users {
		current.users[id] = user
	}

	current.events = append(current.events, tx.events...)

	return nil
}

// View runs fn against the committed state.
func (s *MemoryStore) View(ctx context.Context, vault VaultID, fn func(ctx context.Context, r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, &memoryTx{base: s.vaults[vault], users: map[Identity]UserAccount{}})
}

// Events returns the committed ledger events of vault in commit order.
func (s *MemoryStore) Events(vault VaultID) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.vaults[vault]
	if v == nil {
		return nil
	}

	return append([]Event(nil), v.events...)
}

type memoryTx struct {
	base   *memoryVault
	vault  *VaultAccount
	users  map[Identity]UserAccount
	events []Event
}

func (tx *memoryTx) Vault(_ context.Context) (VaultAccount, bool, error) {
	if tx.vault != nil {
		return *tx.vault, true, nil
	}

	if tx.base == nil {
		return VaultAccount{}, false, nil
	}

	return tx.base.account, true, nil
}

func (tx *memoryTx) User(_ context.Context, owner Identity) (UserAccount, bool, error) {
	if user, ok := tx.users[owner]; ok {
		return user, true, nil
	}

	if tx.base == nil {
		return UserAccount{}, false, nil
	}

	user, ok := tx.base.users[owner]

	return user, ok, nil
}

func (tx *memoryTx) Users(_ context.Context) ([]UserAccount, error) {
	merged := make(map[Identity]UserAccount)

	if tx.base != nil {
		for id, user := range tx.base.users {
			merged[id] = user
		}
	}

	for id, user := range tx.users {
		merged[id] = user
	}

	users := make([]UserAccount, 0, len(merged))
	for _, user := range merged {
		users = append(users, user)
	}

	// Checksum casing is mixed, so order by address bytes.
	sort.Slice(users, func(i, j int) bool {
		return bytes.Compare(users[i].Owner.Address().Bytes(), users[j].Owner.Address().Bytes()) < 0
	})

	return users, nil
}

func (tx *memoryTx) PutVault(_ context.Context, vault VaultAccount) error {
	tx.vault = &vault
	return nil
}

func (tx *memoryTx) PutUser(_ context.Context, user UserAccount) error {
	tx.users[user.Owner] = user
	return nil
}

func (tx *memoryTx) Enqueue(_ context.Context, event Event) error {
	tx.events = append(tx.events, event)
	return nil
}
