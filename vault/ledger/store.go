package ledger

import "context"

// Reader reads the records of one vault.
type Reader interface {
	Vault(ctx context.Context) (VaultAccount, bool, error)
	User(ctx context.Context, owner Identity) (UserAccount, bool, error)
	Users(ctx context.Context) ([]UserAccount, error)
}

// Tx stages writes for one vault. Staged writes become visible only when the
// enclosing Update returns nil.
type Tx interface {
	Reader
	PutVault(ctx context.Context, vault VaultAccount) error
	PutUser(ctx context.Context, user UserAccount) error
	Enqueue(ctx context.Context, event Event) error
}

// Store persists vaults. Update runs fn in a unit of work scoped to one
// vault and serialized against other Updates of the same vault.
type Store interface {
	Update(ctx context.Context, vault VaultID, fn func(ctx context.Context, tx Tx) error) error
	View(ctx context.Context, vault VaultID, fn func(ctx context.Context, r Reader) error) error
}

// TransferGateway moves value between participants' external holdings and
// a vault's custody account. An error aborts the ledger operation.
type TransferGateway interface {
	MoveIn(ctx context.Context, custody Binding, from Identity, amount uint64) error
	MoveOut(ctx context.Context, custody Binding, to Identity, amount uint64, authority Identity) error
}

// Locker serializes work per key across engine instances.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
