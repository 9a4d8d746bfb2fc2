package ledger

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Identity is a participant address in EIP-55 checksum form.
type Identity string

// ParseIdentity validates a hex address and returns its checksum form.
func ParseIdentity(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", newError(ErrInvalidIdentity, "identity", "identity must be a 20-byte hex address")
	}

	return Identity(common.HexToAddress(raw).Hex()), nil
}

// IdentityFromAddress converts an address into an Identity.
func IdentityFromAddress(addr common.Address) Identity {
	return Identity(addr.Hex())
}

// Address returns the identity as an address.
func (id Identity) Address() common.Address {
	return common.HexToAddress(string(id))
}

func (id Identity) String() string { return string(id) }

// VaultID is the custody address that identifies a vault.
type VaultID string

// ParseVaultID validates a hex custody address and returns its checksum form.
func ParseVaultID(raw string) (VaultID, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return "", newError(ErrInvalidIdentity, "vault", "vault must be a 20-byte hex address")
	}

	return VaultID(common.HexToAddress(raw).Hex()), nil
}

func (id VaultID) String() string { return string(id) }

// Binding ties a vault to its custody account and signing authority.
type Binding struct {
	Custody       VaultID  `json:"custody"`
	Authority     Identity `json:"authority"`
	CustodyBump   uint8    `json:"custodyBump"`
	AuthorityBump uint8    `json:"authorityBump"`
}

// VaultAccount is the pool-wide record of a vault.
type VaultAccount struct {
	ID               VaultID   `json:"id"`
	Owner            Identity  `json:"owner"`
	Balance          uint64    `json:"balance"`
	CustodyAuthority Identity  `json:"custodyAuthority"`
	CustodyBump      uint8     `json:"custodyBump"`
	AuthorityBump    uint8     `json:"authorityBump"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Binding returns the custody binding recorded at initialize time.
func (v VaultAccount) Binding() Binding {
	return Binding{
		Custody:       v.ID,
		Authority:     v.CustodyAuthority,
		CustodyBump:   v.CustodyBump,
		AuthorityBump: v.AuthorityBump,
	}
}

// UserAccount is one participant's record within a vault.
type UserAccount struct {
	Vault         VaultID   `json:"vault"`
	Owner         Identity  `json:"owner"`
	Deposited     uint64    `json:"deposited"`
	Debt          uint64    `json:"debt"`
	IsWhitelisted bool      `json:"isWhitelisted"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func newUserAccount(vault VaultID, owner Identity, now time.Time) UserAccount {
	return UserAccount{Vault: vault, Owner: owner, CreatedAt: now, UpdatedAt: now}
}

// SignerSet is the set of identities whose signatures were verified for a
// call.
type SignerSet map[Identity]struct{}

// NewSignerSet builds a set from ids.
func NewSignerSet(ids ...Identity) SignerSet {
	set := make(SignerSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return set
}

// Has reports whether id signed.
func (s SignerSet) Has(id Identity) bool {
	_, ok := s[id]
	return ok
}

// Command carries the caller context shared by every operation.
type Command struct {
	Vault   VaultID
	Caller  Identity
	Signers SignerSet
}

// Receipt is returned by a successful operation.
type Receipt struct {
	Vault VaultAccount `json:"vault"`
	User  UserAccount  `json:"user"`
	// Event is nil when the operation changed nothing.
	Event *Event `json:"event,omitempty"`
}

// Event records one committed ledger transition. It is persisted together
// with the state it describes and later relayed to the broker.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"`
	Vault         VaultID   `json:"vault"`
	Actor         Identity  `json:"actor"`
	Subject       Identity  `json:"subject"`
	Amount        uint64    `json:"amount,omitempty"`
	Repaid        uint64    `json:"repaid,omitempty"`
	DebtIssued    uint64    `json:"debtIssued,omitempty"`
	Balance       uint64    `json:"balance"`
	Deposited     uint64    `json:"deposited"`
	Debt          uint64    `json:"debt"`
	IsWhitelisted bool      `json:"isWhitelisted"`
	OccurredAt    time.Time `json:"occurredAt"`
}
