package constant

// Seeds for custody address derivation.
const (
	// SeedCustody derives the custody token account.
	SeedCustody = "token-seed"
	// SeedAuthority derives the custody signing authority.
	SeedAuthority = "shared-vault"
	// DerivationMarker is appended to every derivation preimage.
	DerivationMarker = "ProgramDerivedAddress"
)

// Ledger event types, also used as AMQP routing keys.
const (
	EventVaultInitialized = "vault.initialized"
	EventVaultDeposited   = "vault.deposited"
	EventVaultWithdrawn   = "vault.withdrawn"
	EventVaultWhitelisted = "vault.whitelisted"
	EventVaultBlacklisted = "vault.blacklisted"
)

// Operation names used in spans, metrics and envelopes.
const (
	OperationInitialize = "initialize"
	OperationDeposit    = "deposit"
	OperationWithdraw   = "withdraw"
	OperationWhitelist  = "whitelist"
	OperationBlacklist  = "blacklist"
)
