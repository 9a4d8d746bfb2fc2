package ledger

// requireSigner checks that the caller signed the call.
func requireSigner(cmd Command) error {
	if !cmd.Signers.Has(cmd.Caller) {
		return newError(ErrNotAuthorized, "signers", "caller did not sign the operation")
	}

	return nil
}

// requireOwner checks an owner-only operation: the caller must be the vault
// owner and both the owner and the target must have signed.
func requireOwner(vault VaultAccount, cmd Command, target Identity) error {
	if cmd.Caller != vault.Owner {
		return newError(ErrNotAuthorized, "caller", "only the vault owner may change the whitelist")
	}

	if !cmd.Signers.Has(vault.Owner) {
		return newError(ErrNotAuthorized, "signers", "vault owner did not sign the operation")
	}

	if !cmd.Signers.Has(target) {
		return newError(ErrNotAuthorized, "signers", "target participant did not sign the operation")
	}

	return nil
}
