// Package identity verifies which participants authorized an operation.
//
// Clients sign the keccak256 digest of an Envelope with their secp256k1
// keys. Verify recovers the signer addresses and hands them to the ledger
// as a SignerSet; the ledger then checks that the required identities are
// present.
package identity
