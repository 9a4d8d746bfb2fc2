// Package derivation computes deterministic custody addresses.
//
// A derived address is the last 20 bytes of
// keccak256(seeds || bump || program || "ProgramDerivedAddress") for the
// highest bump whose digest is not the x-coordinate of a secp256k1 point, so
// no private key can sign for it. Only the program that owns the seeds can
// authorize movements out of such an account.
package derivation
