// Package http exposes the vault ledger over Fiber.
//
// Mutating routes accept a signed identity.Envelope whose payload names the
// caller and the operation arguments. Read routes return committed state with
// amounts rendered as decimal strings. Business errors are rendered as
// vault.Response bodies with a status chosen by WithError.
package http
