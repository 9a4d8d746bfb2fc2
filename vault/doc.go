// Package vault carries the cross-cutting pieces of the shared vault
// service: request tracking through context, the Launcher that runs the
// service's apps, and the mapping of ledger error codes to client-facing
// business errors.
package vault
