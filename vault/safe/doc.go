// Package safe provides checked unsigned arithmetic for ledger amounts and
// decimal helpers for presenting them.
package safe
