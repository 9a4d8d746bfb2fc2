// Package log defines the logging interface used across the vault packages.
//
// Backends (see the zap package) implement Logger so ledger code can emit
// structured events without depending on a concrete logging library.
package log
