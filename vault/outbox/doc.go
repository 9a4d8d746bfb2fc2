// Package outbox relays committed ledger events to a broker. Events are
// written in the same unit of work as the ledger state they describe and
// delivered at least once by the Dispatcher.
package outbox
