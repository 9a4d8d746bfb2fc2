// Package postgres persists vaults in PostgreSQL. Writes go to the primary
// inside one transaction per ledger operation, serialized per vault with a
// transaction-scoped advisory lock; reads go to the replica. Ledger events
// are stored in the same transaction and served to the outbox dispatcher.
package postgres
