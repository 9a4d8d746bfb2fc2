// Package redis holds the Redis-backed pieces of the vault service: the
// connection, a RedLock locker that serializes ledger operations per vault
// across replicas, and a replay guard for signed envelopes.
package redis
