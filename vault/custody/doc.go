// Package custody provides ledger.TransferGateway implementations: an
// in-memory holdings book and a circuit breaker decorator for remote
// gateways.
package custody
