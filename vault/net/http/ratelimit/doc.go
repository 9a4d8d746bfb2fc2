// Package ratelimit provides a Redis-backed fiber.Storage so request limits
// are shared by every vaultd replica.
package ratelimit
