// Package runtime provides panic-safe goroutine launching and recovery
// helpers that log, count and report recovered panics.
package runtime
