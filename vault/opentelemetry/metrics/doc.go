// Package metrics wraps OpenTelemetry instruments behind a lazily populated
// factory and exposes the vault's domain metrics.
package metrics
