// Package constant holds shared literals: error codes, event types, seeds,
// header names and telemetry names.
//
// Keep this package free of runtime behavior.
package constant
