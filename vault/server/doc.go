// Package server runs the HTTP surface with graceful shutdown.
//
// Manager starts the Fiber app, waits for SIGINT/SIGTERM (or a test
// channel), then shuts down the app, the registered hooks, telemetry and the
// logger, in that order.
package server
