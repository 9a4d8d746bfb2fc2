// Package opentelemetry bootstraps tracing and metrics providers and carries
// span helpers shared by vault components.
package opentelemetry
