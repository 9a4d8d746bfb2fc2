// Package errgroup runs goroutines that share a cancellation context and
// turns their panics into errors.
package errgroup
