// Package backoff computes retry delays: exponential growth with full
// jitter and an upper bound.
package backoff
