// Package security detects configuration and payload field names that carry
// secrets, so they can be masked before leaving the process in logs or
// command output.
package security
