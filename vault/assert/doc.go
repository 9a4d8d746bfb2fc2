// Package assert checks runtime invariants and turns violations into
// errors that are logged, recorded on the active span and counted.
//
// Assertions never panic. Callers decide how to react to the returned
// *AssertionError.
package assert
