// Package errors provides typed errors with exit codes for forage-lab.
//
// # Error Types
//
// ForageError is the base error type that wraps an error with an exit code:
//
//	type ForageError struct {
//	    Code    int    // Exit code, also identifies the error kind
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	    Stdout  string // Captured process output, if any
//	    Stderr  string
//	}
//
// # Exit Codes
//
//	ExitSuccess         = 0
//	ExitGeneralError    = 1
//	ExitNotFound        = 2  // Candidate runtime path does not exist
//	ExitProbeFailed     = 3  // Introspection probe failed or was silent
//	ExitMalformedOutput = 4  // Introspection output could not be parsed
//	ExitIncompatible    = 5  // Runtime fails a version requirement
//	ExitNoDefaultFound  = 6  // Discovery found no usable runtime
//	ExitInvalidID       = 7  // Unknown pool entry id
//	ExitLaunchTimeout   = 8  // Server not reachable before the launch timeout
//	ExitProcessError    = 9  // Server process failed to spawn or exited
//	ExitShutdownFailed  = 10 // Graceful shutdown failed
//	ExitConfigError     = 11
//	ExitPortAllocation  = 12
//	ExitDisposed        = 13
//
// # Matching
//
// Every kind has a sentinel (ErrNotFound, ErrIncompatible, ...). ForageError
// implements Is by comparing codes, so a wrapped chain can be tested with
// the standard library:
//
//	if errors.Is(err, errors.ErrIncompatible) { ... }
//
// Use GetExitCode to extract the exit code from an error chain:
//
//	if err != nil {
//	    os.Exit(errors.GetExitCode(err))
//	}
package errors
