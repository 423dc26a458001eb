package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for forage-lab
const (
	ExitSuccess         = 0
	ExitGeneralError    = 1
	ExitNotFound        = 2
	ExitProbeFailed     = 3
	ExitMalformedOutput = 4
	ExitIncompatible    = 5
	ExitNoDefaultFound  = 6
	ExitInvalidID       = 7
	ExitLaunchTimeout   = 8
	ExitProcessError    = 9
	ExitShutdownFailed  = 10
	ExitConfigError     = 11
	ExitPortAllocation  = 12
	ExitDisposed        = 13
)

// outputTail bounds how much captured process output is folded into messages.
const outputTail = 2048

// ForageError is the base error type for forage-lab
type ForageError struct {
	Code    int
	Message string
	Cause   error

	// Stdout and Stderr hold captured process output, when the failure
	// came from a supervised process.
	Stdout string
	Stderr string
}

func (e *ForageError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if out := strings.TrimSpace(e.Stderr); out != "" {
		msg += "\nstderr: " + tail(out)
	}
	if out := strings.TrimSpace(e.Stdout); out != "" {
		msg += "\nstdout: " + tail(out)
	}
	return msg
}

func (e *ForageError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a ForageError of the same kind. Kinds are
// identified by exit code, so sentinels such as ErrNotFound match any
// error built with the same code.
func (e *ForageError) Is(target error) bool {
	t, ok := target.(*ForageError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Code != ExitGeneralError
}

// ExitCode returns the exit code for this error
func (e *ForageError) ExitCode() int {
	return e.Code
}

// WithOutput attaches captured process output to the error.
func (e *ForageError) WithOutput(stdout, stderr string) *ForageError {
	e.Stdout = stdout
	e.Stderr = stderr
	return e
}

func tail(s string) string {
	if len(s) <= outputTail {
		return s
	}
	return "..." + s[len(s)-outputTail:]
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound        = New(ExitNotFound, "not found")
	ErrProbeFailed     = New(ExitProbeFailed, "probe failed")
	ErrMalformedOutput = New(ExitMalformedOutput, "malformed probe output")
	ErrIncompatible    = New(ExitIncompatible, "incompatible environment")
	ErrNoDefaultFound  = New(ExitNoDefaultFound, "no default environment found")
	ErrInvalidID       = New(ExitInvalidID, "invalid server id")
	ErrLaunchTimeout   = New(ExitLaunchTimeout, "server launch timed out")
	ErrProcessError    = New(ExitProcessError, "server process failed")
	ErrShutdownFailed  = New(ExitShutdownFailed, "server shutdown failed")
	ErrDisposed        = New(ExitDisposed, "disposed")
)

// New creates a new ForageError
func New(code int, message string) *ForageError {
	return &ForageError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a ForageError
func Wrap(code int, message string, cause error) *ForageError {
	return &ForageError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Common error constructors

// NotFound returns an error for a candidate path that does not exist
func NotFound(path string) *ForageError {
	return New(ExitNotFound, fmt.Sprintf("environment not found: %s", path))
}

// ProbeFailed returns an error for an introspection probe that failed to run
func ProbeFailed(path string, cause error) *ForageError {
	return Wrap(ExitProbeFailed, fmt.Sprintf("failed to probe environment at %s", path), cause)
}

// MalformedOutput returns an error for unparseable introspection output
func MalformedOutput(path string, cause error) *ForageError {
	return Wrap(ExitMalformedOutput, fmt.Sprintf("malformed environment info from %s", path), cause)
}

// Incompatible returns an error for an environment that fails a requirement
func Incompatible(path string, cause error) *ForageError {
	return Wrap(ExitIncompatible, fmt.Sprintf("environment at %s is not compatible", path), cause)
}

// NoDefaultFound returns an error when discovery produced no usable default
func NoDefaultFound() *ForageError {
	return New(ExitNoDefaultFound, "no default environment found")
}

// InvalidID returns an error for an unknown pool entry id
func InvalidID(id int) *ForageError {
	return New(ExitInvalidID, fmt.Sprintf("invalid server id: %d", id))
}

// LaunchTimeout returns an error for a server that did not become reachable in time
func LaunchTimeout(port int, stdout, stderr string) *ForageError {
	return New(ExitLaunchTimeout, fmt.Sprintf("server on port %d did not start in time", port)).
		WithOutput(stdout, stderr)
}

// ProcessFailed returns an error for a server process that exited or could not be spawned
func ProcessFailed(message string, cause error) *ForageError {
	return Wrap(ExitProcessError, message, cause)
}

// ShutdownFailed returns an error for a failed graceful shutdown
func ShutdownFailed(port int, cause error) *ForageError {
	return Wrap(ExitShutdownFailed, fmt.Sprintf("server on port %d failed to shut down", port), cause)
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *ForageError {
	return Wrap(ExitConfigError, message, cause)
}

// PortAllocationFailed returns an error for port allocation failure
func PortAllocationFailed(cause error) *ForageError {
	return Wrap(ExitPortAllocation, "failed to allocate port", cause)
}

// Disposed returns an error for calls made after disposal
func Disposed(what string) *ForageError {
	return New(ExitDisposed, fmt.Sprintf("%s has been disposed", what))
}

// ValidationError returns an error for input validation failures
func ValidationError(message string) *ForageError {
	return New(ExitGeneralError, message)
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	var forageErr *ForageError
	if errors.As(err, &forageErr) {
		return forageErr.ExitCode()
	}
	return ExitGeneralError
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Join combines errors, dropping nils
func Join(errs ...error) error {
	return errors.Join(errs...)
}
