// Package exitcodes defines standard exit codes for sync runs.
// The codes are stable so cron, Airflow, and Kubernetes wrappers can
// distinguish retryable failures from configuration problems.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"
)

const (
	// Success - sync run completed with every table succeeding
	Success = 0

	// ConfigError - configuration/YAML parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - source/target database connection or pool errors (recoverable)
	ConnectionError = 2

	// SyncError - the run failed outright: no table finished, or a fatal error aborted it
	SyncError = 3

	// PartialError - some tables synced and some failed, or the audit found mismatches
	PartialError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - marker store errors or a run record in an unexpected state (non-recoverable)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// It examines error types first, then falls back to message classification.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	// Check if it's already an ExitError
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}

	// Check for os.PathError (file not found, permission denied, etc.)
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	// IO errors - check early for file-related errors (exit code 7)
	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	// Partial failures (exit code 4) - audit mismatches and per-table failures.
	// Checked before ConfigError so "row count mismatch" never matches a
	// config keyword.
	if containsAny(errStr, []string{
		"row count",
		"mismatch",
		"audit",
		"partial",
		"tables failed",
	}) {
		return PartialError
	}

	// Config errors (exit code 1) - parsing issues, not validation of data
	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid configuration",
		"missing required",
		"invalid value",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	// Connection errors (exit code 2)
	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"pool",
		"ping",
		"login failed",
		"authentication",
	}) {
		return ConnectionError
	}

	// Sync errors (exit code 3)
	if containsAny(errStr, []string{
		"sync failed",
		"copy",
		"bulk",
		"insert",
		"upsert",
		"delete",
		"schema",
		"create table",
		"drop table",
		"truncate",
		"swap",
	}) {
		return SyncError
	}

	// Cancelled (exit code 5)
	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context canceled",
		"context deadline",
	}) {
		return Cancelled
	}

	// State errors (exit code 6)
	if containsAny(errStr, []string{
		"state",
		"marker",
		"resume",
		"run not found",
		"already completed",
		"config changed",
	}) {
		return StateError
	}

	// Default to sync error for unknown errors
	return SyncError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
// Partial failures are retryable: markers only advance for tables that
// succeeded, so a re-run picks up exactly the failed tables.
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, PartialError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case ConnectionError:
		return "connection error (recoverable)"
	case SyncError:
		return "sync failed"
	case PartialError:
		return "partial failure (recoverable)"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
