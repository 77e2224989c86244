// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"errors"
	"strings"
)

// Error kinds shared across the knowledge base and its callers. Callers
// classify with errors.Is; wrapped errors carry the entity context.
var (
	// ErrNotFound marks a referenced artist/work/recording/file that does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a uniqueness violation that survived the upsert
	// retry budget.
	ErrConflict = errors.New("conflict")

	// ErrValidation marks rejected input: thresholds out of range,
	// malformed signatures, oversized files.
	ErrValidation = errors.New("validation failed")

	// ErrTransient marks a recoverable I/O condition; jobs retry these
	// with backoff.
	ErrTransient = errors.New("transient failure")

	// ErrCancelled marks cooperative cancellation. Not an operator-facing
	// error.
	ErrCancelled = errors.New("cancelled")

	// ErrCorrupt marks unreadable input (truncated files, undecodable
	// tags); the offending unit is skipped and counted.
	ErrCorrupt = errors.New("corrupt input")
)

// IsTransient reports whether err should be retried. Context cancellation is
// never transient; SQLite lock contention is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// isUniqueViolation detects a unique-constraint failure from the driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
