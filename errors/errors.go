// Package errors provides error handling for hydrotrace.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging failed jobs
//   - Error wrapping and context
//   - Hints for setup errors shown to the operator
//
// Usage:
//
//	if err := store.CopyFeatures(ctx, src, "seg_0", dst, "seg_0"); err != nil {
//	    return errors.Wrap(err, "copy seed")
//	}
//
//	return errors.WithHint(err, "check that the network path points at <gdb>/<dataset>/<network>")
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Join combines several errors into one; nil entries are dropped.
var Join = crdb.Join

// Common sentinel errors for use across hydrotrace.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates a feature collection, field or store does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input (bad names, bad config values)
	ErrInvalidRequest = New("invalid request")

	// ErrLocked indicates a store or file is held by another process
	ErrLocked = New("resource locked")

	// ErrInvalidTransition indicates an illegal job state transition
	ErrInvalidTransition = New("invalid state transition")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsLockedError checks if an error is or wraps ErrLocked
func IsLockedError(err error) bool {
	return err != nil && Is(err, ErrLocked)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
