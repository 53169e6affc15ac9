// Package apperrors defines the engine's error taxonomy. Every failure that
// crosses a component boundary is classified into a Kind so the orchestrator
// can route on it without string matching.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	KindRoutingFailed       Kind = "routing_failed"
	KindGenerationFailed    Kind = "generation_failed"
	KindParseFailed         Kind = "parse_failed"
	KindSQLExecutionFailed  Kind = "sql_execution_failed"
	KindTransactionFailed   Kind = "transaction_failed"
	KindInvalidPage         Kind = "invalid_page"
	KindSchemaRefreshFailed Kind = "schema_refresh_failed"
	KindAnalyticalAllFailed Kind = "analytical_all_failed"
	KindTimeout             Kind = "timeout"
	KindCancelled           Kind = "cancelled"
)

// Error is a classified engine error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from an error chain. Context deadline and
// cancellation errors classify as KindTimeout and KindCancelled even when
// they were never wrapped.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled, true
	}
	return "", false
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
