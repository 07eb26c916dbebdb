// Package apperrors defines Nalyze's error taxonomy (spec §7): a set of
// sentinel errors plus a small wrapping type, in the same shape as
// gomind's core.FrameworkError — so the HTTP boundary can classify any
// error with errors.Is/As instead of a type switch on concrete types,
// and nothing above the conversation state machine (C4) needs to know
// which package actually produced the failure.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per row of the spec §7 taxonomy table.
var (
	ErrProtocolViolation = errors.New("malformed request envelope")
	ErrDatasetNotFound   = errors.New("dataset not found")
	ErrFileUnreadable    = errors.New("source file missing or unsupported format")
	ErrValidationFailed  = errors.New("sql validation failed")
	ErrAIUnavailable     = errors.New("ai assist unavailable")
	ErrAIInvalidResponse = errors.New("invalid response format from ai")
	ErrQueryTimeout      = errors.New("query timeout")
	ErrEngineError       = errors.New("engine error")
)

// AppError carries the sentinel kind plus human-facing and diagnostic
// context, mirroring gomind's FrameworkError{Op, Kind, ID, Message, Err}.
type AppError struct {
	Op      string // e.g. "sqlvalidate.Validate", "sqlexec.Execute"
	Kind    error  // one of the sentinels above; used with errors.Is
	Message string // user-facing explanation
	Err     error  // wrapped underlying cause, if any
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap lets errors.Is/As see both the wrapped cause and the sentinel kind.
func (e *AppError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New builds an AppError for kind, with a user-facing message.
func New(op string, kind error, message string) *AppError {
	return &AppError{Op: op, Kind: kind, Message: message}
}

// Wrap builds an AppError around an underlying cause.
func Wrap(op string, kind error, err error) *AppError {
	return &AppError{Op: op, Kind: kind, Err: err}
}

// Is reports whether err (or anything it wraps) matches kind.
func Is(err error, kind error) bool {
	return errors.Is(err, kind)
}
