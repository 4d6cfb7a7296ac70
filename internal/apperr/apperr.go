// Package apperr defines the failure kinds every engine operation reports.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable failure category.
type Kind string

const (
	KindValidation             Kind = "validation_error"
	KindNotFound               Kind = "not_found"
	KindNoEligibleAgent        Kind = "no_eligible_agent"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindConcurrencyConflict    Kind = "concurrency_conflict"
	KindPermissionDenied       Kind = "permission_denied"
	KindFeatureDisabled        Kind = "feature_disabled"
	KindInternal               Kind = "internal"
)

// Error carries a Kind plus a human-readable reason.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// Sentinels for errors.Is checks.
var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrNoEligibleAgent        = &Error{Kind: KindNoEligibleAgent}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrConcurrencyConflict    = &Error{Kind: KindConcurrencyConflict}
	ErrPermissionDenied       = &Error{Kind: KindPermissionDenied}
	ErrFeatureDisabled        = &Error{Kind: KindFeatureDisabled}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error { return newf(KindValidation, format, args...) }

func NotFound(format string, args ...any) error { return newf(KindNotFound, format, args...) }

func NoEligibleAgent(format string, args ...any) error {
	return newf(KindNoEligibleAgent, format, args...)
}

func InvalidState(format string, args ...any) error {
	return newf(KindInvalidStateTransition, format, args...)
}

func PermissionDenied(format string, args ...any) error {
	return newf(KindPermissionDenied, format, args...)
}

func FeatureDisabled(format string, args ...any) error {
	return newf(KindFeatureDisabled, format, args...)
}

// Conflict wraps the last optimistic-lock failure after retries ran out.
func Conflict(err error, format string, args ...any) error {
	e := newf(KindConcurrencyConflict, format, args...)
	e.Err = err
	return e
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
