package exporterr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for retry decisions
type Kind string

// Kind constants
const (
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
	KindFatal      Kind = "fatal"
	KindCancelled  Kind = "cancelled"
)

var (
	// ErrTimelineConflict is returned when an edit would overlap clips or merge non-adjacent clips
	ErrTimelineConflict = errors.New("timeline conflict")
	// ErrLocked is returned when editing a locked track or clip
	ErrLocked = errors.New("locked")
	// ErrNotFound is returned when a job, timeline, track or clip does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when an operation is not legal from the current job status
	ErrInvalidState = errors.New("invalid state")
)

// Error carries a Kind alongside the wrapped cause
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation wraps err as a validation error
func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// Validationf formats a validation error
func Validationf(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}

// Transient wraps err as a retryable processing error
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Fatal wraps err as a non-retryable processing error
func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// Cancelled wraps err as a user cancellation
func Cancelled(op string, err error) error {
	return &Error{Kind: KindCancelled, Op: op, Err: err}
}

// KindOf returns the kind of err. Context cancellation maps to KindCancelled and
// unclassified errors are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, ErrTimelineConflict) || errors.Is(err, ErrLocked) {
		return KindValidation
	}
	return KindTransient
}

// Retryable reports whether a failed job should be retried
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
