package common

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors - use errors.Is() to check
var (
	// Generic errors
	ErrInternal     = errors.New("internal error")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")

	ErrServiceUnavailable = errors.New("service unavailable")

	// Resource-specific errors
	ErrJobNotFound   = fmt.Errorf("job %w", ErrNotFound)
	ErrOwnerNotFound = fmt.Errorf("owner %w", ErrNotFound)
	ErrFileNotFound  = fmt.Errorf("file %w", ErrNotFound)
	ErrCacheMiss     = fmt.Errorf("cached recipe %w", ErrNotFound)

	// Job lifecycle errors
	ErrJobActive          = fmt.Errorf("job still running: %w", ErrConflict)
	ErrJobTerminal        = fmt.Errorf("job already finished: %w", ErrConflict)
	ErrInvalidTransition  = errors.New("invalid job transition")
	ErrProgressRegression = errors.New("progress cannot decrease")

	// Validation errors
	ErrValidation = errors.New("validation error")
)

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is implements errors.Is for ValidationError
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Kind tags a stage failure so pollers can tell failure classes apart.
type Kind string

const (
	KindUnsupportedSource   Kind = "unsupported_source"
	KindNetwork             Kind = "network_error"
	KindTimeout             Kind = "timeout"
	KindContentUnavailable  Kind = "content_unavailable"
	KindResourceUnavailable Kind = "resource_unavailable"
	KindTranscription       Kind = "transcription_error"
	KindLLMUnavailable      Kind = "llm_unavailable"
	KindMalformedOutput     Kind = "malformed_output"
	KindCancelled           Kind = "cancelled"
	KindInternal            Kind = "internal"
)

// Retryable reports whether the acquisition stage may retry this kind locally.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindTimeout
}

// StageError is the error type every stage executor returns.
// Message is safe to show to users; Err keeps the underlying cause for logs.
type StageError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError with an optional cause.
func NewStageError(kind Kind, message string, cause error) *StageError {
	return &StageError{Kind: kind, Message: message, Err: cause}
}

// KindOf extracts the failure kind from err. Bare context errors map to
// timeout/cancelled, anything else unknown maps to internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// MessageOf returns the user-facing message of err without internal causes.
func MessageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Message
	}
	switch KindOf(err) {
	case KindTimeout:
		return "operation timed out"
	case KindCancelled:
		return "job was cancelled"
	default:
		return "unexpected internal error"
	}
}

// FromContext converts a finished stage context into a StageError. A deadline
// on the stage's own context is a Timeout, a cancelled parent is Cancelled.
func FromContext(parent, stage context.Context, what string) error {
	if parent.Err() != nil {
		return NewStageError(KindCancelled, "job was cancelled", parent.Err())
	}
	if errors.Is(stage.Err(), context.DeadlineExceeded) {
		return NewStageError(KindTimeout, what+" timed out", stage.Err())
	}
	return nil
}

// WrapNotFound wraps an error as a not found error with context
func WrapNotFound(resource string, err error) error {
	return fmt.Errorf("%s: %w", resource, errors.Join(ErrNotFound, err))
}

// WrapInternal wraps an error as an internal error with context
func WrapInternal(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, errors.Join(ErrInternal, err))
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnauthorized checks if error is an unauthorized error
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbidden checks if error is a forbidden error
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsValidation checks if error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
