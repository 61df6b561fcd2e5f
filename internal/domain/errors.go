package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the machine-readable classification carried by every
// rejection and fault the service surfaces to callers.
type ErrorKind string

const (
	KindQuotaExceeded          ErrorKind = "quota_exceeded"
	KindIntegrationUnavailable ErrorKind = "integration_unavailable"
	KindValidation             ErrorKind = "validation_error"
	KindNotFound               ErrorKind = "not_found"
	KindInvalidState           ErrorKind = "invalid_state"
	KindExecutionFailed        ErrorKind = "execution_failed"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrQuotaExceeded          = &Error{Kind: KindQuotaExceeded}
	ErrIntegrationUnavailable = &Error{Kind: KindIntegrationUnavailable}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrInvalidState           = &Error{Kind: KindInvalidState}
	ErrExecutionFailed        = &Error{Kind: KindExecutionFailed}
)

// Error is a classified service error. RetryAfter is set for admission
// rejections (quota and circuit).
type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by kind so callers can test errors.Is(err, domain.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may retry after RetryAfter.
func (e *Error) Retryable() bool {
	return e.Kind == KindQuotaExceeded || e.Kind == KindIntegrationUnavailable
}

// NewValidationError returns a validation error with a formatted message.
func NewValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError returns a not-found error for the given resource and id.
func NewNotFoundError(resource, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// NewInvalidStateError returns an invalid-state error with a formatted message.
func NewInvalidStateError(format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// NewQuotaExceededError reports a rate limit rejection.
func NewQuotaExceededError(message string, retryAfter time.Duration) error {
	return &Error{Kind: KindQuotaExceeded, Message: message, RetryAfter: retryAfter}
}

// NewIntegrationUnavailableError reports an open circuit for an integration.
func NewIntegrationUnavailableError(message string, retryAfter time.Duration, cause error) error {
	return &Error{Kind: KindIntegrationUnavailable, Message: message, RetryAfter: retryAfter, Err: cause}
}

// NewExecutionFailedError wraps a connector failure.
func NewExecutionFailedError(cause error) error {
	return &Error{Kind: KindExecutionFailed, Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RetryAfterOf returns the retry-after hint of the first *Error in err's chain.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
