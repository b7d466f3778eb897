package types

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies every surface failure in the control plane.
// Propagation and retry policy hang off the category, not the message.
type ErrorCategory string

const (
	ErrValidation    ErrorCategory = "validation"
	ErrNotFound      ErrorCategory = "not_found"
	ErrAccessDenied  ErrorCategory = "access_denied"
	ErrQuotaExceeded ErrorCategory = "quota_exceeded"
	ErrTimeout       ErrorCategory = "timeout"
	ErrResource      ErrorCategory = "resource"
	ErrDependency    ErrorCategory = "dependency"
	ErrInvariant     ErrorCategory = "invariant"
)

// DomainError carries a category alongside the underlying failure so
// callers can branch on classification without string matching.
type DomainError struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError builds a DomainError wrapping err (err may be nil).
func NewError(cat ErrorCategory, err error, format string, args ...interface{}) *DomainError {
	return &DomainError{
		Category: cat,
		Message:  fmt.Sprintf(format, args...),
		Err:      err,
	}
}

// Validationf builds a validation error. Validation errors are surfaced
// verbatim and never retried.
func Validationf(format string, args ...interface{}) *DomainError {
	return NewError(ErrValidation, nil, format, args...)
}

// NotFoundf builds a not_found error.
func NotFoundf(format string, args ...interface{}) *DomainError {
	return NewError(ErrNotFound, nil, format, args...)
}

// AccessDeniedf builds an access_denied error.
func AccessDeniedf(format string, args ...interface{}) *DomainError {
	return NewError(ErrAccessDenied, nil, format, args...)
}

// QuotaExceededf builds a quota_exceeded error.
func QuotaExceededf(format string, args ...interface{}) *DomainError {
	return NewError(ErrQuotaExceeded, nil, format, args...)
}

// Invariantf builds an invariant error. These indicate bugs and must be
// logged loudly, never swallowed.
func Invariantf(format string, args ...interface{}) *DomainError {
	return NewError(ErrInvariant, nil, format, args...)
}

// CategoryOf extracts the category from err, unwrapping as needed.
// Unclassified errors report as dependency failures.
func CategoryOf(err error) ErrorCategory {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Category
	}
	return ErrDependency
}

// IsNotFound reports whether err classifies as not_found.
func IsNotFound(err error) bool {
	return CategoryOf(err) == ErrNotFound
}
