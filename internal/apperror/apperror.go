// Package apperror defines the tagged errors every layer returns.
//
// Each AppError wraps exactly one sentinel from the taxonomy below. Handlers
// and logs look the bucket up with errors.Is; only Validation, Conflict,
// NotFound and Forbidden messages are written for end users.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation error")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrUnavailable = errors.New("unavailable")
	ErrIntegrity   = errors.New("integrity violation")
)

// supportMessage is shown for every failure the user cannot fix themselves.
const supportMessage = "Something went wrong on our side. Please contact support."

type AppError struct {
	Err     error  // taxonomy sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, never shown to users
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports a user-facing clash with existing state, such as a
// duplicate email or an unknown referral code.
func Conflict(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unavailable marks a transient infrastructure failure (store down, timeout).
// The whole operation is safe to retry.
func Unavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: fmt.Sprintf("%s is temporarily unavailable, please try again", op),
		Cause:   cause,
	}
}

// Integrity marks a state that needs an operator: an account without a
// profile, a duplicated referral code, a failed rollback.
func Integrity(detail string, cause error) *AppError {
	return &AppError{
		Err:     ErrIntegrity,
		Message: supportMessage,
		Cause:   fmt.Errorf("%s: %w", detail, errOrPlaceholder(cause)),
	}
}

func errOrPlaceholder(err error) error {
	if err == nil {
		return errors.New("no underlying error")
	}
	return err
}

// UniqueViolation is returned by stores when an insert hits a uniqueness
// constraint. Field names the offending column.
type UniqueViolation struct {
	Field string
	Err   error
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("unique constraint violated on %s", e.Field)
}

func (e *UniqueViolation) Unwrap() error {
	return e.Err
}

// IsUniqueViolation reports whether err carries a UniqueViolation and, if so,
// on which field.
func IsUniqueViolation(err error) (string, bool) {
	var uv *UniqueViolation
	if errors.As(err, &uv) {
		return uv.Field, true
	}
	return "", false
}

// Kind names the taxonomy bucket of err, for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	default:
		return "internal"
	}
}
