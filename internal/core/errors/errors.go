package errors

import (
	"errors"
	"fmt"
)

// Domain errors - these represent coordination-layer rule violations and
// collaborator failures.
var (
	// Transport & decoding
	ErrTransport = errors.New("transport failure")
	ErrDecode    = errors.New("malformed frame")

	// Authentication
	ErrUnauthorized = errors.New("missing or expired credentials")

	// Collaborator responses
	ErrNotFound = errors.New("resource not found")
	ErrConflict = errors.New("resource conflict")

	// Local guards
	ErrInFlight = errors.New("request already in flight")

	// Generic
	ErrInternal = errors.New("internal error")
)

// AppError wraps errors with additional context for callers embedding the
// coordination layer.
type AppError struct {
	Err     error  // The underlying error
	Message string // User-friendly message
	Code    string // Machine-readable error code
	Details map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Error constructors for common cases

// NewTransportError marks a connect/send failure. Non-fatal: the channel
// answers these with backoff reconnects, never by surfacing to rendering.
func NewTransportError(err error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrTransport, err),
		Message: "Connection problem. Retrying in the background.",
		Code:    "TRANSPORT_ERROR",
	}
}

// NewDecodeError marks a single malformed frame. The frame is dropped; the
// connection stays up.
func NewDecodeError(err error) *AppError {
	return &AppError{
		Err:  fmt.Errorf("%w: %w", ErrDecode, err),
		Code: "DECODE_ERROR",
	}
}

func NewNotFoundError(err error, message string) *AppError {
	wrapped := error(ErrNotFound)
	if err != nil {
		wrapped = fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return &AppError{
		Err:     wrapped,
		Message: message,
		Code:    "NOT_FOUND",
	}
}

func NewConflictError(err error, message string) *AppError {
	wrapped := error(ErrConflict)
	if err != nil {
		wrapped = fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return &AppError{
		Err:     wrapped,
		Message: message,
		Code:    "CONFLICT",
	}
}

func NewValidationError(err error, message string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    "VALIDATION_ERROR",
	}
}

func NewAuthError(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
		Code:    "AUTH_ERROR",
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrInternal, err),
		Message: "An unexpected error occurred",
		Code:    "INTERNAL_ERROR",
	}
}

// IsNotFound reports whether err represents a missing resource server-side.
// The store self-heals on these instead of surfacing them.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err represents an already-resolved offer or a
// competing pending offer.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsAuth reports whether err represents missing or expired credentials.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
