package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Brief error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrMalformed      ErrorCode = "MALFORMED"       // 422
	ErrCancelled      ErrorCode = "CANCELLED"       // 499
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// BriefError represents a structured error with code, status, and details.
type BriefError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *BriefError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *BriefError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *BriefError {
	return &BriefError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for an entity that does not resolve.
func NewNotFound(kind string, id any) *BriefError {
	return &BriefError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %v", kind, id),
		Details: map[string]any{"kind": kind, "identifier": id},
	}
}

// NewFileNotFound creates a 404 error for a missing import file.
func NewFileNotFound(path string) *BriefError {
	return &BriefError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewMalformed creates a 422 error for data that violates an enumerated domain.
// These indicate programming or data-integrity faults and are always fatal.
func NewMalformed(msg string, details map[string]any) *BriefError {
	return &BriefError{
		Code:    ErrMalformed,
		Status:  422,
		Message: msg,
		Details: details,
	}
}

// NewCancelled creates a 499 error when an operation is cancelled by its context.
func NewCancelled(op string) *BriefError {
	return &BriefError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the original error is kept in Details for logging.
func NewInternal(err error) *BriefError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &BriefError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a BriefError with the given code.
func Is(err error, code ErrorCode) bool {
	var bErr *BriefError
	if stderrors.As(err, &bErr) {
		return bErr.Code == code
	}
	return false
}

// As returns the first BriefError in err's chain.
func As(err error) (*BriefError, bool) {
	var bErr *BriefError
	if stderrors.As(err, &bErr) {
		return bErr, true
	}
	return nil, false
}

// Annotate prefixes the message of err's BriefError and merges details,
// keeping the code. Errors without a BriefError become INTERNAL.
func Annotate(err error, prefix string, details map[string]any) *BriefError {
	bErr, ok := As(err)
	if !ok {
		bErr = NewInternal(err)
	}
	merged := make(map[string]any, len(bErr.Details)+len(details))
	for k, v := range bErr.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &BriefError{
		Code:    bErr.Code,
		Status:  bErr.Status,
		Message: prefix + ": " + bErr.Message,
		Details: merged,
		cause:   bErr,
	}
}
