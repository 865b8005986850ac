package errors

import (
	stderrors "errors"
)

// Failure is the structured shape the wider application consumes at the
// system boundary. Success is always false; the core's own API stays
// typed-error based.
type Failure struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	ErrorCode ErrorCode      `json:"error_code"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// ToFailure converts any error into the boundary Failure shape.
// Non-AppError values map to INTERNAL_ERROR.
func ToFailure(err error) Failure {
	if appErr, ok := AsAppError(err); ok {
		return Failure{
			Success:   false,
			Error:     appErr.Message,
			ErrorCode: appErr.Code,
			Retryable: appErr.Retryable,
			Details:   appErr.Details,
		}
	}
	return Failure{
		Success:   false,
		Error:     err.Error(),
		ErrorCode: ErrCodeInternal,
	}
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
