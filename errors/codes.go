package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Transient errors (retryable)
const (
	// ErrCodeServiceUnavailable indicates the provider is temporarily unavailable.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeConnectionFailed indicates a failed connection or connectivity probe.
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeRateLimited indicates the caller is rate limited.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeProviderError indicates a generic failure inside a provider.
	ErrCodeProviderError ErrorCode = "PROVIDER_ERROR"
)

// Registry errors
const (
	// ErrCodeNotFound indicates the requested provider code is not registered.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeUnavailable indicates a circuit breaker is rejecting calls.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
	// ErrCodeCreationFailed indicates provider instantiation failed.
	ErrCodeCreationFailed ErrorCode = "CREATION_FAILED"
	// ErrCodeAlreadyExists indicates a provider code collision.
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
)

// Caller/operator errors (never retryable)
const (
	// ErrCodeInvalidInput indicates the input payload or argument is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeValidation indicates a configuration or schema violation.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrCodeAuthentication indicates credentials were rejected.
	ErrCodeAuthentication ErrorCode = "AUTHENTICATION_FAILED"
	// ErrCodeConfiguration indicates missing or inconsistent configuration state.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"
	// ErrCodeMissingField indicates a required configuration field is missing.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected internal failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeServiceUnavailable: true,
	ErrCodeConnectionFailed:   true,
	ErrCodeTimeout:            true,
	ErrCodeRateLimited:        true,
	ErrCodeProviderError:      true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
