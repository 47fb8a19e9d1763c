// Package errors defines the FlagKit error taxonomy. Every error carries a
// stable code and a recoverable flag; retry loops and the circuit breaker
// key their behavior off the flag, never off message text.
package errors

// ErrorCode represents a FlagKit error code.
type ErrorCode string

// Initialization errors
const (
	ErrInitFailed             ErrorCode = "INIT_FAILED"
	ErrInitTimeout            ErrorCode = "INIT_TIMEOUT"
	ErrInitAlreadyInitialized ErrorCode = "INIT_ALREADY_INITIALIZED"
	ErrInitNotInitialized     ErrorCode = "INIT_NOT_INITIALIZED"
)

// Authentication errors
const (
	ErrAuthInvalidKey   ErrorCode = "AUTH_INVALID_KEY"
	ErrAuthExpiredKey   ErrorCode = "AUTH_EXPIRED_KEY"
	ErrAuthMissingKey   ErrorCode = "AUTH_MISSING_KEY"
	ErrAuthUnauthorized ErrorCode = "AUTH_UNAUTHORIZED"
	ErrAuthForbidden    ErrorCode = "AUTH_FORBIDDEN"
)

// Network errors
const (
	ErrNetworkError       ErrorCode = "NETWORK_ERROR"
	ErrNetworkTimeout     ErrorCode = "NETWORK_TIMEOUT"
	ErrNetworkRetryLimit  ErrorCode = "NETWORK_RETRY_LIMIT"
	ErrNetworkRateLimited ErrorCode = "NETWORK_RATE_LIMITED"
	ErrNetworkServerError ErrorCode = "NETWORK_SERVER_ERROR"
	ErrHTTPError          ErrorCode = "HTTP_ERROR"
	ErrCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
)

// Evaluation errors
const (
	ErrEvalFlagNotFound ErrorCode = "EVAL_FLAG_NOT_FOUND"
	ErrEvalTypeMismatch ErrorCode = "EVAL_TYPE_MISMATCH"
	ErrEvalInvalidKey   ErrorCode = "EVAL_INVALID_KEY"
	ErrEvalDisabled     ErrorCode = "EVAL_DISABLED"
	ErrEvalError        ErrorCode = "EVAL_ERROR"
	ErrEvalStaleValue   ErrorCode = "EVAL_STALE_VALUE"
	ErrEvalCacheMiss    ErrorCode = "EVAL_CACHE_MISS"
)

// Cache errors
const (
	ErrCacheReadError   ErrorCode = "CACHE_READ_ERROR"
	ErrCacheWriteError  ErrorCode = "CACHE_WRITE_ERROR"
	ErrCacheInvalidData ErrorCode = "CACHE_INVALID_DATA"
	ErrCacheExpired     ErrorCode = "CACHE_EXPIRED"
)

// Event errors
const (
	ErrEventQueueFull   ErrorCode = "EVENT_QUEUE_FULL"
	ErrEventInvalidType ErrorCode = "EVENT_INVALID_TYPE"
	ErrEventSendFailed  ErrorCode = "EVENT_SEND_FAILED"
	ErrEventFlushFailed ErrorCode = "EVENT_FLUSH_FAILED"
)

// Configuration errors
const (
	ErrConfigInvalidURL      ErrorCode = "CONFIG_INVALID_URL"
	ErrConfigInvalidInterval ErrorCode = "CONFIG_INVALID_INTERVAL"
	ErrConfigMissingRequired ErrorCode = "CONFIG_MISSING_REQUIRED"
)

// Security errors
const (
	ErrSecurityPIIDetected      ErrorCode = "SECURITY_PII_DETECTED"
	ErrSecuritySignatureInvalid ErrorCode = "SECURITY_SIGNATURE_INVALID"
	ErrSecuritySignatureExpired ErrorCode = "SECURITY_SIGNATURE_EXPIRED"
	ErrSecurityEncryptionFailed ErrorCode = "SECURITY_ENCRYPTION_FAILED"
	ErrSecurityDecryptionFailed ErrorCode = "SECURITY_DECRYPTION_FAILED"
	ErrSecurityBootstrapInvalid ErrorCode = "SECURITY_BOOTSTRAP_INVALID"
	ErrSecurityBootstrapExpired ErrorCode = "SECURITY_BOOTSTRAP_EXPIRED"
)

// Streaming errors
const (
	ErrStreamTokenInvalid    ErrorCode = "STREAMING_TOKEN_INVALID"
	ErrStreamTokenExpired    ErrorCode = "STREAMING_TOKEN_EXPIRED"
	ErrStreamSuspended       ErrorCode = "STREAMING_SUBSCRIPTION_SUSPENDED"
	ErrStreamConnectionLimit ErrorCode = "STREAMING_CONNECTION_LIMIT"
	ErrStreamUnavailable     ErrorCode = "STREAMING_UNAVAILABLE"
)

// Internal errors
const (
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// recoverableCodes lists the codes whose recommended response is retry
// with backoff.
var recoverableCodes = map[ErrorCode]bool{
	ErrInitTimeout:           true,
	ErrNetworkError:          true,
	ErrNetworkTimeout:        true,
	ErrNetworkRetryLimit:     true,
	ErrNetworkRateLimited:    true,
	ErrNetworkServerError:    true,
	ErrCircuitOpen:           true,
	ErrEvalStaleValue:        true,
	ErrEvalCacheMiss:         true,
	ErrCacheExpired:          true,
	ErrEventSendFailed:       true,
	ErrEventFlushFailed:      true,
	ErrStreamTokenInvalid:    true,
	ErrStreamTokenExpired:    true,
	ErrStreamConnectionLimit: true,
	ErrStreamUnavailable:     true,
}

// IsRecoverableCode reports whether the code is classified as recoverable.
func IsRecoverableCode(code ErrorCode) bool {
	return recoverableCodes[code]
}

// FlagKitError is the base error type for all FlagKit errors.
type FlagKitError struct {
	Code        ErrorCode
	Message     string
	Cause       error
	Recoverable bool
}

// Error implements the error interface.
func (e *FlagKitError) Error() string {
	if e.Cause != nil {
		return "[" + string(e.Code) + "] " + e.Message + ": " + e.Cause.Error()
	}
	return "[" + string(e.Code) + "] " + e.Message
}

// Unwrap returns the underlying cause.
func (e *FlagKitError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlagKitError. The message is sanitized if
// sanitization is enabled.
func NewError(code ErrorCode, message string) *FlagKitError {
	return &FlagKitError{
		Code:        code,
		Message:     sanitizeMessage(message),
		Recoverable: IsRecoverableCode(code),
	}
}

// NewErrorWithCause creates a new FlagKitError with a cause.
func NewErrorWithCause(code ErrorCode, message string, cause error) *FlagKitError {
	return &FlagKitError{
		Code:        code,
		Message:     sanitizeMessage(message),
		Cause:       sanitizeCause(cause),
		Recoverable: IsRecoverableCode(code),
	}
}

// IsRecoverable checks if the error is recoverable.
func IsRecoverable(err error) bool {
	if fkErr, ok := err.(*FlagKitError); ok {
		return fkErr.Recoverable
	}
	return false
}

// CodeOf returns the error code, or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if fkErr, ok := err.(*FlagKitError); ok {
		return fkErr.Code
	}
	return ErrInternal
}

// InitializationError creates an initialization error.
func InitializationError(code ErrorCode, message string) *FlagKitError {
	return NewError(code, message)
}

// AuthenticationError creates an authentication error.
func AuthenticationError(code ErrorCode, message string) *FlagKitError {
	return NewError(code, message)
}

// NetworkError creates a network error with a cause. IO failures are wrapped
// through here so they carry a recoverable network code.
func NetworkError(code ErrorCode, message string, cause error) *FlagKitError {
	return NewErrorWithCause(code, message, cause)
}

// EvaluationError creates an evaluation error.
func EvaluationError(code ErrorCode, message string) *FlagKitError {
	return NewError(code, message)
}

// SecurityError creates a security error.
func SecurityError(code ErrorCode, message string) *FlagKitError {
	return NewError(code, message)
}

// StreamingError creates a streaming error.
func StreamingError(code ErrorCode, message string) *FlagKitError {
	return NewError(code, message)
}
