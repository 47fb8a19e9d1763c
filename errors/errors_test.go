package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormat(t *testing.T) {
	err := NewError(ErrNetworkTimeout, "request timed out")
	assert.Equal(t, "[NETWORK_TIMEOUT] request timed out", err.Error())

	cause := stderrors.New("dial tcp: timeout")
	wrapped := NewErrorWithCause(ErrNetworkError, "request failed", cause)
	assert.Equal(t, "[NETWORK_ERROR] request failed: dial tcp: timeout", wrapped.Error())
	assert.Equal(t, cause, stderrors.Unwrap(wrapped))
}

func TestRecoverability(t *testing.T) {
	recoverable := []ErrorCode{
		ErrInitTimeout,
		ErrNetworkError,
		ErrNetworkTimeout,
		ErrNetworkRateLimited,
		ErrNetworkServerError,
		ErrCircuitOpen,
		ErrEventSendFailed,
		ErrStreamTokenExpired,
		ErrStreamUnavailable,
	}
	for _, code := range recoverable {
		assert.True(t, NewError(code, "x").Recoverable, "code %s should be recoverable", code)
	}

	nonRecoverable := []ErrorCode{
		ErrInitFailed,
		ErrAuthInvalidKey,
		ErrAuthUnauthorized,
		ErrAuthForbidden,
		ErrEvalTypeMismatch,
		ErrConfigMissingRequired,
		ErrSecuritySignatureInvalid,
		ErrStreamSuspended,
		ErrInternal,
	}
	for _, code := range nonRecoverable {
		assert.False(t, NewError(code, "x").Recoverable, "code %s should not be recoverable", code)
	}
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(NewError(ErrNetworkError, "x")))
	assert.False(t, IsRecoverable(NewError(ErrAuthUnauthorized, "x")))
	assert.False(t, IsRecoverable(stderrors.New("plain error")))
	assert.False(t, IsRecoverable(nil))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrNetworkTimeout, CodeOf(NewError(ErrNetworkTimeout, "x")))
	assert.Equal(t, ErrInternal, CodeOf(stderrors.New("plain")))
}

func TestSanitizeErrorMessage(t *testing.T) {
	cfg := ErrorSanitizationConfig{Enabled: true}

	cases := map[string]string{
		"failed to read /etc/flagkit/cache.json":    "failed to read [PATH]",
		"connect to 192.168.1.50 refused":           "connect to [IP] refused",
		"key sdk_abcdef1234567890 rejected":         "key sdk_[REDACTED] rejected",
		"key srv_abcdef1234567890 rejected":         "key srv_[REDACTED] rejected",
		"user test@example.com not found":           "user [EMAIL] not found",
		"dsn postgres://u:p@host/db unreachable":    "dsn [CONNECTION_STRING] unreachable",
		"token eyJhbGci.eyJzdWIi.SflKxwRJ expired":  "token [JWT] expired",
	}

	for input, expected := range cases {
		assert.Equal(t, expected, SanitizeErrorMessage(input, cfg), "input: %s", input)
	}
}

func TestSanitizationDisabledByDefault(t *testing.T) {
	msg := "key sdk_abcdef1234567890 rejected"
	assert.Equal(t, msg, SanitizeErrorMessage(msg, ErrorSanitizationConfig{}))
}

func TestErrorsSanitizedAtConstruction(t *testing.T) {
	SetDefaultSanitizationConfig(ErrorSanitizationConfig{Enabled: true})
	defer SetDefaultSanitizationConfig(ErrorSanitizationConfig{})

	err := NewError(ErrAuthInvalidKey, "rejected key sdk_abcdef1234567890")
	assert.NotContains(t, err.Message, "sdk_abcdef1234567890")
	assert.Contains(t, err.Message, "sdk_[REDACTED]")

	cause := stderrors.New("dial 10.0.0.1 failed")
	wrapped := NewErrorWithCause(ErrNetworkError, "request failed", cause)
	assert.NotContains(t, wrapped.Error(), "10.0.0.1")

	require.ErrorIs(t, wrapped, cause)
}
