// Package security implements the cryptographic and data-hygiene pieces of
// the SDK: request signing, canonical JSON, bootstrap verification, API key
// classification, and PII field detection.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/errors"
	"github.com/teracrafts/flagkit-go/types"
)

// Type aliases for convenience
type (
	Logger                      = types.Logger
	BootstrapConfig             = config.BootstrapConfig
	BootstrapVerificationConfig = config.BootstrapVerificationConfig
)

// DefaultSignatureMaxAge is the maximum accepted signature age.
const DefaultSignatureMaxAge = 5 * time.Minute

// clockSkewTolerance is how far in the future a timestamp may sit before it
// is rejected.
const clockSkewTolerance = 5 * time.Minute

// GenerateHMACSHA256 generates the lowercase-hex HMAC-SHA256 of message
// under key.
func GenerateHMACSHA256(message, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// GetKeyID returns the first 8 characters of an API key. This is safe to
// expose as it does not reveal the full key.
func GetKeyID(apiKey string) string {
	if len(apiKey) < 8 {
		return apiKey
	}
	return apiKey[:8]
}

// IsServerKey checks if an API key is a server key.
func IsServerKey(apiKey string) bool {
	return strings.HasPrefix(apiKey, "srv_")
}

// IsClientKey checks if an API key is a client/SDK key.
func IsClientKey(apiKey string) bool {
	return strings.HasPrefix(apiKey, "sdk_") || strings.HasPrefix(apiKey, "cli_")
}

// RequestSignature contains signature information for request headers.
type RequestSignature struct {
	Signature string
	Timestamp int64
	KeyID     string
}

// CreateRequestSignature creates a signature for a request body.
// The signed message is "timestamp.body" with the timestamp in decimal
// milliseconds.
func CreateRequestSignature(body, apiKey string) RequestSignature {
	timestamp := time.Now().UnixMilli()
	message := strconv.FormatInt(timestamp, 10) + "." + body
	signature := GenerateHMACSHA256(message, apiKey)

	return RequestSignature{
		Signature: signature,
		Timestamp: timestamp,
		KeyID:     GetKeyID(apiKey),
	}
}

// VerifyRequestSignature verifies a request signature. maxAgeMs is the
// maximum age in milliseconds (0 selects the 5 minute default). Timestamps
// up to 5 minutes in the future are tolerated for clock skew. Never returns
// true under a signature mismatch.
func VerifyRequestSignature(body, signature string, timestamp int64, apiKey string, maxAgeMs int64) bool {
	if maxAgeMs == 0 {
		maxAgeMs = DefaultSignatureMaxAge.Milliseconds()
	}

	age := time.Now().UnixMilli() - timestamp
	if age > maxAgeMs || age < -clockSkewTolerance.Milliseconds() {
		return false
	}

	message := strconv.FormatInt(timestamp, 10) + "." + body
	expected := GenerateHMACSHA256(message, apiKey)

	return hmac.Equal([]byte(signature), []byte(expected))
}

// CanonicalizeObject renders a map as canonical JSON: keys sorted
// lexicographically at every depth, arrays order-preserving, primitives
// rendered as a standard JSON encoder would. Two semantically equal maps
// canonicalize byte-identically.
func CanonicalizeObject(obj map[string]any) (string, error) {
	if obj == nil {
		return "{}", nil
	}
	return canonicalizeValue(obj)
}

// canonicalizeValue recursively canonicalizes a value.
func canonicalizeValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case float64:
		// Integral floats render without a fraction, matching the server's
		// JSON encoder.
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), nil
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return canonicalizeValue(float64(val))
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case string:
		bytes, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(bytes), nil
	case []any:
		return canonicalizeArray(val)
	case map[string]any:
		return canonicalizeMap(val)
	default:
		bytes, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("cannot canonicalize value of type %T: %w", v, err)
		}
		return string(bytes), nil
	}
}

func canonicalizeArray(arr []any) (string, error) {
	if len(arr) == 0 {
		return "[]", nil
	}

	parts := make([]string, len(arr))
	for i, v := range arr {
		canonical, err := canonicalizeValue(v)
		if err != nil {
			return "", err
		}
		parts[i] = canonical
	}

	return "[" + strings.Join(parts, ",") + "]", nil
}

func canonicalizeMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return "", err
		}

		valueCanonical, err := canonicalizeValue(m[k])
		if err != nil {
			return "", err
		}

		parts[i] = string(keyJSON) + ":" + valueCanonical
	}

	return "{" + strings.Join(parts, ",") + "}", nil
}

// VerifyBootstrapSignature verifies the HMAC-SHA256 signature of bootstrap
// data. The signed message is "timestamp.canonicalize(flags)". Returns
// (valid, error) where the error carries the concrete fault kind.
func VerifyBootstrapSignature(bootstrap BootstrapConfig, apiKey string, cfg BootstrapVerificationConfig) (bool, error) {
	// Verification disabled or legacy unsigned bootstrap: nothing to check.
	if !cfg.Enabled || bootstrap.Signature == "" {
		return true, nil
	}

	if cfg.MaxAge > 0 && bootstrap.Timestamp > 0 {
		age := time.Now().UnixMilli() - bootstrap.Timestamp

		if age > cfg.MaxAge.Milliseconds() {
			return false, errors.SecurityError(errors.ErrSecurityBootstrapExpired,
				fmt.Sprintf("bootstrap data is expired: age %dms exceeds max age %dms", age, cfg.MaxAge.Milliseconds()))
		}

		if age < -clockSkewTolerance.Milliseconds() {
			return false, errors.SecurityError(errors.ErrSecurityBootstrapInvalid,
				"bootstrap timestamp is in the future")
		}
	}

	canonical, err := CanonicalizeObject(bootstrap.Flags)
	if err != nil {
		return false, errors.NewErrorWithCause(errors.ErrSecurityBootstrapInvalid,
			"failed to canonicalize bootstrap flags", err)
	}

	message := strconv.FormatInt(bootstrap.Timestamp, 10) + "." + canonical
	expected := GenerateHMACSHA256(message, apiKey)

	if !hmac.Equal([]byte(bootstrap.Signature), []byte(expected)) {
		return false, errors.SecurityError(errors.ErrSecuritySignatureInvalid,
			"bootstrap signature verification failed: signature mismatch")
	}

	return true, nil
}

// CreateBootstrapSignature builds a signed bootstrap configuration. This is
// a helper for generating signed seed data in tooling and tests.
func CreateBootstrapSignature(flags map[string]any, apiKey string) (*BootstrapConfig, error) {
	canonical, err := CanonicalizeObject(flags)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrSecurityBootstrapInvalid,
			"failed to canonicalize flags", err)
	}

	timestamp := time.Now().UnixMilli()
	message := strconv.FormatInt(timestamp, 10) + "." + canonical

	return &BootstrapConfig{
		Flags:     flags,
		Signature: GenerateHMACSHA256(message, apiKey),
		Timestamp: timestamp,
	}, nil
}
