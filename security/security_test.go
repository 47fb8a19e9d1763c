package security

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teracrafts/flagkit-go/config"
	"github.com/teracrafts/flagkit-go/errors"
)

func TestGenerateHMACSHA256Deterministic(t *testing.T) {
	sig1 := GenerateHMACSHA256("1700000000000."+`{"a":1,"b":2}`, "sdk_key_12345678")
	sig2 := GenerateHMACSHA256("1700000000000."+`{"a":1,"b":2}`, "sdk_key_12345678")

	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 64)
	assert.Equal(t, strings.ToLower(sig1), sig1)

	// A different key or message changes the digest.
	assert.NotEqual(t, sig1, GenerateHMACSHA256("1700000000000."+`{"a":1,"b":2}`, "sdk_key_87654321"))
	assert.NotEqual(t, sig1, GenerateHMACSHA256("1700000000001."+`{"a":1,"b":2}`, "sdk_key_12345678"))
}

func TestCanonicalizeSortsKeysAtEveryDepth(t *testing.T) {
	a := map[string]any{
		"b": 2,
		"a": 1,
		"nested": map[string]any{
			"z": []any{1, "two", map[string]any{"y": true, "x": false}},
			"a": nil,
		},
	}
	b := map[string]any{
		"nested": map[string]any{
			"a": nil,
			"z": []any{1, "two", map[string]any{"x": false, "y": true}},
		},
		"a": 1,
		"b": 2,
	}

	ca, err := CanonicalizeObject(a)
	require.NoError(t, err)
	cb, err := CanonicalizeObject(b)
	require.NoError(t, err)

	assert.Equal(t, ca, cb)
	assert.Equal(t, `{"a":1,"b":2,"nested":{"a":null,"z":[1,"two",{"x":false,"y":true}]}}`, ca)
}

func TestCanonicalizeIntegralFloats(t *testing.T) {
	// JSON decoding yields float64; integral values must render without a
	// fraction so both sides of the wire canonicalize identically.
	c, err := CanonicalizeObject(map[string]any{"n": float64(42), "f": 1.5})
	require.NoError(t, err)
	assert.Equal(t, `{"f":1.5,"n":42}`, c)
}

func TestCanonicalizeEmpty(t *testing.T) {
	c, err := CanonicalizeObject(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", c)

	c, err = CanonicalizeObject(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "{}", c)
}

func TestRequestSignatureRoundTrip(t *testing.T) {
	body := `{"events":[]}`
	key := "sdk_key_12345678"

	sig := CreateRequestSignature(body, key)
	assert.Equal(t, "sdk_key_", sig.KeyID)

	assert.True(t, VerifyRequestSignature(body, sig.Signature, sig.Timestamp, key, 0))

	// Any byte flip invalidates the signature.
	assert.False(t, VerifyRequestSignature(body+" ", sig.Signature, sig.Timestamp, key, 0))
	tampered := "0" + sig.Signature[1:]
	if tampered == sig.Signature {
		tampered = "1" + sig.Signature[1:]
	}
	assert.False(t, VerifyRequestSignature(body, tampered, sig.Timestamp, key, 0))
	assert.False(t, VerifyRequestSignature(body, sig.Signature, sig.Timestamp, "sdk_key_87654321", 0))
}

func TestVerifyRequestSignatureExpiry(t *testing.T) {
	body := `{"a":1}`
	key := "sdk_key_12345678"
	maxAge := int64(1000)

	old := time.Now().UnixMilli() - maxAge - 1
	message := strconv.FormatInt(old, 10) + "." + body
	sig := GenerateHMACSHA256(message, key)
	assert.False(t, VerifyRequestSignature(body, sig, old, key, maxAge))

	fresh := time.Now().UnixMilli() - maxAge/2
	message = strconv.FormatInt(fresh, 10) + "." + body
	sig = GenerateHMACSHA256(message, key)
	assert.True(t, VerifyRequestSignature(body, sig, fresh, key, maxAge))
}

func TestVerifyRequestSignatureClockSkew(t *testing.T) {
	body := `{"a":1}`
	key := "sdk_key_12345678"

	// Slightly in the future: tolerated.
	near := time.Now().UnixMilli() + 4*60*1000
	message := strconv.FormatInt(near, 10) + "." + body
	sig := GenerateHMACSHA256(message, key)
	assert.True(t, VerifyRequestSignature(body, sig, near, key, 0))

	// Beyond the skew tolerance: rejected even with a valid digest.
	far := time.Now().UnixMilli() + 6*60*1000
	message = strconv.FormatInt(far, 10) + "." + body
	sig = GenerateHMACSHA256(message, key)
	assert.False(t, VerifyRequestSignature(body, sig, far, key, 0))
}

func TestBootstrapSignatureRoundTrip(t *testing.T) {
	flags := map[string]any{"dark-mode": true, "limit": 42}
	key := "sdk_key_12345678"
	cfg := config.BootstrapVerificationConfig{Enabled: true, MaxAge: time.Hour}

	bootstrap, err := CreateBootstrapSignature(flags, key)
	require.NoError(t, err)

	valid, err := VerifyBootstrapSignature(*bootstrap, key, cfg)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestBootstrapSignatureMismatch(t *testing.T) {
	key := "sdk_key_12345678"
	cfg := config.BootstrapVerificationConfig{Enabled: true, MaxAge: time.Hour}

	bootstrap, err := CreateBootstrapSignature(map[string]any{"dark-mode": true}, key)
	require.NoError(t, err)

	bootstrap.Flags["dark-mode"] = false
	valid, err := VerifyBootstrapSignature(*bootstrap, key, cfg)
	assert.False(t, valid)
	assert.Equal(t, errors.ErrSecuritySignatureInvalid, errors.CodeOf(err))
}

func TestBootstrapSignatureExpired(t *testing.T) {
	key := "sdk_key_12345678"
	cfg := config.BootstrapVerificationConfig{Enabled: true, MaxAge: time.Minute}

	bootstrap, err := CreateBootstrapSignature(map[string]any{"dark-mode": true}, key)
	require.NoError(t, err)
	bootstrap.Timestamp -= 2 * time.Minute.Milliseconds()

	valid, err := VerifyBootstrapSignature(*bootstrap, key, cfg)
	assert.False(t, valid)
	assert.Equal(t, errors.ErrSecurityBootstrapExpired, errors.CodeOf(err))
}

func TestBootstrapVerificationSkipped(t *testing.T) {
	key := "sdk_key_12345678"

	// Disabled verification accepts anything.
	valid, err := VerifyBootstrapSignature(config.BootstrapConfig{
		Flags:     map[string]any{"a": 1},
		Signature: "garbage",
		Timestamp: 1,
	}, key, config.BootstrapVerificationConfig{Enabled: false})
	require.NoError(t, err)
	assert.True(t, valid)

	// Legacy unsigned bootstrap passes with verification enabled.
	valid, err = VerifyBootstrapSignature(config.BootstrapConfig{
		Flags: map[string]any{"a": 1},
	}, key, config.BootstrapVerificationConfig{Enabled: true, MaxAge: time.Hour})
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestKeyClassification(t *testing.T) {
	assert.True(t, IsClientKey("sdk_abc12345"))
	assert.True(t, IsClientKey("cli_abc12345"))
	assert.False(t, IsClientKey("srv_abc12345"))
	assert.True(t, IsServerKey("srv_abc12345"))
	assert.Equal(t, "sdk_abcd", GetKeyID("sdk_abcdefgh123"))
	assert.Equal(t, "short", GetKeyID("short"))
}
