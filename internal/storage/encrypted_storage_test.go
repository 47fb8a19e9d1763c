package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teracrafts/flagkit-go/errors"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("sdk_abcdef123456")
	require.NoError(t, err)

	plaintext := []byte(`{"dark-mode":true,"limit":42}`)
	blob, err := enc.Encrypt(plaintext)
	require.NoError(t, err)

	// The blob is JSON with the expected shape and no plaintext leakage.
	var data EncryptedData
	require.NoError(t, json.Unmarshal(blob, &data))
	assert.Equal(t, 1, data.Version)
	assert.NotEmpty(t, data.IV)
	assert.NotContains(t, string(blob), "dark-mode")

	decrypted, err := enc.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	enc, err := NewEncryptor("sdk_abcdef123456")
	require.NoError(t, err)

	blob1, err := enc.Encrypt([]byte("payload"))
	require.NoError(t, err)
	blob2, err := enc.Encrypt([]byte("payload"))
	require.NoError(t, err)

	assert.NotEqual(t, blob1, blob2)
}

func TestDecryptRejectsTamperedBlob(t *testing.T) {
	enc, err := NewEncryptor("sdk_abcdef123456")
	require.NoError(t, err)

	blob, err := enc.Encrypt([]byte("payload"))
	require.NoError(t, err)

	var data EncryptedData
	require.NoError(t, json.Unmarshal(blob, &data))
	replacement := "AAAA"
	if data.Data[:4] == replacement {
		replacement = "BBBB"
	}
	data.Data = replacement + data.Data[4:]
	tampered, _ := json.Marshal(data)

	_, err = enc.Decrypt(tampered)
	require.Error(t, err)
	assert.Equal(t, errors.ErrSecurityDecryptionFailed, errors.CodeOf(err))
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc1, err := NewEncryptor("sdk_abcdef123456")
	require.NoError(t, err)
	enc2, err := NewEncryptor("sdk_fedcba654321")
	require.NoError(t, err)

	blob, err := enc1.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = enc2.Decrypt(blob)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, err := NewEncryptor("sdk_abcdef123456")
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte("not json"))
	assert.Error(t, err)

	_, err = enc.Decrypt([]byte(`{"iv":"!!","data":"!!","version":1}`))
	assert.Error(t, err)

	_, err = enc.Decrypt([]byte(`{"iv":"","data":"","version":9}`))
	assert.Error(t, err)
}

func TestSameKeyDerivesSameCipher(t *testing.T) {
	enc1, err := NewEncryptor("sdk_abcdef123456")
	require.NoError(t, err)
	enc2, err := NewEncryptor("sdk_abcdef123456")
	require.NoError(t, err)

	blob, err := enc1.Encrypt([]byte("payload"))
	require.NoError(t, err)

	decrypted, err := enc2.Decrypt(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), decrypted)
}
