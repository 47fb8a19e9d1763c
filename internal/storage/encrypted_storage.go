// Package storage provides encryption for persisted cache blobs. The key
// is derived from the API key so cached flag data is unreadable without
// the credential it was written under.
package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"

	"golang.org/x/crypto/pbkdf2"

	"github.com/teracrafts/flagkit-go/errors"
)

const (
	// keyDerivationSalt is fixed so the same API key always derives the
	// same storage key.
	keyDerivationSalt = "FlagKit-v1-cache"

	keyDerivationIterations = 100000
	derivedKeyLength        = 32

	// formatVersion identifies the blob layout for forward compatibility.
	formatVersion = 1
)

// EncryptedData is the serialized form of an encrypted blob.
type EncryptedData struct {
	IV      string `json:"iv"`
	Data    string `json:"data"`
	Version int    `json:"version"`
}

// Encryptor encrypts and decrypts storage blobs with AES-256-GCM.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives a storage key from the API key using PBKDF2-SHA256.
func NewEncryptor(apiKey string) (*Encryptor, error) {
	key := pbkdf2.Key([]byte(apiKey), []byte(keyDerivationSalt), keyDerivationIterations, derivedKeyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrSecurityEncryptionFailed, "failed to create cipher", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrSecurityEncryptionFailed, "failed to create GCM", err)
	}

	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce and returns the
// serialized blob.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrSecurityEncryptionFailed, "failed to generate nonce", err)
	}

	ciphertext := e.aead.Seal(nil, nonce, plaintext, nil)

	blob := EncryptedData{
		IV:      base64.StdEncoding.EncodeToString(nonce),
		Data:    base64.StdEncoding.EncodeToString(ciphertext),
		Version: formatVersion,
	}

	out, err := json.Marshal(blob)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrSecurityEncryptionFailed, "failed to serialize encrypted blob", err)
	}
	return out, nil
}

// Decrypt opens a serialized blob. Tampered or foreign blobs fail
// authentication and return a decryption error.
func (e *Encryptor) Decrypt(data []byte) ([]byte, error) {
	var blob EncryptedData
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrSecurityDecryptionFailed, "failed to parse encrypted blob", err)
	}

	if blob.Version != formatVersion {
		return nil, errors.NewError(errors.ErrSecurityDecryptionFailed, "unsupported encrypted blob version")
	}

	nonce, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrSecurityDecryptionFailed, "invalid nonce encoding", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrSecurityDecryptionFailed, "invalid data encoding", err)
	}

	if len(nonce) != e.aead.NonceSize() {
		return nil, errors.NewError(errors.ErrSecurityDecryptionFailed, "invalid nonce length")
	}

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.NewErrorWithCause(errors.ErrSecurityDecryptionFailed, "decryption failed", err)
	}
	return plaintext, nil
}
