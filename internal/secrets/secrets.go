// Package secrets decrypts tenant-supplied provider keys with the
// process-wide encryption key. Keys are stored by the admin backend as
// base64(nonce || AES-256-GCM ciphertext).
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Box seals and opens vendor key material.
type Box struct {
	key [32]byte
}

// NewBox derives the AES key from the configured encryption key string.
func NewBox(encryptionKey string) (*Box, error) {
	if encryptionKey == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	return &Box{key: sha256.Sum256([]byte(encryptionKey))}, nil
}

// Open decrypts an encrypted vendor key.
func (b *Box) Open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode vendor key: %w", err)
	}

	gcm, err := b.gcm()
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("vendor key ciphertext too short")
	}

	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt vendor key: %w", err)
	}
	return string(plaintext), nil
}

// Seal encrypts key material. Used by tests and tooling; the gateway itself
// only decrypts.
func (b *Box) Seal(plaintext string) (string, error) {
	gcm, err := b.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
