// Package crypto provides AES-256-GCM encryption for OAuth tokens stored
// at rest. The key comes from the TOKEN_ENCRYPTION_KEY environment variable;
// keys that are not exactly 32 bytes are derived through SHA-256.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	ErrKeyMissing         = errors.New("crypto: encryption key not configured")
	ErrInvalidCiphertext  = errors.New("crypto: invalid ciphertext")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
)

// Encryptor encrypts and decrypts short secrets with AES-256-GCM.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor builds an Encryptor from a key of any length. Keys that are
// not 32 bytes are stretched or compressed via SHA-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return nil, ErrKeyMissing
	}
	if len(key) != 32 {
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm init: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	ns := e.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrInvalidCiphertext
	}
	nonce, ciphertext := raw[:ns], raw[ns:]
	plain, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// ============================================================
// Global instance
// ============================================================

var (
	global     *Encryptor
	globalOnce sync.Once
	globalErr  error
)

// Init initializes the package-level encryptor from TOKEN_ENCRYPTION_KEY.
// Safe to call multiple times; only the first call does work.
func Init() error {
	globalOnce.Do(func() {
		key := os.Getenv("TOKEN_ENCRYPTION_KEY")
		if key == "" {
			globalErr = ErrKeyMissing
			return
		}
		global, globalErr = NewEncryptor([]byte(key))
	})
	return globalErr
}

// EncryptToken encrypts a token with the package-level encryptor.
func EncryptToken(token string) (string, error) {
	if err := Init(); err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	return global.Encrypt(token)
}

// DecryptToken decrypts a token with the package-level encryptor.
func DecryptToken(token string) (string, error) {
	if err := Init(); err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	return global.Decrypt(token)
}

// IsEncrypted reports whether the value looks like output of Encrypt.
// 28 bytes is the minimum sealed size: a 12 byte nonce plus a 16 byte tag.
func IsEncrypted(value string) bool {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return false
	}
	return len(raw) >= 28
}
