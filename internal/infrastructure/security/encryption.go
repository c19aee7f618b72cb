package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	ErrEmptyKey          = errors.New("empty encryption key")
	ErrInvalidKeyLength  = errors.New("invalid key length")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// SecretCipher seals webhook endpoint secrets before they are written to the
// store. A cipher without a key passes values through unchanged.
type SecretCipher struct {
	key []byte
}

// NewSecretCipher parses key as hex (16, 24 or 32 decoded bytes) or raw
// bytes. An empty key yields a pass-through cipher.
func NewSecretCipher(key string) (*SecretCipher, error) {
	if key == "" {
		return &SecretCipher{}, nil
	}
	keyBytes, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	return &SecretCipher{key: keyBytes}, nil
}

// Enabled reports whether values are actually encrypted.
func (c *SecretCipher) Enabled() bool { return c != nil && len(c.key) > 0 }

// Seal encrypts a secret for storage.
func (c *SecretCipher) Seal(plaintext string) (string, error) {
	if !c.Enabled() || plaintext == "" {
		return plaintext, nil
	}
	return encrypt(plaintext, c.key)
}

// Open decrypts a stored secret.
func (c *SecretCipher) Open(stored string) (string, error) {
	if !c.Enabled() || stored == "" {
		return stored, nil
	}
	return decrypt(stored, c.key)
}

func parseKey(key string) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	// Hex decode the key first if it's a hex string
	keyBytes := []byte(key)
	if len(key) == 32 || len(key) == 48 || len(key) == 64 {
		decoded, err := hex.DecodeString(key)
		if err == nil && (len(decoded) == 16 || len(decoded) == 24 || len(decoded) == 32) {
			keyBytes = decoded
		}
	}

	if len(keyBytes) != 16 && len(keyBytes) != 24 && len(keyBytes) != 32 {
		return nil, fmt.Errorf("%w: %d bytes, must be 16, 24, or 32", ErrInvalidKeyLength, len(keyBytes))
	}
	return keyBytes, nil
}

func encrypt(data string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(data), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decrypt(encrypted string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm open failed: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM failed: %w", err)
	}
	return gcm, nil
}
