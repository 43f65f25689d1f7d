// Package crypto holds the primitives used by the secure-message pipeline:
// AEAD content ciphers, X25519 key wrapping, Ed25519 key handling and HKDF.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"secure.mail/internal/models"
)

const (
	ContentKeySize = 32
	idPrefix       = "secure_"
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// NewMessageID returns a fresh message identifier.
func NewMessageID() string {
	return idPrefix + uuid.NewString()
}

// GenerateContentKey returns a random single-use 256-bit content key.
func GenerateContentKey() ([]byte, error) {
	key := make([]byte, ContentKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("content key generation failed: %w", err)
	}
	return key, nil
}

// NewAEAD returns the content cipher for an algorithm.
// AES-256 uses AES-GCM, PGP uses ChaCha20-Poly1305 and HYBRID uses
// XChaCha20-Poly1305.
func NewAEAD(alg models.Algorithm, key []byte) (cipher.AEAD, error) {
	switch alg {
	case models.AlgorithmAES256:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("cipher creation failed: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("GCM creation failed: %w", err)
		}
		return gcm, nil
	case models.AlgorithmPGP:
		return chacha20poly1305.New(key)
	case models.AlgorithmHybrid:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%w: content cipher %q", models.ErrUnsupportedConfig, alg)
	}
}

// Seal encrypts plaintext and returns nonce || ciphertext. additionalData is
// authenticated but not encrypted.
func Seal(alg models.Algorithm, key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := NewAEAD(alg, key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation failed: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Open reverses Seal.
func Open(alg models.Algorithm, key, sealed, additionalData []byte) ([]byte, error) {
	aead, err := NewAEAD(alg, key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}

	nonce := sealed[:aead.NonceSize()]
	ciphertext := sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}
