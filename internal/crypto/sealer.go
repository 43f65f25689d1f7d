package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Sealer provides server-side AES-GCM encryption with a configured key.
// Format: nonce || ciphertext.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer constructs an AES-GCM sealer. Key must be 16, 24, or 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	n := len(key)
	if n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("server key must be 16, 24, or 32 bytes; got %d", n)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Sealer) Open(data []byte) ([]byte, error) {
	ns := s.gcm.NonceSize()
	if len(data) < ns {
		return nil, ErrCiphertextTooShort
	}
	pt, err := s.gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return pt, nil
}
