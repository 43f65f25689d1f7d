package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const (
	wrapKeySize   = 32
	wrapNonceSize = 24
	wrapHeader    = wrapKeySize + wrapNonceSize
)

// WrapKey encrypts a content key to the recipient's X25519 public key using
// an ephemeral sender key. Output: ephemeralPub || nonce || box.
func WrapKey(contentKey []byte, recipient *[32]byte) ([]byte, error) {
	ephemeralPub, ephemeralPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	defer ZeroBytes(ephemeralPriv[:])

	var nonce [wrapNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := box.Seal(nil, contentKey, &nonce, recipient, ephemeralPriv)

	out := make([]byte, wrapHeader+len(sealed))
	copy(out[:wrapKeySize], ephemeralPub[:])
	copy(out[wrapKeySize:wrapHeader], nonce[:])
	copy(out[wrapHeader:], sealed)
	return out, nil
}

// UnwrapKey recovers a content key wrapped by WrapKey.
func UnwrapKey(wrapped []byte, recipientPriv *[32]byte) ([]byte, error) {
	if len(wrapped) <= wrapHeader {
		return nil, fmt.Errorf("wrapped key too short: got %d bytes", len(wrapped))
	}

	var ephemeralPub [wrapKeySize]byte
	var nonce [wrapNonceSize]byte
	copy(ephemeralPub[:], wrapped[:wrapKeySize])
	copy(nonce[:], wrapped[wrapKeySize:wrapHeader])

	key, ok := box.Open(nil, wrapped[wrapHeader:], &nonce, &ephemeralPub, recipientPriv)
	if !ok {
		return nil, fmt.Errorf("key unwrap failed")
	}
	return key, nil
}

// ZeroBytes overwrites sensitive material in place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
