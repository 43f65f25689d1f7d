package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const x25519Label = "X25519-from-Ed25519:"

// DeriveX25519 derives a box key pair from an Ed25519 seed so that a single
// wallet seed yields both signing and encryption keys.
func DeriveX25519(edPriv ed25519.PrivateKey) (pub, priv [32]byte, err error) {
	if len(edPriv) != ed25519.PrivateKeySize {
		return pub, priv, fmt.Errorf("invalid Ed25519 private key size")
	}

	h := sha256.New()
	h.Write([]byte(x25519Label))
	h.Write(edPriv.Seed())
	scalar := h.Sum(nil)

	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	copy(priv[:], scalar)
	ZeroBytes(scalar)

	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, err
	}
	copy(pub[:], p)
	return pub, priv, nil
}

// HashHex returns the hex SHA-256 digest of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint is a short display identifier for a public key.
func Fingerprint(pub []byte) string {
	return HashHex(pub)[:16]
}

// DeriveKey expands secret into a 32-byte key with HKDF-SHA256.
func DeriveKey(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, ContentKeySize)
	r := hkdf.New(sha256.New, secret, salt, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
