// Package wallet is the local stand-in for the wallet collaborator: it holds
// Ed25519 signing keys and derived X25519 box keys per address and exposes
// them only through signing and key-unwrapping callables.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"secure.mail/internal/crypto"
	"secure.mail/internal/models"
)

var ErrUnknownAddress = errors.New("unknown wallet address")

var addressPattern = regexp.MustCompile(`^r[0-9A-Za-z]{24,34}$`)

// ValidateAddress checks the XRPL-style address shape.
func ValidateAddress(addr string) error {
	if !addressPattern.MatchString(addr) {
		return models.Validationf("malformed wallet address %q", addr)
	}
	return nil
}

// PublicKeys is what a directory knows about an address.
type PublicKeys struct {
	Address    string            `json:"address"`
	SigningKey ed25519.PublicKey `json:"signingKey"`
	BoxKey     [32]byte          `json:"boxKey"`
}

func (p PublicKeys) SigningKeyHex() string {
	return hex.EncodeToString(p.SigningKey)
}

// Signer produces signatures for a wallet address.
type Signer interface {
	Address() string
	Sign(msg []byte) ([]byte, error)
}

// KeyOpener unwraps content keys addressed to a wallet.
type KeyOpener interface {
	Address() string
	OpenKey(wrapped []byte) ([]byte, error)
}

// Directory resolves public keys by address.
type Directory interface {
	Lookup(ctx context.Context, address string) (PublicKeys, error)
}

// Identity is a locally held wallet.
type Identity struct {
	address string
	signing ed25519.PrivateKey
	boxPub  [32]byte
	boxPriv [32]byte
}

var (
	_ Signer    = (*Identity)(nil)
	_ KeyOpener = (*Identity)(nil)
)

// NewIdentity builds an identity from a 32-byte seed.
func NewIdentity(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	boxPub, boxPriv, err := crypto.DeriveX25519(priv)
	if err != nil {
		return nil, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		address: AddressFor(pub),
		signing: priv,
		boxPub:  boxPub,
		boxPriv: boxPriv,
	}, nil
}

// GenerateIdentity creates an identity from a random seed.
func GenerateIdentity() (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("seed generation failed: %w", err)
	}
	defer crypto.ZeroBytes(seed)
	return NewIdentity(seed)
}

// AddressFor derives the display address for a signing key.
func AddressFor(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "r" + hex.EncodeToString(sum[:16])
}

func (id *Identity) Address() string { return id.address }

func (id *Identity) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(id.signing, msg), nil
}

func (id *Identity) OpenKey(wrapped []byte) ([]byte, error) {
	return crypto.UnwrapKey(wrapped, &id.boxPriv)
}

func (id *Identity) Public() PublicKeys {
	return PublicKeys{
		Address:    id.address,
		SigningKey: id.signing.Public().(ed25519.PublicKey),
		BoxKey:     id.boxPub,
	}
}

// Keyring holds local identities and doubles as their public directory.
type Keyring struct {
	mu         sync.RWMutex
	identities map[string]*Identity
	public     map[string]PublicKeys
}

var _ Directory = (*Keyring)(nil)

func NewKeyring() *Keyring {
	return &Keyring{
		identities: make(map[string]*Identity),
		public:     make(map[string]PublicKeys),
	}
}

// Generate creates and registers a new identity.
func (k *Keyring) Generate() (*Identity, error) {
	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	k.Add(id)
	return id, nil
}

// FromSeed registers the identity derived from seed.
func (k *Keyring) FromSeed(seed []byte) (*Identity, error) {
	id, err := NewIdentity(seed)
	if err != nil {
		return nil, err
	}
	k.Add(id)
	return id, nil
}

func (k *Keyring) Add(id *Identity) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.identities[id.address] = id
	k.public[id.address] = id.Public()
}

// Register records public keys for a wallet held elsewhere.
func (k *Keyring) Register(p PublicKeys) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.public[p.Address] = p
}

// Get returns a locally held identity.
func (k *Keyring) Get(address string) (*Identity, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	id, ok := k.identities[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	return id, nil
}

func (k *Keyring) Lookup(_ context.Context, address string) (PublicKeys, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	p, ok := k.public[address]
	if !ok {
		return PublicKeys{}, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	return p, nil
}
