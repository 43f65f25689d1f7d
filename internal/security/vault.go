package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"secure.mail/internal/crypto"
	"secure.mail/internal/logging"
	"secure.mail/internal/models"
	"secure.mail/internal/store"
	"secure.mail/internal/wallet"
)

const (
	vaultPrefix  = "zk_"
	vaultKeyInfo = "secure-mail/vault/v1"
	// signed by the owner's wallet to derive the vault key; Ed25519
	// signatures are deterministic so the key is stable per wallet.
	vaultKeyChallenge = "secure-mail/vault-key:"
)

var ErrNotInVault = errors.New("message not found in vault")

type vaultEntry struct {
	MessageID  string `json:"id"`
	ServerSide bool   `json:"serverSide"`
	Blob       []byte `json:"blob"`
}

// Vault keeps an owner-only copy of composed messages. Entries are sealed
// under a key only the owner's wallet can reproduce; the server key adds a
// second layer when requested.
type Vault struct {
	store  store.Store
	sealer *crypto.Sealer
	log    *zerolog.Logger
}

// NewVault creates a vault. sealer may be nil, in which case server-side
// wrapping is unavailable.
func NewVault(s store.Store, sealer *crypto.Sealer, log *zerolog.Logger) *Vault {
	return &Vault{
		store:  s,
		sealer: sealer,
		log:    logging.Component(log, "vault"),
	}
}

func vaultKey(owner, id string) string {
	return vaultPrefix + crypto.HashHex([]byte(owner))[:16] + "_" + id
}

func ownerKey(owner wallet.Signer, id string) ([]byte, error) {
	secret, err := owner.Sign([]byte(vaultKeyChallenge + owner.Address()))
	if err != nil {
		return nil, fmt.Errorf("%w: deriving vault key: %v", models.ErrCrypto, err)
	}
	return crypto.DeriveKey(secret, []byte(owner.Address()), vaultKeyInfo+":"+id)
}

// Seal stores msg for owner.
func (v *Vault) Seal(ctx context.Context, msg *models.SecureMessage, owner wallet.Signer, serverSide bool) error {
	if serverSide && v.sealer == nil {
		return fmt.Errorf("%w: server-side encryption needs a server key", models.ErrUnsupportedConfig)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encoding message: %v", models.ErrStorage, err)
	}

	key, err := ownerKey(owner, msg.ID)
	if err != nil {
		return err
	}
	defer crypto.ZeroBytes(key)

	name := vaultKey(owner.Address(), msg.ID)
	blob, err := crypto.Seal(models.AlgorithmHybrid, key, data, []byte(name))
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCrypto, err)
	}
	if serverSide {
		if blob, err = v.sealer.Seal(blob); err != nil {
			return fmt.Errorf("%w: %v", models.ErrCrypto, err)
		}
	}

	entry := vaultEntry{MessageID: msg.ID, ServerSide: serverSide, Blob: blob}
	if err := store.SetJSON(ctx, v.store, name, entry, 0); err != nil {
		return err
	}

	v.log.Debug().
		Str("message_id", msg.ID).
		Str("owner", logging.Redact(owner.Address())).
		Bool("server_side", serverSide).
		Msg("message sealed in vault")
	return nil
}

// Open returns the owner's copy of message id.
func (v *Vault) Open(ctx context.Context, id string, owner wallet.Signer) (*models.SecureMessage, error) {
	name := vaultKey(owner.Address(), id)

	var entry vaultEntry
	if err := store.GetJSON(ctx, v.store, name, &entry); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotInVault
		}
		return nil, err
	}

	blob := entry.Blob
	if entry.ServerSide {
		if v.sealer == nil {
			return nil, fmt.Errorf("%w: server key unavailable", models.ErrDecryptionFailed)
		}
		var err error
		if blob, err = v.sealer.Open(blob); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrDecryptionFailed, err)
		}
	}

	key, err := ownerKey(owner, id)
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(key)

	data, err := crypto.Open(models.AlgorithmHybrid, key, blob, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDecryptionFailed, err)
	}

	var msg models.SecureMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: decoding vault entry: %v", models.ErrStorage, err)
	}
	return &msg, nil
}

// Purge removes every vault entry for message id.
func (v *Vault) Purge(ctx context.Context, id string) error {
	keys, err := v.store.Keys(ctx, vaultPrefix)
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if strings.HasSuffix(k, "_"+id) {
			if err := v.store.Delete(ctx, k); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
