// Package encryption seals message content for a single recipient: a random
// content key encrypts the body and is wrapped to the recipient's box key,
// and the sender signs the plaintext.
package encryption

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"secure.mail/internal/clock"
	"secure.mail/internal/crypto"
	"secure.mail/internal/logging"
	"secure.mail/internal/models"
	"secure.mail/internal/wallet"
)

// Decrypted is the result of a successful DecryptMessage.
type Decrypted struct {
	Content string
	// DeleteAfterRead tells the caller to record the read with the
	// scheduler; decryption itself never touches read counts.
	DeleteAfterRead bool
}

type Encryptor struct {
	clock clock.Clock
	log   *zerolog.Logger
}

func New(clk clock.Clock, log *zerolog.Logger) *Encryptor {
	if clk == nil {
		clk = clock.System{}
	}
	return &Encryptor{
		clock: clk,
		log:   logging.Component(log, "encryptor"),
	}
}

// contentMessage is what the sender signs: the content digest bound to the
// envelope timestamp.
func contentMessage(content string, ts int64) []byte {
	return []byte("secure-mail/content:" + crypto.HashHex([]byte(content)) + ":" + strconv.FormatInt(ts, 10))
}

func additionalData(meta models.EnvelopeMetadata) ([]byte, error) {
	return json.Marshal(meta)
}

// EncryptMessage encrypts content for recipient and signs it as sender.
// Self-destruct metadata travels inside the envelope and is authenticated
// together with the rest of the metadata.
func (e *Encryptor) EncryptMessage(
	ctx context.Context,
	content string,
	recipient wallet.PublicKeys,
	sender wallet.Signer,
	alg models.Algorithm,
	selfDestruct *models.SelfDestructMeta,
) (models.EncryptedEnvelope, error) {
	if !alg.Valid() {
		return models.EncryptedEnvelope{}, fmt.Errorf("%w: encryption algorithm %q", models.ErrUnsupportedConfig, alg)
	}

	key, err := crypto.GenerateContentKey()
	if err != nil {
		return models.EncryptedEnvelope{}, fmt.Errorf("%w: %v", models.ErrCrypto, err)
	}
	defer crypto.ZeroBytes(key)

	meta := models.EnvelopeMetadata{
		Algorithm:               alg,
		RecipientKeyFingerprint: crypto.Fingerprint(recipient.BoxKey[:]),
		SelfDestruct:            selfDestruct,
	}
	aad, err := additionalData(meta)
	if err != nil {
		return models.EncryptedEnvelope{}, fmt.Errorf("%w: encoding metadata: %v", models.ErrCrypto, err)
	}

	sealed, err := crypto.Seal(alg, key, []byte(content), aad)
	if err != nil {
		return models.EncryptedEnvelope{}, fmt.Errorf("%w: %v", models.ErrCrypto, err)
	}

	wrapped, err := crypto.WrapKey(key, &recipient.BoxKey)
	if err != nil {
		return models.EncryptedEnvelope{}, fmt.Errorf("%w: %v", models.ErrCrypto, err)
	}

	ts := e.clock.Now().UnixMilli()
	sig, err := sender.Sign(contentMessage(content, ts))
	if err != nil {
		return models.EncryptedEnvelope{}, fmt.Errorf("%w: signing content: %v", models.ErrCrypto, err)
	}

	e.log.Debug().
		Str("algorithm", string(alg)).
		Str("recipient", logging.Redact(recipient.Address)).
		Bool("self_destruct", selfDestruct != nil).
		Msg("message encrypted")

	return models.EncryptedEnvelope{
		CipherContent:     base64.StdEncoding.EncodeToString(sealed),
		WrappedContentKey: base64.StdEncoding.EncodeToString(wrapped),
		SignatureValue:    base64.StdEncoding.EncodeToString(sig),
		Timestamp:         ts,
		Metadata:          meta,
	}, nil
}

// Passthrough builds the placeholder envelope used when encryption is
// disabled. It carries the content in the clear.
func (e *Encryptor) Passthrough(content string, selfDestruct *models.SelfDestructMeta) models.EncryptedEnvelope {
	return models.EncryptedEnvelope{
		CipherContent: content,
		Timestamp:     e.clock.Now().UnixMilli(),
		Metadata: models.EnvelopeMetadata{
			Algorithm:    models.AlgorithmNone,
			SelfDestruct: selfDestruct,
		},
	}
}

// DecryptMessage opens env as recipient and checks the sender signature.
// Failures are ErrExpired, ErrTamperedSignature or ErrDecryptionFailed;
// it never panics past its boundary.
func (e *Encryptor) DecryptMessage(
	ctx context.Context,
	env models.EncryptedEnvelope,
	recipient wallet.KeyOpener,
	sender wallet.PublicKeys,
) (out Decrypted, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("decryption aborted")
			out, err = Decrypted{}, models.ErrDecryptionFailed
		}
	}()

	deleteAfterRead := false
	if sd := env.Metadata.SelfDestruct; sd != nil {
		if sd.ExpiresAt > 0 && e.clock.Now().UnixMilli() >= sd.ExpiresAt {
			return Decrypted{}, models.ErrExpired
		}
		deleteAfterRead = sd.DeleteAfterRead
	}

	if env.Metadata.Algorithm == models.AlgorithmNone {
		return Decrypted{Content: env.CipherContent, DeleteAfterRead: deleteAfterRead}, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(env.CipherContent)
	if err != nil {
		return Decrypted{}, fmt.Errorf("%w: malformed ciphertext", models.ErrDecryptionFailed)
	}
	wrapped, err := base64.StdEncoding.DecodeString(env.WrappedContentKey)
	if err != nil {
		return Decrypted{}, fmt.Errorf("%w: malformed content key", models.ErrDecryptionFailed)
	}
	sig, err := base64.StdEncoding.DecodeString(env.SignatureValue)
	if err != nil {
		return Decrypted{}, fmt.Errorf("%w: malformed signature", models.ErrDecryptionFailed)
	}

	key, err := recipient.OpenKey(wrapped)
	if err != nil {
		e.log.Debug().Err(err).Str("reader", logging.Redact(recipient.Address())).Msg("content key unwrap failed")
		return Decrypted{}, fmt.Errorf("%w: content key not addressed to reader", models.ErrDecryptionFailed)
	}
	defer crypto.ZeroBytes(key)

	aad, err := additionalData(env.Metadata)
	if err != nil {
		return Decrypted{}, fmt.Errorf("%w: encoding metadata", models.ErrDecryptionFailed)
	}

	plaintext, err := crypto.Open(env.Metadata.Algorithm, key, sealed, aad)
	if err != nil {
		return Decrypted{}, fmt.Errorf("%w: %v", models.ErrDecryptionFailed, err)
	}

	if len(sender.SigningKey) != ed25519.PublicKeySize ||
		!ed25519.Verify(sender.SigningKey, contentMessage(string(plaintext), env.Timestamp), sig) {
		return Decrypted{}, models.ErrTamperedSignature
	}

	return Decrypted{Content: string(plaintext), DeleteAfterRead: deleteAfterRead}, nil
}
