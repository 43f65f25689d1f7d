// Package mailbox is the local stand-in for the ledger transport: it
// persists delivered messages, hands back a delivery reference and keeps
// the inbox/outbox index.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"secure.mail/internal/clock"
	"secure.mail/internal/crypto"
	"secure.mail/internal/logging"
	"secure.mail/internal/models"
	"secure.mail/internal/signing"
	"secure.mail/internal/store"
)

const (
	messagePrefix = "message_"
	proofPrefix   = "proof_"
	emailsKey     = "emails"
)

var ErrNotFound = errors.New("message not found")

type proofRecord struct {
	PayloadHash string `json:"payloadHash"`
	Signature   string `json:"signature"`
	AnchoredAt  int64  `json:"anchoredAt"`
}

// LocalLedger delivers messages into the local store. It also anchors
// signature proofs so they can be checked later.
type LocalLedger struct {
	store store.Store
	clock clock.Clock
	log   *zerolog.Logger
}

var _ signing.ProofService = (*LocalLedger)(nil)

func NewLocalLedger(s store.Store, clk clock.Clock, log *zerolog.Logger) *LocalLedger {
	if clk == nil {
		clk = clock.System{}
	}
	return &LocalLedger{
		store: s,
		clock: clk,
		log:   logging.Component(log, "mailbox"),
	}
}

func messageKey(id string) string { return messagePrefix + id }

// Deliver persists msg and indexes it for both parties. The returned
// reference is the SHA-256 of the delivered payload.
func (l *LocalLedger) Deliver(ctx context.Context, msg *models.SecureMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("%w: encoding message %s: %v", models.ErrStorage, msg.ID, err)
	}
	ref := crypto.HashHex(data)

	if err := l.store.Set(ctx, messageKey(msg.ID), data, 0); err != nil {
		return "", err
	}

	entry := models.Email{
		ID:            msg.ID,
		From:          msg.From,
		To:            msg.To,
		Subject:       msg.Subject,
		DeliveryRef:   ref,
		SecurityLevel: msg.SecurityLevel,
		SelfDestruct:  msg.SelfDestructRecord != nil,
		CreatedAt:     msg.CreatedAt,
	}
	err = l.updateIndex(ctx, func(emails []models.Email) []models.Email {
		emails = slices.DeleteFunc(emails, func(e models.Email) bool { return e.ID == msg.ID })
		return append(emails, entry)
	})
	if err != nil {
		return "", err
	}

	l.log.Info().
		Str("message_id", msg.ID).
		Str("from", logging.Redact(msg.From)).
		Str("to", logging.Redact(msg.To)).
		Str("ref", ref[:16]).
		Msg("message delivered")

	return ref, nil
}

// Load returns the delivered message with id.
func (l *LocalLedger) Load(ctx context.Context, id string) (*models.SecureMessage, error) {
	var msg models.SecureMessage
	if err := store.GetJSON(ctx, l.store, messageKey(id), &msg); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// Inbox lists messages addressed to address, newest first.
func (l *LocalLedger) Inbox(ctx context.Context, address string) ([]models.Email, error) {
	return l.list(ctx, func(e models.Email) bool { return e.To == address })
}

// Outbox lists messages sent by address, newest first.
func (l *LocalLedger) Outbox(ctx context.Context, address string) ([]models.Email, error) {
	return l.list(ctx, func(e models.Email) bool { return e.From == address })
}

func (l *LocalLedger) list(ctx context.Context, keep func(models.Email) bool) ([]models.Email, error) {
	emails, err := l.index(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Email, 0, len(emails))
	for _, e := range emails {
		if keep(e) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Email) int {
		switch {
		case a.CreatedAt > b.CreatedAt:
			return -1
		case a.CreatedAt < b.CreatedAt:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Purge removes a destroyed message and its index entry.
func (l *LocalLedger) Purge(ctx context.Context, id string) error {
	if err := l.store.Delete(ctx, messageKey(id)); err != nil {
		return err
	}
	return l.updateIndex(ctx, func(emails []models.Email) []models.Email {
		return slices.DeleteFunc(emails, func(e models.Email) bool { return e.ID == id })
	})
}

func (l *LocalLedger) index(ctx context.Context) ([]models.Email, error) {
	var emails []models.Email
	if err := store.GetJSON(ctx, l.store, emailsKey, &emails); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return emails, nil
}

func (l *LocalLedger) updateIndex(ctx context.Context, fn func([]models.Email) []models.Email) error {
	return l.store.Update(ctx, emailsKey, func(current []byte) ([]byte, error) {
		var emails []models.Email
		if current != nil {
			if err := json.Unmarshal(current, &emails); err != nil {
				return nil, fmt.Errorf("%w: decoding %s: %v", models.ErrStorage, emailsKey, err)
			}
		}
		emails = fn(emails)
		if len(emails) == 0 {
			return nil, nil
		}
		return json.Marshal(emails)
	})
}

// Anchor records a signature proof and returns its reference.
func (l *LocalLedger) Anchor(ctx context.Context, payload []byte, signature string) (string, error) {
	now := l.clock.Now().UnixMilli()
	ref := signing.ProofRef(payload, signature, now)

	rec := proofRecord{
		PayloadHash: crypto.HashHex(payload),
		Signature:   signature,
		AnchoredAt:  now,
	}
	if err := store.SetJSON(ctx, l.store, proofPrefix+ref, rec, 0); err != nil {
		return "", err
	}
	return ref, nil
}

// Verify reports whether ref was anchored by this ledger.
func (l *LocalLedger) Verify(ctx context.Context, ref string) (bool, error) {
	if !signing.ValidProofRef(ref) {
		return false, nil
	}
	_, err := l.store.Get(ctx, proofPrefix+strings.ToLower(ref))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}
