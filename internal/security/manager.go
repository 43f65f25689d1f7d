// Package security composes the sanitizer, signer, encryptor and
// self-destruct scheduler into the secure message lifecycle.
package security

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"secure.mail/internal/clock"
	"secure.mail/internal/crypto"
	"secure.mail/internal/encryption"
	"secure.mail/internal/logging"
	"secure.mail/internal/metrics"
	"secure.mail/internal/models"
	"secure.mail/internal/sanitize"
	"secure.mail/internal/selfdestruct"
	"secure.mail/internal/signing"
	"secure.mail/internal/wallet"
)

const reasonNotRecipient = "message is not addressed to this wallet"

// Transport delivers composed messages and loads them back.
type Transport interface {
	Deliver(ctx context.Context, msg *models.SecureMessage) (string, error)
	Load(ctx context.Context, id string) (*models.SecureMessage, error)
}

// ComposeRequest carries everything needed to create a secure message.
type ComposeRequest struct {
	Content       string
	Subject       string
	RecipientAddr string
	// SenderAddr is optional; when set it must match Sender.
	SenderAddr string
	Sender     wallet.Signer
	Config     models.SecurityConfig
	// Metadata is client metadata merged into the raw envelope so the
	// sanitizer sees it.
	Metadata    map[string]any
	Attachments []map[string]any
}

type Composed struct {
	Message     *models.SecureMessage
	DeliveryRef string
}

type ReadResult struct {
	Content      string                      `json:"content"`
	Report       models.SecurityReport       `json:"report"`
	Verification models.IdentityVerification `json:"verification"`
	Badge        signing.TrustBadge          `json:"badge"`
	// FinalRead is set when no further reads will be allowed.
	FinalRead bool `json:"finalRead"`
}

type Options struct {
	Sanitizer *sanitize.Sanitizer
	Signer    *signing.Signer
	Encryptor *encryption.Encryptor
	Scheduler *selfdestruct.Scheduler
	Vault     *Vault
	Transport Transport
	Directory wallet.Directory
	Clock     clock.Clock
}

type Manager struct {
	sanitizer *sanitize.Sanitizer
	signer    *signing.Signer
	encryptor *encryption.Encryptor
	scheduler *selfdestruct.Scheduler
	vault     *Vault
	transport Transport
	dir       wallet.Directory
	clock     clock.Clock
	log       *zerolog.Logger
}

func New(opts Options, log *zerolog.Logger) *Manager {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Manager{
		sanitizer: opts.Sanitizer,
		signer:    opts.Signer,
		encryptor: opts.Encryptor,
		scheduler: opts.Scheduler,
		vault:     opts.Vault,
		transport: opts.Transport,
		dir:       opts.Directory,
		clock:     clk,
		log:       logging.Component(log, "manager"),
	}
}

func (m *Manager) validate(ctx context.Context, req ComposeRequest) (wallet.PublicKeys, error) {
	if strings.TrimSpace(req.Content) == "" {
		return wallet.PublicKeys{}, models.Validationf("content is required")
	}
	if req.Sender == nil {
		return wallet.PublicKeys{}, models.Validationf("sender wallet is required")
	}
	if err := wallet.ValidateAddress(req.Sender.Address()); err != nil {
		return wallet.PublicKeys{}, err
	}
	if req.SenderAddr != "" && req.SenderAddr != req.Sender.Address() {
		return wallet.PublicKeys{}, models.Validationf("sender address does not match the signing wallet")
	}
	if err := wallet.ValidateAddress(req.RecipientAddr); err != nil {
		return wallet.PublicKeys{}, err
	}
	if err := req.Config.Validate(); err != nil {
		return wallet.PublicKeys{}, err
	}

	if !req.Config.Encryption.Enabled {
		return wallet.PublicKeys{}, nil
	}
	keys, err := m.dir.Lookup(ctx, req.RecipientAddr)
	if err != nil {
		return wallet.PublicKeys{}, models.Validationf("recipient %s: %v", req.RecipientAddr, err)
	}
	return keys, nil
}

func rawEnvelope(id string, req ComposeRequest, ts int64) models.Envelope {
	env := make(models.Envelope, len(req.Metadata)+6)
	for k, v := range req.Metadata {
		env[k] = v
	}
	env["id"] = id
	env["content"] = req.Content
	env["from"] = req.Sender.Address()
	env["to"] = req.RecipientAddr
	env["timestamp"] = ts
	if req.Subject != "" {
		env["subject"] = req.Subject
	}
	if len(req.Attachments) > 0 {
		env["attachments"] = req.Attachments
	}
	return env
}

// CreateSecureMessage runs the compose pipeline: sanitize, sign, encrypt,
// arm self-destruct, self-verify, score, vault and deliver. The first
// failing step aborts composition.
func (m *Manager) CreateSecureMessage(ctx context.Context, req ComposeRequest) (*Composed, error) {
	recipientKeys, err := m.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	cfg := req.Config
	from := req.Sender.Address()

	id := crypto.NewMessageID()
	createdAt := m.clock.Now().UnixMilli()
	cleaned := m.sanitizer.Strip(ctx, rawEnvelope(id, req, createdAt), cfg.MetadataStripping)

	content, ok := cleaned.Envelope["content"].(string)
	if !ok {
		content = req.Content
	}

	sig := models.IdentitySignature{WalletAddress: from, Timestamp: createdAt}
	if cfg.IdentitySigning.Enabled {
		if sig, err = m.signer.Sign(ctx, content, req.Sender, cfg.IdentitySigning.RequireOnChainProof); err != nil {
			return nil, err
		}
	}

	var destructMeta *models.SelfDestructMeta
	if cfg.SelfDestruct.Enabled {
		destructMeta = &models.SelfDestructMeta{DeleteAfterRead: cfg.SelfDestruct.DeleteAfterRead}
		if cfg.SelfDestruct.ExpiresAfter > 0 {
			destructMeta.ExpiresAt = m.clock.Now().Add(cfg.SelfDestruct.ExpiresAfter).UnixMilli()
		}
	}

	var envelope models.EncryptedEnvelope
	if cfg.Encryption.Enabled {
		envelope, err = m.encryptor.EncryptMessage(ctx, content, recipientKeys, req.Sender, cfg.Encryption.Algorithm, destructMeta)
		if err != nil {
			return nil, err
		}
	} else {
		envelope = m.encryptor.Passthrough(content, destructMeta)
	}
	// Content only travels inside the envelope, where reads are gated.
	delete(cleaned.Envelope, "content")

	record, err := m.scheduler.Create(ctx, id, cfg.SelfDestruct)
	if err != nil {
		return nil, err
	}

	verification := signing.Placeholder(from)
	if cfg.IdentitySigning.Enabled {
		verification = m.signer.Verify(ctx, content, sig)
	}

	msg := &models.SecureMessage{
		ID:                 id,
		Subject:            req.Subject,
		From:               from,
		To:                 req.RecipientAddr,
		EncryptedEnvelope:  envelope,
		IdentitySignature:  sig,
		CleanedEnvelope:    cleaned,
		SecurityLevel:      securityLevel(cfg, verification),
		VerificationStatus: verification,
		SelfDestructRecord: record,
		CreatedAt:          createdAt,
	}

	ref, err := m.persist(ctx, msg, req.Sender, cfg.ZeroKnowledge)
	if err != nil {
		if record != nil {
			if derr := m.scheduler.Destroy(ctx, id, models.ReasonManualDestruct); derr != nil {
				m.log.Error().Err(derr).Str("message_id", id).Msg("discarding undelivered message")
			}
		}
		return nil, err
	}

	metrics.IncComposed(string(msg.SecurityLevel))
	m.log.Info().
		Str("message_id", id).
		Str("from", logging.Redact(from)).
		Str("to", logging.Redact(req.RecipientAddr)).
		Str("security_level", string(msg.SecurityLevel)).
		Str("algorithm", string(envelope.Metadata.Algorithm)).
		Bool("self_destruct", record != nil).
		Msg("secure message created")

	return &Composed{Message: msg, DeliveryRef: ref}, nil
}

func (m *Manager) persist(ctx context.Context, msg *models.SecureMessage, owner wallet.Signer, zk models.ZeroKnowledgeConfig) (string, error) {
	if zk.Enabled && m.vault != nil {
		if err := m.vault.Seal(ctx, msg, owner, zk.ServerSideEncryption); err != nil {
			return "", err
		}
	}
	if m.transport == nil {
		return "", nil
	}
	return m.transport.Deliver(ctx, msg)
}

// Load fetches a delivered message.
func (m *Manager) Load(ctx context.Context, id string) (*models.SecureMessage, error) {
	if m.transport == nil {
		return nil, fmt.Errorf("%w: no transport configured", models.ErrUnsupportedConfig)
	}
	return m.transport.Load(ctx, id)
}

// ReadSecureMessage checks self-destruct state, counts the read and
// decrypts msg for reader. Every failure comes back as an error, usually
// an *models.UnreadableError; it never panics.
func (m *Manager) ReadSecureMessage(ctx context.Context, msg *models.SecureMessage, reader wallet.KeyOpener) (res *ReadResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("read aborted")
			res, err = nil, &models.UnreadableError{Reason: models.ReasonDecryptionFailed, Err: models.ErrDecryptionFailed}
		}
		metrics.IncRead(readOutcome(err))
	}()

	if msg == nil || reader == nil {
		return nil, models.Validationf("message and reader are required")
	}
	if reader.Address() != msg.To {
		return nil, &models.UnreadableError{
			Reason: reasonNotRecipient,
			Err:    fmt.Errorf("%w: %s", models.ErrCrypto, reasonNotRecipient),
		}
	}

	verdict, err := m.scheduler.CanRead(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if !verdict.Allowed {
		return nil, &models.UnreadableError{Reason: verdict.Reason, Err: verdict.Err}
	}
	if verdict, err = m.scheduler.RecordRead(ctx, msg.ID); err != nil {
		return nil, err
	}
	if !verdict.Allowed {
		return nil, &models.UnreadableError{Reason: verdict.Reason, Err: verdict.Err}
	}

	// An unknown sender leaves the key empty, which fails the signature check.
	senderKeys, _ := m.dir.Lookup(ctx, msg.From)
	dec, err := m.encryptor.DecryptMessage(ctx, msg.EncryptedEnvelope, reader, senderKeys)
	if err != nil {
		reason := models.ReasonDecryptionFailed
		if errors.Is(err, models.ErrExpired) {
			reason = models.ReasonExpired
		}
		m.log.Warn().Err(err).Str("message_id", msg.ID).Msg("message could not be decrypted")
		return nil, &models.UnreadableError{Reason: reason, Err: err}
	}

	verification := signing.Placeholder(msg.From)
	if msg.IdentitySignature.Signed() {
		verification = m.signer.Verify(ctx, dec.Content, msg.IdentitySignature)
	}

	checked := *msg
	checked.VerificationStatus = verification

	m.log.Info().
		Str("message_id", msg.ID).
		Str("reader", logging.Redact(reader.Address())).
		Bool("final_read", !verdict.More).
		Msg("secure message read")

	return &ReadResult{
		Content:      dec.Content,
		Report:       m.GenerateSecurityReport(&checked),
		Verification: verification,
		Badge:        signing.Badge(verification),
		FinalRead:    !verdict.More,
	}, nil
}

// GenerateSecurityReport summarizes the security state of msg.
func (m *Manager) GenerateSecurityReport(msg *models.SecureMessage) models.SecurityReport {
	return buildReport(msg, m.clock.Now())
}

// Destroy destroys message id on request.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	return m.scheduler.ManualDestruct(ctx, id)
}

// Status returns the self-destruct record for id, or its tombstone when
// the message is gone. Both are nil for messages without self-destruct.
func (m *Manager) Status(ctx context.Context, id string) (*models.SelfDestructRecord, *models.Tombstone, error) {
	tomb, err := m.scheduler.Tombstone(ctx, id)
	if err != nil || tomb != nil {
		return nil, tomb, err
	}
	rec, err := m.scheduler.Get(ctx, id)
	if errors.Is(err, selfdestruct.ErrNotTracked) {
		return nil, nil, nil
	}
	return rec, nil, err
}

// OpenVault returns the owner's zero-knowledge copy of message id.
func (m *Manager) OpenVault(ctx context.Context, id string, owner wallet.Signer) (*models.SecureMessage, error) {
	if m.vault == nil {
		return nil, ErrNotInVault
	}
	return m.vault.Open(ctx, id, owner)
}

func readOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrExpired):
		return "expired"
	case errors.Is(err, models.ErrReadLimit):
		return "read_limit"
	case errors.Is(err, models.ErrDestroyed):
		return "destroyed"
	case errors.Is(err, models.ErrCrypto):
		return "decrypt_failed"
	default:
		return "error"
	}
}
