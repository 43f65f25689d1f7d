package models

import "time"

// Envelope is a JSON-shaped message record at some stage of transformation.
type Envelope map[string]any

type AnonymityLevel string

const (
	AnonymityHigh   AnonymityLevel = "high"
	AnonymityMedium AnonymityLevel = "medium"
	AnonymityLow    AnonymityLevel = "low"
)

type CleanedEnvelope struct {
	Envelope       Envelope       `json:"envelope"`
	StrippedFields []string       `json:"strippedFields"`
	Categories     []string       `json:"categories"`
	AnonymityLevel AnonymityLevel `json:"anonymityLevel"`
	Warnings       []string       `json:"warnings"`
}

type IdentitySignature struct {
	SignatureValue   string `json:"signature"`
	DerivedPublicKey string `json:"publicKey"`
	WalletAddress    string `json:"walletAddress"`
	Timestamp        int64  `json:"timestamp"`
	ContentHash      string `json:"messageHash"`
	OnChainProofRef  string `json:"txHash,omitempty"`
}

// Signed reports whether a signature value is present.
func (s IdentitySignature) Signed() bool {
	return s.SignatureValue != ""
}

type SelfDestructMeta struct {
	ExpiresAt       int64 `json:"expiresAt"`
	DeleteAfterRead bool  `json:"deleteAfterRead"`
}

type EnvelopeMetadata struct {
	Algorithm               Algorithm         `json:"algorithm"`
	RecipientKeyFingerprint string            `json:"keyFingerprint"`
	SelfDestruct            *SelfDestructMeta `json:"selfDestruct,omitempty"`
}

type EncryptedEnvelope struct {
	CipherContent     string           `json:"encryptedContent"`
	WrappedContentKey string           `json:"encryptedKey"`
	SignatureValue    string           `json:"signature"`
	Timestamp         int64            `json:"timestamp"`
	Metadata          EnvelopeMetadata `json:"metadata"`
}

// Encrypted reports whether the envelope carries real ciphertext rather
// than a pass-through placeholder.
func (e EncryptedEnvelope) Encrypted() bool {
	return e.CipherContent != "" && e.Metadata.Algorithm != AlgorithmNone && e.Metadata.Algorithm != ""
}

type DestructReason string

const (
	ReasonTimeExpired      DestructReason = "time_expired"
	ReasonReadLimitReached DestructReason = "read_limit_reached"
	ReasonManualDestruct   DestructReason = "manual_destruct"
)

// Message returns the user-facing description of a destruction reason.
func (r DestructReason) Message() string {
	switch r {
	case ReasonTimeExpired:
		return ReasonExpired
	case ReasonReadLimitReached:
		return ReasonReadLimit
	default:
		return ReasonDestroyed
	}
}

// Err maps a destruction reason onto the error taxonomy.
func (r DestructReason) Err() error {
	switch r {
	case ReasonTimeExpired:
		return ErrExpired
	case ReasonReadLimitReached:
		return ErrReadLimit
	default:
		return ErrDestroyed
	}
}

type SelfDestructRecord struct {
	MessageID       string `json:"id"`
	ExpiresAt       int64  `json:"expiresAt"`
	DeleteAfterRead bool   `json:"deleteAfterRead"`
	MaxReads        int    `json:"maxReads"`
	CurrentReads    int    `json:"currentReads"`
	IsExpired       bool   `json:"isExpired"`
	TimeRemaining   int64  `json:"timeRemaining"`
}

// Refresh recomputes the derived fields against now.
func (r *SelfDestructRecord) Refresh(now time.Time) {
	ms := now.UnixMilli()
	r.IsExpired = r.ExpiresAt > 0 && ms >= r.ExpiresAt
	r.TimeRemaining = 0
	if r.ExpiresAt > ms {
		r.TimeRemaining = r.ExpiresAt - ms
	}
}

// ReadsExhausted reports whether the read limit blocks further reads.
func (r *SelfDestructRecord) ReadsExhausted() bool {
	return r.DeleteAfterRead && r.CurrentReads >= r.MaxReads
}

// Tombstone marks a destroyed message id.
type Tombstone struct {
	MessageID   string         `json:"id"`
	Reason      DestructReason `json:"reason"`
	DestroyedAt int64          `json:"destroyedAt"`
}

type SecurityLevel string

const (
	SecurityMaximum SecurityLevel = "maximum"
	SecurityHigh    SecurityLevel = "high"
	SecurityMedium  SecurityLevel = "medium"
	SecurityBasic   SecurityLevel = "basic"
	SecurityLow     SecurityLevel = "low"
)

type VerificationLevel string

const (
	VerificationHigh   VerificationLevel = "high"
	VerificationMedium VerificationLevel = "medium"
	VerificationLow    VerificationLevel = "low"
)

type IdentityVerification struct {
	IsValid           bool              `json:"isValid"`
	SenderAddress     string            `json:"senderAddress"`
	VerificationLevel VerificationLevel `json:"verificationLevel"`
	TrustScore        int               `json:"trustScore"`
	Warnings          []string          `json:"warnings"`
}

type SecureMessage struct {
	ID                 string               `json:"id"`
	Subject            string               `json:"subject,omitempty"`
	From               string               `json:"from"`
	To                 string               `json:"to"`
	EncryptedEnvelope  EncryptedEnvelope    `json:"encryptedMessage"`
	IdentitySignature  IdentitySignature    `json:"blockchainSignature"`
	CleanedEnvelope    CleanedEnvelope      `json:"cleanedMetadata"`
	SecurityLevel      SecurityLevel        `json:"securityLevel"`
	VerificationStatus IdentityVerification `json:"verificationStatus"`
	SelfDestructRecord *SelfDestructRecord  `json:"selfDestructInfo,omitempty"`
	CreatedAt          int64                `json:"createdAt"`
}

// Redacted returns a copy of m that is safe to show without a read: a
// pass-through envelope loses its clear content. Encrypted envelopes are
// kept as they are.
func (m *SecureMessage) Redacted() *SecureMessage {
	out := *m
	if !m.EncryptedEnvelope.Encrypted() {
		out.EncryptedEnvelope.CipherContent = ""
	}
	if _, ok := m.CleanedEnvelope.Envelope["content"]; ok {
		env := make(Envelope, len(m.CleanedEnvelope.Envelope))
		for k, v := range m.CleanedEnvelope.Envelope {
			if k != "content" {
				env[k] = v
			}
		}
		out.CleanedEnvelope.Envelope = env
	}
	return &out
}

const (
	EncryptionEncrypted    = "encrypted"
	EncryptionNotEncrypted = "not_encrypted"

	SignatureVerified  = "verified"
	SignatureInvalid   = "invalid"
	SignatureNotSigned = "not_signed"

	SelfDestructActive   = "active"
	SelfDestructExpired  = "expired"
	SelfDestructDisabled = "disabled"
)

type SecurityReport struct {
	EncryptionStatus   string         `json:"encryptionStatus"`
	SignatureStatus    string         `json:"signatureStatus"`
	AnonymityLevel     AnonymityLevel `json:"anonymityLevel"`
	AnonymitySummary   string         `json:"anonymitySummary"`
	SelfDestructStatus string         `json:"selfDestructStatus"`
	OverallSecurity    SecurityLevel  `json:"overallSecurity"`
	Warnings           []string       `json:"warnings"`
	Recommendations    []string       `json:"recommendations"`
}

// Email is the flat mailbox index entry used for inbox/outbox listings.
type Email struct {
	ID            string        `json:"id"`
	From          string        `json:"from"`
	To            string        `json:"to"`
	Subject       string        `json:"subject,omitempty"`
	DeliveryRef   string        `json:"txHash"`
	SecurityLevel SecurityLevel `json:"securityLevel"`
	SelfDestruct  bool          `json:"selfDestruct"`
	CreatedAt     int64         `json:"timestamp"`
}

// DestructionEvent is emitted whenever a message is destroyed.
type DestructionEvent struct {
	MessageID string         `json:"messageId"`
	Reason    DestructReason `json:"reason"`
	Message   string         `json:"message"`
	At        int64          `json:"at"`
}
