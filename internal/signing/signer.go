package signing

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"secure.mail/internal/clock"
	"secure.mail/internal/crypto"
	"secure.mail/internal/logging"
	"secure.mail/internal/metrics"
	"secure.mail/internal/models"
	"secure.mail/internal/wallet"
)

const (
	DefaultChainID    = "xrpl-mainnet"
	DefaultMaxAge     = 24 * time.Hour
	DefaultFutureSkew = 5 * time.Minute
)

// Trust score adjustments applied by Verify.
const (
	penaltyContentHash = 50
	penaltyPublicKey   = 30
	penaltySignature   = 50
	penaltyTooOld      = 20
	penaltyFuture      = 40
	penaltyBadProof    = 15
	penaltyNoProof     = 10
	bonusProof         = 10
	blacklistCeiling   = 20
	reputationFloor    = 50
	reputationHeadroom = 30
)

type Config struct {
	ChainID    string
	MaxAge     time.Duration
	FutureSkew time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChainID == "" {
		c.ChainID = DefaultChainID
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.FutureSkew <= 0 {
		c.FutureSkew = DefaultFutureSkew
	}
	return c
}

// Signer creates and verifies identity signatures bound to wallet
// addresses.
type Signer struct {
	cfg        Config
	dir        wallet.Directory
	proofs     ProofService
	reputation ReputationService
	clock      clock.Clock
	log        *zerolog.Logger
}

func New(cfg Config, dir wallet.Directory, proofs ProofService, reputation ReputationService, clk clock.Clock, log *zerolog.Logger) *Signer {
	if proofs == nil {
		proofs = LocalProofs{Clock: clk}
	}
	if reputation == nil {
		reputation = NewStaticReputation()
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Signer{
		cfg:        cfg.withDefaults(),
		dir:        dir,
		proofs:     proofs,
		reputation: reputation,
		clock:      clk,
		log:        logging.Component(log, "signer"),
	}
}

type payload struct {
	ContentHash   string `json:"contentHash"`
	WalletAddress string `json:"walletAddress"`
	Timestamp     int64  `json:"timestamp"`
	ChainID       string `json:"chainId"`
}

func (s *Signer) canonical(hash, address string, ts int64) []byte {
	data, _ := json.Marshal(payload{
		ContentHash:   hash,
		WalletAddress: address,
		Timestamp:     ts,
		ChainID:       s.cfg.ChainID,
	})
	return data
}

// Sign signs content for the wallet behind w. A failed proof anchor only
// matters when requireProof is set.
func (s *Signer) Sign(ctx context.Context, content string, w wallet.Signer, requireProof bool) (models.IdentitySignature, error) {
	address := w.Address()
	if err := wallet.ValidateAddress(address); err != nil {
		return models.IdentitySignature{}, err
	}

	keys, err := s.dir.Lookup(ctx, address)
	if err != nil {
		return models.IdentitySignature{}, models.Validationf("signer %s: %v", address, err)
	}

	hash := crypto.HashHex([]byte(content))
	ts := s.clock.Now().UnixMilli()
	msg := s.canonical(hash, address, ts)

	raw, err := w.Sign(msg)
	if err != nil {
		return models.IdentitySignature{}, fmt.Errorf("%w: signing: %v", models.ErrCrypto, err)
	}

	sig := models.IdentitySignature{
		SignatureValue:   hex.EncodeToString(raw),
		DerivedPublicKey: keys.SigningKeyHex(),
		WalletAddress:    address,
		Timestamp:        ts,
		ContentHash:      hash,
	}

	ref, err := s.proofs.Anchor(ctx, msg, sig.SignatureValue)
	switch {
	case err != nil && requireProof:
		return models.IdentitySignature{}, fmt.Errorf("%w: on-chain proof required: %v", models.ErrCrypto, err)
	case err != nil:
		s.log.Warn().Err(err).Str("wallet", logging.Redact(address)).Msg("proof anchoring failed")
	default:
		sig.OnChainProofRef = ref
	}

	s.log.Debug().
		Str("wallet", logging.Redact(address)).
		Bool("anchored", sig.OnChainProofRef != "").
		Msg("content signed")

	return sig, nil
}

type check struct {
	level    models.VerificationLevel
	score    int
	warnings []string
}

func (c *check) fail(level models.VerificationLevel, penalty int, warning string) {
	c.warnings = append(c.warnings, warning)
	c.score -= penalty
	if level == models.VerificationLow {
		c.level = models.VerificationLow
	}
}

// soften drops high to medium and leaves lower levels alone.
func (c *check) soften(warning string) {
	c.warnings = append(c.warnings, warning)
	if c.level == models.VerificationHigh {
		c.level = models.VerificationMedium
	}
}

// Verify runs every identity check against sig and never fails; internal
// errors produce a zero-trust result.
func (s *Signer) Verify(ctx context.Context, content string, sig models.IdentitySignature) (v models.IdentityVerification) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("signature verification failed")
			v = models.IdentityVerification{
				IsValid:           false,
				SenderAddress:     sig.WalletAddress,
				VerificationLevel: models.VerificationLow,
				TrustScore:        0,
				Warnings:          []string{fmt.Sprintf("signature verification error: %v", r)},
			}
		}
	}()

	c := &check{level: models.VerificationHigh, score: 100}

	if crypto.HashHex([]byte(content)) != sig.ContentHash {
		c.fail(models.VerificationLow, penaltyContentHash, "message hash does not match content")
	}

	keys, err := s.dir.Lookup(ctx, sig.WalletAddress)
	if err != nil || keys.SigningKeyHex() != sig.DerivedPublicKey {
		c.fail(models.VerificationLow, penaltyPublicKey, "public key does not match wallet address")
	} else if !s.signatureValid(keys.SigningKey, sig) {
		c.fail(models.VerificationLow, penaltySignature, "signature does not verify under the wallet key")
	}

	now := s.clock.Now()
	age := now.Sub(time.UnixMilli(sig.Timestamp))
	if age > s.cfg.MaxAge || -age > s.cfg.MaxAge {
		c.warnings = append(c.warnings, "signature is too old")
		c.score -= penaltyTooOld
		if c.level == models.VerificationHigh {
			c.level = models.VerificationMedium
		} else {
			c.level = models.VerificationLow
		}
	}
	if sig.Timestamp > now.Add(s.cfg.FutureSkew).UnixMilli() {
		c.fail(models.VerificationLow, penaltyFuture, "signature timestamp is in the future")
	}

	if sig.OnChainProofRef != "" {
		ok, err := s.proofs.Verify(ctx, sig.OnChainProofRef)
		if err != nil || !ok {
			c.soften("on-chain proof verification failed")
			c.score -= penaltyBadProof
		} else {
			c.score += bonusProof
		}
	} else {
		c.soften("no on-chain proof")
		c.score -= penaltyNoProof
	}

	if s.reputation.Blacklisted(ctx, sig.WalletAddress) {
		c.warnings = append(c.warnings, "wallet address is blacklisted")
		c.level = models.VerificationLow
		c.score = min(c.score, blacklistCeiling)
	}

	if rep := s.reputation.Score(ctx, sig.WalletAddress); rep < reputationFloor {
		c.soften("low wallet reputation")
		c.score = min(c.score, rep+reputationHeadroom)
	}

	v = models.IdentityVerification{
		IsValid:           len(c.warnings) == 0 || c.level != models.VerificationLow,
		SenderAddress:     sig.WalletAddress,
		VerificationLevel: c.level,
		TrustScore:        max(0, min(100, c.score)),
		Warnings:          c.warnings,
	}
	if v.Warnings == nil {
		v.Warnings = []string{}
	}

	metrics.ObserveTrustScore(v.TrustScore)
	s.log.Debug().
		Str("wallet", logging.Redact(sig.WalletAddress)).
		Str("level", string(v.VerificationLevel)).
		Int("trust", v.TrustScore).
		Msg("signature verified")

	return v
}

func (s *Signer) signatureValid(pub ed25519.PublicKey, sig models.IdentitySignature) bool {
	raw, err := hex.DecodeString(sig.SignatureValue)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, s.canonical(sig.ContentHash, sig.WalletAddress, sig.Timestamp), raw)
}

// Placeholder is the neutral verification used when signing is disabled.
func Placeholder(address string) models.IdentityVerification {
	return models.IdentityVerification{
		IsValid:           false,
		SenderAddress:     address,
		VerificationLevel: models.VerificationLow,
		TrustScore:        0,
		Warnings:          []string{"message is not signed"},
	}
}

type TrustBadge struct {
	Color string `json:"color"`
	Label string `json:"label"`
}

// Badge summarizes a verification for display.
func Badge(v models.IdentityVerification) TrustBadge {
	if !v.IsValid {
		return TrustBadge{Color: "red", Label: "invalid"}
	}
	switch v.VerificationLevel {
	case models.VerificationHigh:
		return TrustBadge{Color: "green", Label: "high trust"}
	case models.VerificationMedium:
		return TrustBadge{Color: "yellow", Label: "medium trust"}
	case models.VerificationLow:
		return TrustBadge{Color: "orange", Label: "low trust"}
	default:
		return TrustBadge{Color: "gray", Label: "unknown"}
	}
}
