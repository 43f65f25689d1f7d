package security

import (
	"time"

	"secure.mail/internal/models"
	"secure.mail/internal/sanitize"
)

// securityLevel scores a configuration together with the self-check of
// its signature.
func securityLevel(cfg models.SecurityConfig, v models.IdentityVerification) models.SecurityLevel {
	score := 0
	if cfg.Encryption.Enabled {
		score += 30
	}
	if cfg.IdentitySigning.Enabled {
		score += 25
	}
	if cfg.SelfDestruct.Enabled {
		score += 20
	}
	if cfg.MetadataStripping.StripTimestamps {
		score += 10
	}
	if cfg.MetadataStripping.StripIPAddresses {
		score += 10
	}
	if cfg.ZeroKnowledge.Enabled {
		score += 5
	}

	switch v.VerificationLevel {
	case models.VerificationHigh:
		score += 10
	case models.VerificationMedium:
		score += 5
	}

	switch {
	case score >= 90:
		return models.SecurityMaximum
	case score >= 70:
		return models.SecurityHigh
	case score >= 50:
		return models.SecurityMedium
	default:
		return models.SecurityBasic
	}
}

func overallSecurity(r models.SecurityReport) models.SecurityLevel {
	score := 0
	if r.EncryptionStatus == models.EncryptionEncrypted {
		score += 40
	}
	if r.SignatureStatus == models.SignatureVerified {
		score += 30
	}
	switch r.AnonymityLevel {
	case models.AnonymityHigh:
		score += 20
	case models.AnonymityMedium:
		score += 10
	}
	if r.SelfDestructStatus == models.SelfDestructActive {
		score += 10
	}

	switch {
	case score >= 90:
		return models.SecurityMaximum
	case score >= 70:
		return models.SecurityHigh
	case score >= 50:
		return models.SecurityMedium
	default:
		return models.SecurityLow
	}
}

// buildReport summarizes msg as of now. It only reads the message.
func buildReport(msg *models.SecureMessage, now time.Time) models.SecurityReport {
	r := models.SecurityReport{
		AnonymityLevel:  msg.CleanedEnvelope.AnonymityLevel,
		Warnings:        []string{},
		Recommendations: []string{},
	}

	if msg.EncryptedEnvelope.Encrypted() {
		r.EncryptionStatus = models.EncryptionEncrypted
	} else {
		r.EncryptionStatus = models.EncryptionNotEncrypted
		r.Warnings = append(r.Warnings, "message is not encrypted")
		r.Recommendations = append(r.Recommendations, "enable encryption for maximum security")
	}

	switch {
	case msg.VerificationStatus.IsValid:
		r.SignatureStatus = models.SignatureVerified
	case msg.IdentitySignature.Signed():
		r.SignatureStatus = models.SignatureInvalid
		r.Warnings = append(r.Warnings, "digital signature is not valid")
	default:
		r.SignatureStatus = models.SignatureNotSigned
		r.Warnings = append(r.Warnings, "message has no digital signature")
		r.Recommendations = append(r.Recommendations, "use identity signing to prove the sender")
	}

	if r.AnonymityLevel == "" {
		r.AnonymityLevel = models.AnonymityLow
	}
	if r.AnonymityLevel == models.AnonymityLow {
		r.Warnings = append(r.Warnings, "low anonymity level")
		r.Recommendations = append(r.Recommendations, "enable more metadata stripping options")
	}

	r.AnonymitySummary = sanitize.Summary(msg.CleanedEnvelope)

	r.SelfDestructStatus = models.SelfDestructDisabled
	if msg.SelfDestructRecord != nil {
		snapshot := *msg.SelfDestructRecord
		snapshot.Refresh(now)
		r.SelfDestructStatus = models.SelfDestructActive
		if snapshot.IsExpired {
			r.SelfDestructStatus = models.SelfDestructExpired
		}
	}

	r.OverallSecurity = overallSecurity(r)
	return r
}
