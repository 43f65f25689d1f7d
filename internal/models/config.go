package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type Algorithm string

const (
	AlgorithmAES256 Algorithm = "AES-256"
	AlgorithmPGP    Algorithm = "PGP"
	AlgorithmHybrid Algorithm = "HYBRID"
	AlgorithmNone   Algorithm = "none"
)

func (a Algorithm) Valid() bool {
	switch a {
	case AlgorithmAES256, AlgorithmPGP, AlgorithmHybrid:
		return true
	}
	return false
}

// SecurityConfig is the per-message security configuration. It is treated
// as immutable once a message has been created from it.
type SecurityConfig struct {
	Encryption        EncryptionConfig        `json:"encryption" yaml:"encryption"`
	SelfDestruct      SelfDestructConfig      `json:"selfDestruct" yaml:"self_destruct"`
	IdentitySigning   IdentitySigningConfig   `json:"identitySigning" yaml:"identity_signing"`
	MetadataStripping MetadataStrippingConfig `json:"metadataStripping" yaml:"metadata_stripping"`
	ZeroKnowledge     ZeroKnowledgeConfig     `json:"zeroKnowledge" yaml:"zero_knowledge"`
}

type EncryptionConfig struct {
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	Algorithm Algorithm `json:"algorithm" yaml:"algorithm"`
}

// SelfDestructConfig is encoded in JSON with ExpiresAfter in milliseconds,
// matching the epoch-millisecond timestamps used elsewhere.
type SelfDestructConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	ExpiresAfter    time.Duration `json:"expiresAfter" yaml:"expires_after"`
	DeleteAfterRead bool          `json:"deleteAfterRead" yaml:"delete_after_read"`
	MaxReads        int           `json:"maxReads" yaml:"max_reads"`
}

type selfDestructJSON struct {
	Enabled         bool  `json:"enabled"`
	ExpiresAfter    int64 `json:"expiresAfter"`
	DeleteAfterRead bool  `json:"deleteAfterRead"`
	MaxReads        int   `json:"maxReads"`
}

func (c SelfDestructConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(selfDestructJSON{
		Enabled:         c.Enabled,
		ExpiresAfter:    c.ExpiresAfter.Milliseconds(),
		DeleteAfterRead: c.DeleteAfterRead,
		MaxReads:        c.MaxReads,
	})
}

func (c *SelfDestructConfig) UnmarshalJSON(data []byte) error {
	var v selfDestructJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = SelfDestructConfig{
		Enabled:         v.Enabled,
		ExpiresAfter:    time.Duration(v.ExpiresAfter) * time.Millisecond,
		DeleteAfterRead: v.DeleteAfterRead,
		MaxReads:        v.MaxReads,
	}
	return nil
}

type IdentitySigningConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	RequireOnChainProof bool `json:"requireOnChainProof" yaml:"require_on_chain_proof"`
}

type MetadataStrippingConfig struct {
	StripTimestamps   bool `json:"stripTimestamps" yaml:"strip_timestamps"`
	StripIPAddresses  bool `json:"stripIPAddresses" yaml:"strip_ip_addresses"`
	StripUserAgent    bool `json:"stripUserAgent" yaml:"strip_user_agent"`
	StripDeviceInfo   bool `json:"stripDeviceInfo" yaml:"strip_device_info"`
	StripLocationData bool `json:"stripLocationData" yaml:"strip_location_data"`
	StripFileMetadata bool `json:"stripFileMetadata" yaml:"strip_file_metadata"`
	AnonymizeHeaders  bool `json:"anonymizeHeaders" yaml:"anonymize_headers"`
	UseRandomDelay    bool `json:"useRandomDelay" yaml:"use_random_delay"`
}

// EnabledCount returns how many of the eight toggles are set.
func (m MetadataStrippingConfig) EnabledCount() int {
	n := 0
	for _, on := range []bool{
		m.StripTimestamps, m.StripIPAddresses, m.StripUserAgent, m.StripDeviceInfo,
		m.StripLocationData, m.StripFileMetadata, m.AnonymizeHeaders, m.UseRandomDelay,
	} {
		if on {
			n++
		}
	}
	return n
}

type ZeroKnowledgeConfig struct {
	Enabled              bool `json:"enabled" yaml:"enabled"`
	ServerSideEncryption bool `json:"serverSideEncryption" yaml:"server_side_encryption"`
}

func (c SecurityConfig) Validate() error {
	if c.Encryption.Enabled && !c.Encryption.Algorithm.Valid() {
		return fmt.Errorf("%w: unknown encryption algorithm %q", ErrUnsupportedConfig, c.Encryption.Algorithm)
	}
	if c.SelfDestruct.ExpiresAfter < 0 {
		return Validationf("expiresAfter must not be negative")
	}
	if c.SelfDestruct.MaxReads < 0 {
		return Validationf("maxReads must not be negative")
	}
	return nil
}

const (
	PresetMaximum = "maximum"
	PresetHigh    = "high"
	PresetMedium  = "medium"
)

// Presets returns the named security presets.
func Presets() map[string]SecurityConfig {
	return map[string]SecurityConfig{
		PresetMaximum: {
			Encryption: EncryptionConfig{Enabled: true, Algorithm: AlgorithmHybrid},
			SelfDestruct: SelfDestructConfig{
				Enabled:         true,
				ExpiresAfter:    24 * time.Hour,
				DeleteAfterRead: true,
				MaxReads:        1,
			},
			IdentitySigning: IdentitySigningConfig{Enabled: true, RequireOnChainProof: true},
			MetadataStripping: MetadataStrippingConfig{
				StripTimestamps:   true,
				StripIPAddresses:  true,
				StripUserAgent:    true,
				StripDeviceInfo:   true,
				StripLocationData: true,
				StripFileMetadata: true,
				AnonymizeHeaders:  true,
				UseRandomDelay:    true,
			},
			ZeroKnowledge: ZeroKnowledgeConfig{Enabled: true, ServerSideEncryption: true},
		},
		PresetHigh: {
			Encryption: EncryptionConfig{Enabled: true, Algorithm: AlgorithmAES256},
			SelfDestruct: SelfDestructConfig{
				Enabled:         true,
				ExpiresAfter:    7 * 24 * time.Hour,
				DeleteAfterRead: false,
				MaxReads:        5,
			},
			IdentitySigning: IdentitySigningConfig{Enabled: true, RequireOnChainProof: false},
			MetadataStripping: MetadataStrippingConfig{
				StripTimestamps:   true,
				StripIPAddresses:  true,
				StripUserAgent:    true,
				StripDeviceInfo:   false,
				StripLocationData: true,
				StripFileMetadata: true,
				AnonymizeHeaders:  true,
				UseRandomDelay:    false,
			},
			ZeroKnowledge: ZeroKnowledgeConfig{Enabled: true, ServerSideEncryption: false},
		},
		PresetMedium: {
			Encryption:      EncryptionConfig{Enabled: true, Algorithm: AlgorithmAES256},
			SelfDestruct:    SelfDestructConfig{Enabled: false},
			IdentitySigning: IdentitySigningConfig{Enabled: true, RequireOnChainProof: false},
			MetadataStripping: MetadataStrippingConfig{
				StripIPAddresses: true,
			},
			ZeroKnowledge: ZeroKnowledgeConfig{Enabled: false, ServerSideEncryption: false},
		},
	}
}

// Preset looks up a named preset.
func Preset(name string) (SecurityConfig, error) {
	cfg, ok := Presets()[name]
	if !ok {
		return SecurityConfig{}, fmt.Errorf("%w: unknown preset %q", ErrUnsupportedConfig, name)
	}
	return cfg, nil
}

func PresetNames() []string {
	names := make([]string, 0, 3)
	for name := range Presets() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
