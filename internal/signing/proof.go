package signing

import (
	"context"
	"encoding/json"
	"regexp"

	"secure.mail/internal/clock"
	"secure.mail/internal/crypto"
)

// ProofService anchors signature payloads somewhere verifiable and checks
// references produced earlier.
type ProofService interface {
	Anchor(ctx context.Context, payload []byte, signature string) (string, error)
	Verify(ctx context.Context, ref string) (bool, error)
}

var proofRefPattern = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)

// ValidProofRef reports whether ref has the shape of an anchor reference.
func ValidProofRef(ref string) bool {
	return proofRefPattern.MatchString(ref)
}

// ProofRef derives the 32-hex reference for an anchored payload.
func ProofRef(payload []byte, signature string, at int64) string {
	data, _ := json.Marshal(struct {
		Payload   json.RawMessage `json:"payload"`
		Signature string          `json:"signature"`
		Timestamp int64           `json:"timestamp"`
	}{payload, signature, at})
	return crypto.HashHex(data)[:32]
}

// LocalProofs derives references without any ledger behind them; Verify
// only checks the reference format.
type LocalProofs struct {
	Clock clock.Clock
}

var _ ProofService = LocalProofs{}

func (p LocalProofs) Anchor(_ context.Context, payload []byte, signature string) (string, error) {
	clk := p.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return ProofRef(payload, signature, clk.Now().UnixMilli()), nil
}

func (LocalProofs) Verify(_ context.Context, ref string) (bool, error) {
	return ValidProofRef(ref), nil
}
