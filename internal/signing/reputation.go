package signing

import (
	"context"
	"crypto/sha256"
)

// ReputationService scores wallet addresses.
type ReputationService interface {
	Blacklisted(ctx context.Context, address string) bool
	Score(ctx context.Context, address string) int
}

var defaultBlacklist = []string{
	"rMalicious1234567890123456789012",
	"rScammer1234567890123456789012",
}

// StaticReputation uses a fixed blacklist and a deterministic score
// derived from the address hash.
type StaticReputation struct {
	blacklist map[string]struct{}
}

var _ ReputationService = (*StaticReputation)(nil)

func NewStaticReputation(extra ...string) *StaticReputation {
	r := &StaticReputation{blacklist: make(map[string]struct{})}
	for _, addr := range append(defaultBlacklist, extra...) {
		r.blacklist[addr] = struct{}{}
	}
	return r
}

func (r *StaticReputation) Blacklisted(_ context.Context, address string) bool {
	_, ok := r.blacklist[address]
	return ok
}

// Score maps the first hash byte onto 0..100.
func (r *StaticReputation) Score(_ context.Context, address string) int {
	sum := sha256.Sum256([]byte(address))
	return int(sum[0]) * 100 / 255
}
