package referral

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/metrics"
	"github.com/sakif/storefront-auth/internal/model"
)

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Policy bounds code generation.
type Policy struct {
	PrefixLength   int    // letters kept from the seed name
	SuffixLength   int    // random characters appended
	MaxAttempts    int    // uniqueness lookups before falling back
	FallbackPrefix string // used when the seed has no letters
}

func DefaultPolicy() Policy {
	return Policy{
		PrefixLength:   5,
		SuffixLength:   6,
		MaxAttempts:    10,
		FallbackPrefix: "liyx",
	}
}

// Prefix keeps the ASCII letters of seed, lowercased and truncated to
// PrefixLength. A seed without letters yields FallbackPrefix.
func (p Policy) Prefix(seed string) string {
	var b strings.Builder
	for _, r := range seed {
		if b.Len() == p.PrefixLength {
			break
		}
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	if b.Len() == 0 {
		return p.FallbackPrefix
	}
	return b.String()
}

type Generator struct {
	finder  Finder
	policy  Policy
	metrics *metrics.Metrics
	logger  *slog.Logger

	intN  func(n int) int
	newID func() string
}

func NewGenerator(finder Finder, policy Policy, m *metrics.Metrics, logger *slog.Logger) *Generator {
	return &Generator{
		finder:  finder,
		policy:  policy,
		metrics: m,
		logger:  logger,
		intN:    rand.IntN,
		newID:   func() string { return xid.New().String() },
	}
}

// Generate returns a code no profile currently holds. The code is not
// reserved: a concurrent signup can still claim it, and the profile insert's
// UNIQUE constraint decides. After MaxAttempts collisions the suffix becomes
// an xid, which is unique without a lookup.
//
// A store failure aborts generation with an apperror.ErrUnavailable error.
func (g *Generator) Generate(ctx context.Context, seedName string) (string, error) {
	prefix := g.policy.Prefix(seedName)

	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		candidate := prefix + g.suffix()

		existing, err := g.finder.FindByField(ctx, model.FieldReferralCode, candidate)
		if err != nil {
			return "", apperror.Unavailable("referral code generation", err)
		}
		if existing == nil {
			return candidate, nil
		}

		g.metrics.ReferralCollision()
		g.logger.Debug("referral code collision", "attempt", attempt, "prefix", prefix)
	}

	g.metrics.ReferralFallback()
	g.logger.Warn("referral code attempts exhausted, using fallback",
		"prefix", prefix,
		"attempts", g.policy.MaxAttempts,
	)
	return prefix + g.newID(), nil
}

func (g *Generator) suffix() string {
	buf := make([]byte, g.policy.SuffixLength)
	for i := range buf {
		buf[i] = suffixAlphabet[g.intN(len(suffixAlphabet))]
	}
	return string(buf)
}
