// Package referral issues and resolves referral codes.
//
// Codes are lowercase ASCII: a name-derived prefix of letters followed by a
// random [a-z0-9] suffix. Generation and lookup both normalise to lowercase,
// so "ADA3k9x2p" and "ada3k9x2p" are the same code.
package referral

import (
	"context"
	"strings"

	"github.com/sakif/storefront-auth/internal/model"
)

// Finder is the slice of repository.ProfileStore this package needs.
type Finder interface {
	FindByField(ctx context.Context, field model.Field, value string) (*model.Profile, error)
}

// Normalize trims surrounding whitespace and lowercases a code.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
