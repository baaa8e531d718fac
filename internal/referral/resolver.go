package referral

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/model"
)

type Resolver struct {
	finder Finder
	logger *slog.Logger
}

func NewResolver(finder Finder, logger *slog.Logger) *Resolver {
	return &Resolver{finder: finder, logger: logger}
}

// Resolve maps a user-entered code to the id of the profile that owns it.
//
// Blank input and unknown codes both return found == false with a nil error;
// the caller decides whether an unknown code is a user error. A failed lookup
// is an apperror.ErrUnavailable error, never "not found", and a code held by
// more than one profile is an apperror.ErrIntegrity error.
func (r *Resolver) Resolve(ctx context.Context, input string) (string, bool, error) {
	code := Normalize(input)
	if code == "" {
		return "", false, nil
	}

	profile, err := r.finder.FindByField(ctx, model.FieldReferralCode, code)
	if err != nil {
		if errors.Is(err, apperror.ErrIntegrity) {
			r.logger.Error("referral code held by several profiles", "code", code, "error", err)
			return "", false, err
		}
		return "", false, apperror.Unavailable("referral lookup", err)
	}
	if profile == nil {
		return "", false, nil
	}

	return profile.ID, true, nil
}
