// Package guard rejects a second submission for the same key while the first
// is still being processed.
//
// It only shapes the user experience for double clicks and resubmits. The
// store's UNIQUE constraints remain the correctness guarantee.
package guard

import (
	"context"
	"time"

	"github.com/sakif/storefront-auth/internal/apperror"
)

// Guard hands out short-lived exclusive holds on a key.
//
// Acquire returns an apperror.ErrConflict error when the key is already held.
// The returned release func is safe to call more than once and only drops the
// hold it created; a hold that expired and was re-acquired by someone else is
// left alone.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

func errInProgress() error {
	return apperror.Conflict("email", "a signup for this email is already in progress")
}
