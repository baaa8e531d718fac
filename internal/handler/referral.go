package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/storefront-auth/internal/referral"
)

type ReferralResolver interface {
	Resolve(ctx context.Context, input string) (string, bool, error)
}

// ReferralHandler lets the signup form check a code before submitting.
type ReferralHandler struct {
	resolver ReferralResolver
	logger   *slog.Logger
}

func NewReferralHandler(resolver ReferralResolver, logger *slog.Logger) *ReferralHandler {
	return &ReferralHandler{resolver: resolver, logger: logger}
}

type referralResponse struct {
	Code  string `json:"code"`
	Valid bool   `json:"valid"`
}

// HandleCheck reports whether a referral code exists. The referrer's id is
// not disclosed.
//
// HTTP: GET /api/referrals/{code}
func (h *ReferralHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	code := referral.Normalize(chi.URLParam(r, "code"))

	_, found, err := h.resolver.Resolve(r.Context(), code)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, referralResponse{Code: code, Valid: found})
}
