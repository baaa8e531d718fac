package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/auth"
	"github.com/sakif/storefront-auth/internal/identity"
)

type AccountRollbacker interface {
	RollbackAccount(ctx context.Context, accountID, caller string) error
}

// AdminHandler serves the internal routes used by other deployments.
// Mount it behind auth.RequireServiceToken.
type AdminHandler struct {
	accounts AccountRollbacker
	logger   *slog.Logger
}

func NewAdminHandler(accounts AccountRollbacker, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: accounts, logger: logger}
}

// HandleRollback deletes an account that never got a profile.
//
// HTTP: POST /internal/accounts/rollback
// REQUEST BODY: {"user_id": "..."}
// RESPONSE: {"success": true} or {"success": false, "error": "..."}
//
// The body shape is shared with identity.AdminClient.
func (h *AdminHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	var req identity.RollbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeFailure(w, err)
		return
	}

	caller, _ := auth.SubjectFromContext(r.Context())

	if err := h.accounts.RollbackAccount(r.Context(), req.UserID, caller); err != nil {
		h.writeFailure(w, err)
		return
	}

	writeJSON(w, http.StatusOK, identity.RollbackResponse{Success: true})
}

func (h *AdminHandler) writeFailure(w http.ResponseWriter, err error) {
	status, _ := errorStatus(err)
	if status >= 500 {
		h.logger.Error("account rollback failed", slog.String("error", err.Error()))
	}

	msg := genericMessage
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	writeJSON(w, status, identity.RollbackResponse{Success: false, Error: msg})
}
