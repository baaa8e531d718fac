package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/identity"
	"github.com/sakif/storefront-auth/internal/model"
	"github.com/sakif/storefront-auth/internal/repository"
)

// AccountAdminService backs the privileged rollback endpoint that remote
// signup deployments call through identity.AdminClient.
type AccountAdminService struct {
	profiles repository.ProfileStore
	admin    identity.Admin
	logger   *slog.Logger
}

func NewAccountAdminService(profiles repository.ProfileStore, admin identity.Admin, logger *slog.Logger) *AccountAdminService {
	return &AccountAdminService{profiles: profiles, admin: admin, logger: logger}
}

// RollbackAccount deletes an account that never got a profile. It refuses
// accounts with a profile, so the endpoint cannot delete real users, and it
// succeeds for accounts that are already gone.
func (s *AccountAdminService) RollbackAccount(ctx context.Context, accountID, caller string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return apperror.ValidationFailed("user_id", "user_id is required")
	}

	profile, err := s.profiles.FindByField(ctx, model.FieldID, accountID)
	if err != nil {
		return storeError("account rollback", err)
	}
	if profile != nil {
		s.logger.Warn("refused rollback of account with profile", "account_id", accountID, "caller", caller)
		return apperror.Conflict("user_id", "account has a profile and cannot be rolled back")
	}

	if err := s.admin.DeleteAccount(ctx, accountID); err != nil {
		return apperror.Unavailable("account rollback", err)
	}

	s.logger.Info("account rolled back", "account_id", accountID, "caller", caller)
	return nil
}
