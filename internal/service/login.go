package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/identity"
	"github.com/sakif/storefront-auth/internal/metrics"
	"github.com/sakif/storefront-auth/internal/model"
	"github.com/sakif/storefront-auth/internal/repository"
)

// LoginResult is what the client needs to route the user after sign-in.
// Session tokens are issued by the identity service, not here.
type LoginResult struct {
	ID          string
	Role        model.Role
	DisplayName string
}

// LoginService checks credentials with the identity service and then makes
// sure the matching Profile exists and is active.
type LoginService struct {
	identity    identity.Service
	profiles    repository.ProfileStore
	metrics     *metrics.Metrics
	logger      *slog.Logger
	stepTimeout time.Duration
	now         func() time.Time
}

func NewLoginService(
	ids identity.Service,
	profiles repository.ProfileStore,
	m *metrics.Metrics,
	logger *slog.Logger,
	stepTimeout time.Duration,
) *LoginService {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	return &LoginService{
		identity:    ids,
		profiles:    profiles,
		metrics:     m,
		logger:      logger,
		stepTimeout: stepTimeout,
		now:         time.Now,
	}
}

func (s *LoginService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	result, err := s.login(ctx, email, password)
	s.metrics.LoginFinished(apperror.Kind(err))
	return result, err
}

func (s *LoginService) login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	if password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	accountID, err := s.verify(ctx, email, password)
	if err != nil {
		return nil, err
	}

	profile, err := s.findProfile(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !profile.IsActive {
		s.logger.Info("login refused for deactivated account", "account_id", accountID)
		return nil, apperror.Forbidden("account deactivated")
	}

	s.touchLastLogin(ctx, accountID)

	s.logger.Info("user logged in", "account_id", accountID, "role", profile.Role)

	return &LoginResult{
		ID:          profile.ID,
		Role:        profile.Role,
		DisplayName: profile.Name,
	}, nil
}

func (s *LoginService) verify(ctx context.Context, email, password string) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	id, err := s.identity.VerifyCredentials(stepCtx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return "", apperror.Forbidden("invalid email or password")
		}
		return "", apperror.Unavailable("sign-in", err)
	}
	return id, nil
}

func (s *LoginService) findProfile(ctx context.Context, accountID string) (*model.Profile, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	profile, err := s.profiles.FindByField(stepCtx, model.FieldID, accountID)
	if err != nil {
		return nil, storeError("profile lookup", err)
	}
	if profile == nil {
		s.logger.Error("account has no profile", "account_id", accountID)
		return nil, apperror.Integrity(fmt.Sprintf("account %s has no profile", accountID), nil)
	}
	return profile, nil
}

// touchLastLogin records the login time. Failure is logged and ignored.
func (s *LoginService) touchLastLogin(ctx context.Context, accountID string) {
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	now := s.now().UTC()
	if err := s.profiles.Update(stepCtx, accountID, model.ProfilePatch{LastLoginAt: &now}); err != nil {
		s.logger.Warn("updating last login", "account_id", accountID, "error", err)
	}
}
