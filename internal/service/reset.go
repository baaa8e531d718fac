package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/auth"
	"github.com/sakif/storefront-auth/internal/identity"
)

// ResetTokenTTL is how long a password reset link stays valid.
const ResetTokenTTL = 30 * time.Minute

const msgBadResetToken = "this reset link is invalid or has expired"

// Notifier delivers password reset links.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// LogNotifier writes reset links to the log instead of sending them.
// Use it in development or until a mail provider is wired in.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendPasswordReset(_ context.Context, email, token string, expiresAt time.Time) error {
	n.Logger.Info("password reset requested",
		"email", email,
		"token", token,
		"expires_at", expiresAt,
	)
	return nil
}

type resetRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type resetCompletion struct {
	Token    string `json:"token"    validate:"required"`
	Password string `json:"password" validate:"required,password"`
}

// ResetService issues and redeems password reset tokens.
type ResetService struct {
	identity    identity.Service
	tokens      *auth.TokenService
	notifier    Notifier
	validate    *inputValidator
	logger      *slog.Logger
	stepTimeout time.Duration
}

func NewResetService(
	ids identity.Service,
	tokens *auth.TokenService,
	notifier Notifier,
	logger *slog.Logger,
	minPasswordLength int,
	stepTimeout time.Duration,
) *ResetService {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	return &ResetService{
		identity:    ids,
		tokens:      tokens,
		notifier:    notifier,
		validate:    newInputValidator(minPasswordLength),
		logger:      logger,
		stepTimeout: stepTimeout,
	}
}

// RequestReset sends a reset link if email belongs to an account. An unknown
// email is reported as success so the endpoint cannot be used to discover
// which addresses are registered.
func (s *ResetService) RequestReset(ctx context.Context, email string) error {
	req := resetRequest{Email: strings.ToLower(strings.TrimSpace(email))}
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	accountID, err := s.identity.LookupAccount(stepCtx, req.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Debug("password reset for unknown email")
			return nil
		}
		return apperror.Unavailable("password reset", err)
	}

	// The link is bound to the current credential, so it dies once any
	// password change lands.
	stamp, err := s.identity.CredentialStamp(stepCtx, accountID)
	if err != nil {
		return apperror.Unavailable("password reset", err)
	}

	token, expiresAt, err := s.tokens.GenerateBound(accountID, auth.AudiencePasswordReset, stamp, ResetTokenTTL)
	if err != nil {
		return apperror.Unavailable("password reset", err)
	}

	if err := s.notifier.SendPasswordReset(stepCtx, req.Email, token, expiresAt); err != nil {
		return apperror.Unavailable("password reset email", err)
	}

	s.logger.Info("password reset issued", "account_id", accountID)
	return nil
}

// CompleteReset sets a new password for the account named by token. Each
// link works once: after a successful reset its stamp no longer matches.
func (s *ResetService) CompleteReset(ctx context.Context, token, newPassword string) error {
	req := resetCompletion{Token: strings.TrimSpace(token), Password: newPassword}
	if err := s.validate.Struct(req); err != nil {
		return err
	}

	accountID, stamp, err := s.tokens.ValidateBound(req.Token, auth.AudiencePasswordReset)
	if err != nil {
		s.logger.Info("rejected password reset token", "error", err)
		return apperror.ValidationFailed("token", msgBadResetToken)
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	if err := s.identity.SetPassword(stepCtx, accountID, stamp, req.Password); err != nil {
		if errors.Is(err, identity.ErrCredentialChanged) {
			s.logger.Warn("password reset link reused", "account_id", accountID)
			return apperror.ValidationFailed("token", msgBadResetToken)
		}
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.ValidationFailed("token", msgBadResetToken)
		}
		return apperror.Unavailable("password reset", err)
	}

	s.logger.Info("password reset completed", "account_id", accountID)
	return nil
}
