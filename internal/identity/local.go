package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/sakif/storefront-auth/internal/apperror"
	"github.com/sakif/storefront-auth/internal/auth"
	"github.com/sakif/storefront-auth/internal/model"
	"github.com/sakif/storefront-auth/internal/repository"
)

// Local is an identity service backed by the local account store.
type Local struct {
	accounts  repository.AccountStore
	passwords *auth.PasswordService
}

var (
	_ Service = (*Local)(nil)
	_ Admin   = (*Local)(nil)
)

func NewLocal(accounts repository.AccountStore, passwords *auth.PasswordService) *Local {
	return &Local{accounts: accounts, passwords: passwords}
}

// CreateAccount hashes password and stores a new account, returning its id.
func (l *Local) CreateAccount(ctx context.Context, email, password string) (string, error) {
	hash, err := l.passwords.Hash(password)
	if err != nil {
		return "", fmt.Errorf("identity: %w", err)
	}

	account := &model.Account{Email: email, PasswordHash: hash}
	if err := l.accounts.CreateAccount(ctx, account); err != nil {
		if field, ok := apperror.IsUniqueViolation(err); ok && field == "email" {
			return "", ErrEmailTaken
		}
		return "", fmt.Errorf("identity: creating account: %w", err)
	}

	return account.ID, nil
}

// VerifyCredentials returns the account id for a matching email/password pair.
func (l *Local) VerifyCredentials(ctx context.Context, email, password string) (string, error) {
	account, err := l.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			l.passwords.Burn(password)
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("identity: looking up account: %w", err)
	}

	if err := l.passwords.Verify(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("identity: verifying password: %w", err)
	}

	return account.ID, nil
}

// LookupAccount returns the id registered for email, or apperror.ErrNotFound.
func (l *Local) LookupAccount(ctx context.Context, email string) (string, error) {
	account, err := l.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

// CredentialStamp fingerprints the stored bcrypt hash. Every new hash has a
// fresh salt, so the stamp changes on every password change.
func (l *Local) CredentialStamp(ctx context.Context, accountID string) (string, error) {
	account, err := l.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	return stampOf(account.PasswordHash), nil
}

// SetPassword replaces the password if stamp is still current.
func (l *Local) SetPassword(ctx context.Context, accountID, stamp, password string) error {
	account, err := l.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(stampOf(account.PasswordHash)), []byte(stamp)) != 1 {
		return ErrCredentialChanged
	}

	hash, err := l.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	// The store swaps only if the hash is still the one we checked.
	if err := l.accounts.UpdatePasswordHash(ctx, accountID, account.PasswordHash, hash); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return ErrCredentialChanged
		}
		return fmt.Errorf("identity: setting password: %w", err)
	}
	return nil
}

func stampOf(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return hex.EncodeToString(sum[:16])
}

// DeleteAccount removes the account. A missing account is not an error.
func (l *Local) DeleteAccount(ctx context.Context, accountID string) error {
	if _, err := l.accounts.DeleteAccount(ctx, accountID); err != nil {
		return fmt.Errorf("identity: deleting account: %w", err)
	}
	return nil
}
