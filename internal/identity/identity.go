// Package identity is the boundary to the identity service that owns
// Accounts (email + credential + id).
//
// The signup and login flows only see the Service and Admin interfaces.
// Local implements both on top of the SQLite account table; AdminClient
// implements Admin by calling the rollback endpoint of a trusted deployment,
// which is how a caller without admin rights gets an account deleted.
package identity

import (
	"context"
	"errors"
)

// ErrInvalidCredentials is returned when email and password do not match an
// account. It deliberately does not say which of the two was wrong.
var ErrInvalidCredentials = errors.New("identity: invalid email or password")

// ErrEmailTaken is returned by CreateAccount when the email is already registered.
var ErrEmailTaken = errors.New("identity: email already registered")

// ErrCredentialChanged is returned by SetPassword when the stamp it was given
// no longer matches the account's current credential.
var ErrCredentialChanged = errors.New("identity: credential changed since stamp was issued")

// Service is the unprivileged part of the identity service.
//
// CredentialStamp returns an opaque value that changes every time the
// account's password changes. SetPassword only succeeds while the stamp it is
// given is still current, so a password reset link can be redeemed once.
type Service interface {
	CreateAccount(ctx context.Context, email, password string) (string, error)
	VerifyCredentials(ctx context.Context, email, password string) (string, error)
	LookupAccount(ctx context.Context, email string) (string, error)
	CredentialStamp(ctx context.Context, accountID string) (string, error)
	SetPassword(ctx context.Context, accountID, stamp, password string) error
}

// Admin holds operations that need elevated credentials. DeleteAccount must
// be idempotent: deleting an account that is already gone succeeds.
type Admin interface {
	DeleteAccount(ctx context.Context, accountID string) error
}
