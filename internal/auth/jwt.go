// Package auth issues and checks the short-lived signed tokens the service
// relies on, and hashes passwords for the local identity store.
//
// Every token carries an audience. Tokens minted for one purpose (the
// account-rollback endpoint, a password reset link) are rejected anywhere
// else, so a leaked reset link can never delete an account.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "storefront-auth"

// Token audiences.
const (
	AudienceAccountAdmin  = "account-admin"
	AudiencePasswordReset = "password-reset"
)

var ErrTokenExpired = errors.New("auth: token expired")

// TokenService handles JWT creation and validation with a single HMAC key.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: TOKEN_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// claims adds an optional binding to the registered claims. A bound token is
// only honoured while the caller can still produce the same binding.
type claims struct {
	jwt.RegisteredClaims
	Binding string `json:"bnd,omitempty"`
}

// Generate signs a token for subject, valid for ttl and only for audience.
func (s *TokenService) Generate(subject, audience string, ttl time.Duration) (string, time.Time, error) {
	return s.GenerateBound(subject, audience, "", ttl)
}

// GenerateBound is Generate with a binding value embedded in the token.
func (s *TokenService) GenerateBound(subject, audience, binding string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("auth: token lifetime must be positive, got %s", ttl)
	}

	now := s.now()
	expiry := now.Add(ttl)

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			Issuer:    issuer,
		},
		Binding: binding,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, expiry, nil
}

// Validate parses tokenStr and returns its subject if the signature, issuer,
// expiry and audience all check out. HS256 is the only accepted algorithm.
func (s *TokenService) Validate(tokenStr, audience string) (string, error) {
	subject, _, err := s.ValidateBound(tokenStr, audience)
	return subject, err
}

// ValidateBound is Validate that also returns the token's binding. It fails
// for tokens minted without one.
func (s *TokenService) ValidateBound(tokenStr, audience string) (string, string, error) {
	c, err := s.parse(tokenStr, audience)
	if err != nil {
		return "", "", err
	}
	if c.Binding == "" {
		return "", "", errors.New("auth: token is not bound")
	}
	return c.Subject, c.Binding, nil
}

func (s *TokenService) parse(tokenStr, audience string) (*claims, error) {
	c := &claims{}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	if !token.Valid || c.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}

	return c, nil
}
