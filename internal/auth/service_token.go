package auth

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// ServiceTokenSource mints short-lived bearer tokens that identify this
// process to a privileged endpoint. Wrap it with oauth2.ReuseTokenSource so a
// token is reused until shortly before it expires instead of signed per call.
type ServiceTokenSource struct {
	tokens   *TokenService
	subject  string
	audience string
	ttl      time.Duration
}

var _ oauth2.TokenSource = (*ServiceTokenSource)(nil)

// NewServiceTokenSource returns a cached oauth2.TokenSource for audience.
func NewServiceTokenSource(tokens *TokenService, subject, audience string, ttl time.Duration) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &ServiceTokenSource{
		tokens:   tokens,
		subject:  subject,
		audience: audience,
		ttl:      ttl,
	})
}

// Token implements oauth2.TokenSource.
func (s *ServiceTokenSource) Token() (*oauth2.Token, error) {
	signed, expiry, err := s.tokens.Generate(s.subject, s.audience, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("auth: minting service token: %w", err)
	}

	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}
