package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
)

// RollbackPath is where a trusted deployment exposes account deletion.
const RollbackPath = "/internal/accounts/rollback"

// RollbackRequest is the body of a rollback call.
type RollbackRequest struct {
	UserID string `json:"user_id"`
}

// RollbackResponse is the body returned by the rollback endpoint.
type RollbackResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ErrRollbackRefused means the endpoint understood the call and said no,
// for example because the account already has a profile. Retrying will not help.
var ErrRollbackRefused = errors.New("identity: rollback refused")

// AdminClientConfig configures AdminClient.
type AdminClientConfig struct {
	BaseURL    string
	Timeout    time.Duration // per HTTP attempt
	MaxRetries uint64
	BaseDelay  time.Duration
}

// AdminClient implements Admin by calling a remote rollback endpoint. Each
// request carries a short-lived bearer token from the given token source;
// there is no long-lived shared secret on the wire.
type AdminClient struct {
	http       *resty.Client
	maxRetries uint64
	baseDelay  time.Duration
}

var _ Admin = (*AdminClient)(nil)

func NewAdminClient(cfg AdminClientConfig, credentials oauth2.TokenSource) *AdminClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}

	// oauth2.NewClient attaches "Authorization: Bearer …" to every request.
	hc := oauth2.NewClient(context.Background(), credentials)

	client := resty.NewWithClient(hc).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &AdminClient{
		http:       client,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
	}
}

// DeleteAccount asks the trusted endpoint to delete accountID. Network errors,
// 429 and 5xx responses are retried with exponential backoff; the endpoint is
// idempotent so a retry after a lost response is safe.
func (c *AdminClient) DeleteAccount(ctx context.Context, accountID string) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var out RollbackResponse

		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(RollbackRequest{UserID: accountID}).
			SetResult(&out).
			SetError(&out).
			Post(RollbackPath)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("identity: calling rollback endpoint: %w", err))
		}

		switch code := resp.StatusCode(); {
		case code == http.StatusTooManyRequests || code >= 500:
			return retry.RetryableError(fmt.Errorf("identity: rollback endpoint returned %d", code))
		case !resp.IsSuccess():
			return fmt.Errorf("%w: status %d: %s", ErrRollbackRefused, code, out.Error)
		case !out.Success:
			return fmt.Errorf("%w: %s", ErrRollbackRefused, out.Error)
		}

		return nil
	})
}
