package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/sakif/storefront-auth/internal/apperror"
)

const keyPrefix = "storefront-auth:guard:"

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisGuard shares holds across every replica through Redis SET NX.
type RedisGuard struct {
	client redis.UniversalClient
	logger *slog.Logger
}

var _ Guard = (*RedisGuard)(nil)

func NewRedisGuard(client redis.UniversalClient, logger *slog.Logger) *RedisGuard {
	return &RedisGuard{client: client, logger: logger}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := keyPrefix + key
	token := xid.New().String()

	ok, err := g.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, apperror.Unavailable("submission guard", err)
	}
	if !ok {
		return nil, errInProgress()
	}

	return func() {
		// The caller's context may already be cancelled by the time we release.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		if err := g.client.Eval(rctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			// The TTL cleans up eventually.
			g.logger.Warn("releasing submission guard", "key", key, "error", err)
		}
	}, nil
}
