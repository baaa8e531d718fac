package guard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
)

// MemoryGuard is a process-local Guard, used when no Redis is configured.
type MemoryGuard struct {
	mu    sync.Mutex
	holds map[string]memoryHold
	now   func() time.Time
}

type memoryHold struct {
	token   string
	expires time.Time
}

var _ Guard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		holds: make(map[string]memoryHold),
		now:   time.Now,
	}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if h, ok := g.holds[key]; ok && now.Before(h.expires) {
		return nil, errInProgress()
	}

	token := xid.New().String()
	g.holds[key] = memoryHold{token: token, expires: now.Add(ttl)}

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if h, ok := g.holds[key]; ok && h.token == token {
			delete(g.holds, key)
		}
	}, nil
}
