package identity

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// MemoryReplayGuard keeps claimed digests in process memory.
type MemoryReplayGuard struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	now     func() time.Time
	claimed int
}

// NewMemoryReplayGuard returns an empty guard.
func NewMemoryReplayGuard() *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: make(map[string]time.Time), now: time.Now}
}

const sweepEvery = 1024

// Claim records digest until ttl elapses.
func (g *MemoryReplayGuard) Claim(_ context.Context, digest []byte, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	key := hex.EncodeToString(digest)

	if expires, ok := g.seen[key]; ok && now.Before(expires) {
		return false, nil
	}

	g.seen[key] = now.Add(ttl)

	g.claimed++
	if g.claimed%sweepEvery == 0 {
		for k, expires := range g.seen {
			if !now.Before(expires) {
				delete(g.seen, k)
			}
		}
	}

	return true, nil
}
