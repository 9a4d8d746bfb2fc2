package redis

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/LerianStudio/shared-vault/vault/identity"
)

// ReplayGuard remembers envelope digests in Redis so a signed envelope is
// accepted once across all replicas.
type ReplayGuard struct {
	client *Client
	prefix string
}

var _ identity.ReplayGuard = (*ReplayGuard)(nil)

// NewReplayGuard builds a ReplayGuard storing keys under prefix.
func NewReplayGuard(client *Client, prefix string) (*ReplayGuard, error) {
	if client == nil || client.rdb == nil {
		return nil, ErrNilClient
	}

	if prefix == "" {
		prefix = "vault:envelope:"
	}

	return &ReplayGuard{client: client, prefix: prefix}, nil
}

// Claim records digest for ttl. It reports false when the digest was
// already claimed.
func (g *ReplayGuard) Claim(ctx context.Context, digest []byte, ttl time.Duration) (bool, error) {
	ok, err := g.client.rdb.SetNX(ctx, g.prefix+hex.EncodeToString(digest), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim envelope digest: %w", err)
	}

	return ok, nil
}
