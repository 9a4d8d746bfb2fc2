//go:build integration

package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupClient(t *testing.T) *Client {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := New(ctx, Config{Addresses: []string{endpoint}, Logger: log.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestIntegration_LockSerializesAcrossManagers(t *testing.T) {
	client := setupClient(t)

	opts := LockOptions{Expiry: 5 * time.Second, Tries: 200, RetryDelay: 10 * time.Millisecond}

	first, err := NewLockManager(client, opts)
	require.NoError(t, err)

	second, err := NewLockManager(client, opts)
	require.NoError(t, err)

	var (
		inside  int32
		overlap int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 10; i++ {
		mgr := first
		if i%2 == 1 {
			mgr = second
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			err := mgr.WithLock(context.Background(), "vault:0xabc", func(context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}

				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)

				return nil
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap), "two holders ran inside the same lock")
}

func TestIntegration_ReplayGuardClaimsOnce(t *testing.T) {
	client := setupClient(t)

	guard, err := NewReplayGuard(client, "")
	require.NoError(t, err)

	ctx := context.Background()
	digest := []byte{0xde, 0xad, 0xbe, 0xef}

	ok, err := guard.Claim(ctx, digest, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, digest, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.Raw().TTL(ctx, "vault:envelope:deadbeef").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
