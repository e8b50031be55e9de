package replay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryGuardConsumesOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	guard := NewMemoryGuard(func() time.Time { return now })

	fresh, err := guard.Consume(ctx, "acct-1", 42, 90*time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = guard.Consume(ctx, "acct-1", 42, 90*time.Second)
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = guard.Consume(ctx, "acct-2", 42, 90*time.Second)
	require.NoError(t, err)
	assert.True(t, fresh, "steps are tracked per account")

	fresh, err = guard.Consume(ctx, "acct-1", 43, 90*time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryGuardExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	guard := NewMemoryGuard(func() time.Time { return now })

	_, err := guard.Consume(ctx, "acct-1", 7, 30*time.Second)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	fresh, err := guard.Consume(ctx, "acct-1", 7, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestMemoryGuardSweepsOnInterval(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	guard := NewMemoryGuard(func() time.Time { return now })

	for step := int64(1); step <= 3; step++ {
		_, err := guard.Consume(ctx, "acct-1", step, 10*time.Second)
		require.NoError(t, err)
	}

	now = now.Add(20 * time.Second)
	_, err := guard.Consume(ctx, "acct-2", 1, 10*time.Second)
	require.NoError(t, err)
	guard.mu.Lock()
	assert.Len(t, guard.consumed, 4, "expired steps linger until the next sweep")
	guard.mu.Unlock()

	now = now.Add(sweepInterval)
	_, err = guard.Consume(ctx, "acct-3", 1, 10*time.Second)
	require.NoError(t, err)
	guard.mu.Lock()
	assert.Len(t, guard.consumed, 1)
	assert.Contains(t, guard.consumed, stepKey{accountID: "acct-3", step: 1})
	guard.mu.Unlock()
}

func TestMemoryGuardConcurrentConsume(t *testing.T) {
	guard := NewMemoryGuard(nil)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := guard.Consume(context.Background(), "acct-1", 99, time.Minute)
			if err == nil && fresh {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisGuard(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine",
		testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	guard := NewRedisGuard(client, "test")

	fresh, err := guard.Consume(ctx, "acct-1", 42, time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = guard.Consume(ctx, "acct-1", 42, time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	ttl, err := client.TTL(ctx, "test:totp:consumed:acct-1:42").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
