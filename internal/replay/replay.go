// Package replay remembers which TOTP time steps an account has already spent,
// so a code that verified once cannot authenticate a second session while it
// is still inside the acceptance window.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard marks (account, step) pairs as consumed.
type Guard interface {
	// Consume returns true if the step was not yet consumed and is now marked,
	// false if it had already been used.
	Consume(ctx context.Context, accountID string, step int64, ttl time.Duration) (bool, error)
}

type stepKey struct {
	accountID string
	step      int64
}

const sweepInterval = time.Minute

// MemoryGuard is a process-local Guard. Expired steps are swept at most once
// per sweepInterval.
type MemoryGuard struct {
	mu        sync.Mutex
	consumed  map[stepKey]time.Time
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryGuard creates an empty guard. now may be nil.
func NewMemoryGuard(now func() time.Time) *MemoryGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{consumed: make(map[stepKey]time.Time), now: now}
}

// Consume implements Guard.
func (g *MemoryGuard) Consume(_ context.Context, accountID string, step int64, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) >= sweepInterval {
		for k, expires := range g.consumed {
			if !now.Before(expires) {
				delete(g.consumed, k)
			}
		}
		g.lastSweep = now
	}

	key := stepKey{accountID: accountID, step: step}
	if expires, used := g.consumed[key]; used && now.Before(expires) {
		return false, nil
	}
	g.consumed[key] = now.Add(ttl)
	return true, nil
}

// RedisGuard shares consumed steps across replicas with SET NX.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard creates a guard; prefix namespaces the keys.
func NewRedisGuard(client *redis.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "admin-auth"
	}
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) key(accountID string, step int64) string {
	return fmt.Sprintf("%s:totp:consumed:%s:%d", g.prefix, accountID, step)
}

// Consume implements Guard.
func (g *RedisGuard) Consume(ctx context.Context, accountID string, step int64, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(accountID, step), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("replay guard: %w", err)
	}
	return ok, nil
}

var (
	_ Guard = (*MemoryGuard)(nil)
	_ Guard = (*RedisGuard)(nil)
)
