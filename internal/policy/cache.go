package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a keyed policy cache with explicit invalidation.
type Cache interface {
	Get(ctx context.Context, accountID string) (Policy, bool, error)
	Set(ctx context.Context, accountID string, p Policy) error
	Invalidate(ctx context.Context, accountID string) error
}

// NoopCache never holds anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (Policy, bool, error) { return Policy{}, false, nil }
func (NoopCache) Set(context.Context, string, Policy) error          { return nil }
func (NoopCache) Invalidate(context.Context, string) error           { return nil }

type cachedPolicy struct {
	policy    Policy
	expiresAt time.Time
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cachedPolicy
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{entries: make(map[string]cachedPolicy), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, accountID string) (Policy, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[accountID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(entry.expiresAt) {
		return Policy{}, false, nil
	}
	return entry.policy, true, nil
}

func (c *MemoryCache) Set(_ context.Context, accountID string, p Policy) error {
	c.mu.Lock()
	c.entries[accountID] = cachedPolicy{policy: p, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, accountID string) error {
	c.mu.Lock()
	delete(c.entries, accountID)
	c.mu.Unlock()
	return nil
}

// RedisCache shares cached policies between replicas.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a redis-backed policy cache.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "admin-auth"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(accountID string) string {
	return fmt.Sprintf("%s:policy:%s", c.prefix, accountID)
}

func (c *RedisCache) Get(ctx context.Context, accountID string) (Policy, bool, error) {
	data, err := c.client.Get(ctx, c.key(accountID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Policy{}, false, nil
		}
		return Policy{}, false, err
	}
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, false, err
	}
	return p, true, nil
}

func (c *RedisCache) Set(ctx context.Context, accountID string, p Policy) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(accountID), payload, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, accountID string) error {
	return c.client.Del(ctx, c.key(accountID)).Err()
}

// MemoryStore keeps policies in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]Policy)}
}

func (s *MemoryStore) GetPolicy(_ context.Context, accountID string) (Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[accountID]
	if !ok {
		return Policy{}, ErrNotFound
	}
	p.RequiredFactors = append([]Factor(nil), p.RequiredFactors...)
	return p, nil
}

func (s *MemoryStore) PutPolicy(_ context.Context, accountID string, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.RequiredFactors = append([]Factor(nil), p.RequiredFactors...)
	s.policies[accountID] = p
	return nil
}

func (s *MemoryStore) DeletePolicy(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[accountID]; !ok {
		return ErrNotFound
	}
	delete(s.policies, accountID)
	return nil
}

var (
	_ Cache = NoopCache{}
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
	_ Store = (*MemoryStore)(nil)
)
