package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{sessions: make(map[string]Session), now: now}
}

func (s *MemoryStore) Save(_ context.Context, tokenHash string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.sessions[tokenHash] = sess
	return nil
}

func (s *MemoryStore) Get(_ context.Context, tokenHash string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tokenHash]
	if !ok || !s.now().Before(sess.ExpiresAt) {
		delete(s.sessions, tokenHash)
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	delete(s.sessions, tokenHash)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for hash, sess := range s.sessions {
		if sess.AccountID == accountID {
			delete(s.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) pruneLocked() {
	now := s.now()
	for hash, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, hash)
		}
	}
}

// RedisStore keeps sessions in Redis with a TTL matching their expiry, plus a
// per-account set of token hashes for bulk revocation.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a redis-backed session store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "admin-auth"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) sessionKey(tokenHash string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, tokenHash)
}

func (s *RedisStore) accountKey(accountID string) string {
	return fmt.Sprintf("%s:session:account:%s", s.prefix, accountID)
}

func (s *RedisStore) Save(ctx context.Context, tokenHash string, sess Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrInvalidTimeout
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	accKey := s.accountKey(sess.AccountID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(tokenHash), payload, ttl)
	pipe.SAdd(ctx, accKey, tokenHash)
	// The index must outlive every session it lists.
	pipe.ExpireGT(ctx, accKey, ttl)
	pipe.ExpireNX(ctx, accKey, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, tokenHash string) (Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(tokenHash)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, err
	}
	if !s.now().Before(sess.ExpiresAt) {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, tokenHash string) error {
	key := s.sessionKey(tokenHash)
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(data) > 0 {
		var sess Session
		if json.Unmarshal(data, &sess) == nil {
			pipe.SRem(ctx, s.accountKey(sess.AccountID), tokenHash)
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DeleteAccount(ctx context.Context, accountID string) (int, error) {
	accKey := s.accountKey(accountID)
	hashes, err := s.client.SMembers(ctx, accKey).Result()
	if err != nil {
		return 0, err
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(hashes))
	for _, h := range hashes {
		keys = append(keys, s.sessionKey(h))
	}
	pipe := s.client.TxPipeline()
	deleted := pipe.Del(ctx, keys...)
	pipe.Del(ctx, accKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(deleted.Val()), nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
