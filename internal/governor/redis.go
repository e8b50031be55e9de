package governor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// recordFailureScript mirrors Counter.ApplyFailures server-side.
// KEYS[1] counter hash; ARGV now_ms, max_attempts, lockout_ms, n.
// Returns {failures, locked_until_ms, locked_now}.
var recordFailureScript = redis.NewScript(`
local failures = tonumber(redis.call('HGET', KEYS[1], 'failures') or '0')
local locked_until = tonumber(redis.call('HGET', KEYS[1], 'locked_until') or '0')
local now = tonumber(ARGV[1])
local n = tonumber(ARGV[4])

if now < locked_until or n <= 0 then
  return {failures, locked_until, 0}
end
if locked_until > 0 then
  failures = 0
  locked_until = 0
end

failures = failures + n
local locked_now = 0
if failures >= tonumber(ARGV[2]) then
  locked_until = now + tonumber(ARGV[3])
  locked_now = 1
end

redis.call('HSET', KEYS[1], 'failures', failures, 'locked_until', locked_until)
return {failures, locked_until, locked_now}
`)

// clearScript deletes the counter unless it is locked at ARGV[1] (now_ms).
// Returns {failures, locked_until_ms, cleared}.
var clearScript = redis.NewScript(`
local failures = tonumber(redis.call('HGET', KEYS[1], 'failures') or '0')
local locked_until = tonumber(redis.call('HGET', KEYS[1], 'locked_until') or '0')

if tonumber(ARGV[1]) < locked_until then
  return {failures, locked_until, 0}
end
redis.call('DEL', KEYS[1])
return {failures, locked_until, 1}
`)

// RedisStore keeps counters in Redis hashes so every replica shares them.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a redis-backed counter store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "admin-auth"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(accountID string) string {
	return fmt.Sprintf("%s:lockout:attempts:%s", s.prefix, accountID)
}

func (s *RedisStore) LoadCounter(ctx context.Context, accountID string) (Counter, error) {
	vals, err := s.client.HMGet(ctx, s.key(accountID), "failures", "locked_until").Result()
	if err != nil {
		return Counter{}, fmt.Errorf("redis counter: load: %w", err)
	}
	failures, err := parseHashInt(vals[0])
	if err != nil {
		return Counter{}, err
	}
	lockedMs, err := parseHashInt(vals[1])
	if err != nil {
		return Counter{}, err
	}
	return counterFromRedis(failures, lockedMs), nil
}

func (s *RedisStore) RecordFailures(ctx context.Context, accountID string, now time.Time, n, maxAttempts int, lockout time.Duration) (Counter, bool, error) {
	res, err := recordFailureScript.Run(ctx, s.client, []string{s.key(accountID)},
		now.UnixMilli(), maxAttempts, lockout.Milliseconds(), n,
	).Int64Slice()
	if err != nil {
		return Counter{}, false, fmt.Errorf("redis counter: record failure: %w", err)
	}
	return scriptReply(res)
}

func (s *RedisStore) ClearUnlessLocked(ctx context.Context, accountID string, now time.Time) (Counter, bool, error) {
	res, err := clearScript.Run(ctx, s.client, []string{s.key(accountID)}, now.UnixMilli()).Int64Slice()
	if err != nil {
		return Counter{}, false, fmt.Errorf("redis counter: clear: %w", err)
	}
	return scriptReply(res)
}

func scriptReply(res []int64) (Counter, bool, error) {
	if len(res) != 3 {
		return Counter{}, false, fmt.Errorf("redis counter: unexpected script reply %v", res)
	}
	return counterFromRedis(res[0], res[1]), res[2] == 1, nil
}

func (s *RedisStore) ResetCounter(ctx context.Context, accountID string) error {
	if err := s.client.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("redis counter: reset: %w", err)
	}
	return nil
}

func counterFromRedis(failures, lockedUntilMs int64) Counter {
	c := Counter{ConsecutiveFailures: int(failures)}
	if lockedUntilMs > 0 {
		until := time.UnixMilli(lockedUntilMs).UTC()
		c.LockedUntil = &until
	}
	return c
}

func parseHashInt(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("redis counter: parse %q: %w", val, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("redis counter: unexpected field type %T", v)
	}
}

var _ CounterStore = (*RedisStore)(nil)
