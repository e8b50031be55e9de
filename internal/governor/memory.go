package governor

import (
	"context"
	"sync"
	"time"

	"github.com/otherjamesbrown/admin-auth-service/internal/keylock"
)

// MemoryStore keeps counters in process memory, serialized per account.
type MemoryStore struct {
	locks    keylock.Locker
	mu       sync.RWMutex
	counters map[string]Counter
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]Counter)}
}

func (s *MemoryStore) LoadCounter(_ context.Context, accountID string) (Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyCounter(s.counters[accountID]), nil
}

func (s *MemoryStore) RecordFailures(_ context.Context, accountID string, now time.Time, n, maxAttempts int, lockout time.Duration) (Counter, bool, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	s.mu.RLock()
	current := s.counters[accountID]
	s.mu.RUnlock()

	next, lockedNow := current.ApplyFailures(now, n, maxAttempts, lockout)

	s.mu.Lock()
	s.counters[accountID] = next
	s.mu.Unlock()
	return copyCounter(next), lockedNow, nil
}

func (s *MemoryStore) ClearUnlessLocked(_ context.Context, accountID string, now time.Time) (Counter, bool, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	current := copyCounter(s.counters[accountID])
	if current.LockedAt(now) {
		return current, false, nil
	}
	delete(s.counters, accountID)
	return current, true, nil
}

func (s *MemoryStore) ResetCounter(_ context.Context, accountID string) error {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	s.mu.Lock()
	delete(s.counters, accountID)
	s.mu.Unlock()
	return nil
}

func copyCounter(c Counter) Counter {
	if c.LockedUntil != nil {
		until := *c.LockedUntil
		c.LockedUntil = &until
	}
	return c
}

var _ CounterStore = (*MemoryStore)(nil)
