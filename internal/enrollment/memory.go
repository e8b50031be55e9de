package enrollment

import (
	"context"
	"sync"
)

// MemoryFactorStore keeps confirmed factors in process memory.
type MemoryFactorStore struct {
	mu      sync.RWMutex
	factors map[string]Factor
}

// NewMemoryFactorStore creates an empty store.
func NewMemoryFactorStore() *MemoryFactorStore {
	return &MemoryFactorStore{factors: make(map[string]Factor)}
}

func (s *MemoryFactorStore) GetFactor(_ context.Context, accountID string) (Factor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.factors[accountID]
	if !ok {
		return Factor{}, ErrNotFound
	}
	f.Secret = append([]byte(nil), f.Secret...)
	return f, nil
}

func (s *MemoryFactorStore) SaveFactor(_ context.Context, f Factor) error {
	f.Secret = append([]byte(nil), f.Secret...)
	s.mu.Lock()
	s.factors[f.AccountID] = f
	s.mu.Unlock()
	return nil
}

func (s *MemoryFactorStore) DeleteFactor(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.factors[accountID]; !ok {
		return ErrNotFound
	}
	delete(s.factors, accountID)
	return nil
}

var _ FactorStore = (*MemoryFactorStore)(nil)
