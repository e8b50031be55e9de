package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Store is the durable policy persistence contract.
type Store interface {
	GetPolicy(ctx context.Context, accountID string) (Policy, error)
	PutPolicy(ctx context.Context, accountID string, p Policy) error
	DeletePolicy(ctx context.Context, accountID string) error
}

// Service reads and writes policies through a cache.
type Service struct {
	store  Store
	cache  Cache
	logger zerolog.Logger
}

// NewService wires a policy service. A nil cache disables caching.
func NewService(store Store, cache Cache, logger zerolog.Logger) *Service {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Service{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "policy").Logger(),
	}
}

// Get returns the account's policy, or Default() when none is configured.
func (s *Service) Get(ctx context.Context, accountID string) (Policy, error) {
	if p, ok, err := s.cache.Get(ctx, accountID); err != nil {
		s.logger.Warn().Err(err).Str("account_id", accountID).Msg("policy cache read failed")
	} else if ok {
		return p, nil
	}

	p, err := s.store.GetPolicy(ctx, accountID)
	switch {
	case errors.Is(err, ErrNotFound):
		p = Default()
	case err != nil:
		return Policy{}, fmt.Errorf("policy: load %s: %w", accountID, err)
	}

	if err := s.cache.Set(ctx, accountID, p); err != nil {
		s.logger.Warn().Err(err).Str("account_id", accountID).Msg("policy cache write failed")
	}
	return p, nil
}

// Put validates and stores a policy, then invalidates the cached copy.
func (s *Service) Put(ctx context.Context, accountID string, p Policy) (Policy, error) {
	p = p.Normalized()
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	if err := s.store.PutPolicy(ctx, accountID, p); err != nil {
		return Policy{}, fmt.Errorf("policy: store %s: %w", accountID, err)
	}
	s.invalidate(ctx, accountID)
	s.logger.Info().
		Str("account_id", accountID).
		Interface("required_factors", p.RequiredFactors).
		Int("max_attempts", p.MaxAttempts).
		Msg("policy updated")
	return p, nil
}

// Delete removes an explicit policy so the account falls back to Default().
func (s *Service) Delete(ctx context.Context, accountID string) error {
	if err := s.store.DeletePolicy(ctx, accountID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("policy: delete %s: %w", accountID, err)
	}
	s.invalidate(ctx, accountID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, accountID string) {
	if err := s.cache.Invalidate(ctx, accountID); err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("policy cache invalidation failed")
	}
}
