package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	*MemoryStore
	getErr error
	gets   int
}

func (s *failingStore) GetPolicy(ctx context.Context, accountID string) (Policy, error) {
	s.gets++
	if s.getErr != nil {
		return Policy{}, s.getErr
	}
	return s.MemoryStore.GetPolicy(ctx, accountID)
}

func newFailingStore() *failingStore {
	return &failingStore{MemoryStore: NewMemoryStore()}
}

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	assert.Equal(t, []Factor{FactorPassword}, p.RequiredFactors)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 30*time.Minute, p.LockoutDuration())
	assert.Equal(t, 8*time.Hour, p.SessionTimeout())
	require.NoError(t, p.Validate())
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
		valid  bool
	}{
		{"default", func(*Policy) {}, true},
		{"all factors", func(p *Policy) {
			p.RequiredFactors = []Factor{FactorPassword, FactorTOTP, FactorDeviceTrust}
		}, true},
		{"zero lockout", func(p *Policy) { p.LockoutDurationSeconds = 0 }, true},
		{"no factors", func(p *Policy) { p.RequiredFactors = nil }, false},
		{"missing password", func(p *Policy) { p.RequiredFactors = []Factor{FactorTOTP} }, false},
		{"unknown factor", func(p *Policy) { p.RequiredFactors = []Factor{FactorPassword, "sms"} }, false},
		{"zero attempts", func(p *Policy) { p.MaxAttempts = 0 }, false},
		{"negative lockout", func(p *Policy) { p.LockoutDurationSeconds = -1 }, false},
		{"zero session", func(p *Policy) { p.SessionTimeoutSeconds = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Default()
			tt.mutate(&p)
			err := p.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPolicy)
			}
		})
	}
}

func TestNormalizedOrdersAndDeduplicates(t *testing.T) {
	p := Policy{RequiredFactors: []Factor{FactorDeviceTrust, FactorPassword, FactorTOTP, FactorPassword}}
	assert.Equal(t, []Factor{FactorPassword, FactorTOTP, FactorDeviceTrust}, p.Normalized().RequiredFactors)
}

func TestParseFactors(t *testing.T) {
	factors, err := ParseFactors([]string{"password", "totp"})
	require.NoError(t, err)
	assert.Equal(t, []Factor{FactorPassword, FactorTOTP}, factors)

	_, err = ParseFactors([]string{"password", "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestServiceGetReturnsDefaultWhenUnconfigured(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryCache(time.Minute), zerolog.Nop())

	p, err := svc.Get(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestServiceGetPropagatesStoreErrors(t *testing.T) {
	store := newFailingStore()
	store.getErr = errors.New("connection refused")
	svc := NewService(store, nil, zerolog.Nop())

	_, err := svc.Get(context.Background(), "acct-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestServicePutInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := newFailingStore()
	svc := NewService(store, NewMemoryCache(time.Hour), zerolog.Nop())

	_, err := svc.Get(ctx, "acct-1")
	require.NoError(t, err)
	_, err = svc.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets, "second read must come from cache")

	updated := Policy{
		RequiredFactors:        []Factor{FactorTOTP, FactorPassword},
		MaxAttempts:            3,
		LockoutDurationSeconds: 60,
		SessionTimeoutSeconds:  600,
	}
	saved, err := svc.Put(ctx, "acct-1", updated)
	require.NoError(t, err)
	assert.Equal(t, []Factor{FactorPassword, FactorTOTP}, saved.RequiredFactors)

	got, err := svc.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, saved, got)
	assert.Equal(t, 2, store.gets)

	require.NoError(t, svc.Delete(ctx, "acct-1"))
	got, err = svc.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestServicePutRejectsInvalid(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, zerolog.Nop())
	_, err := svc.Put(context.Background(), "acct-1", Policy{RequiredFactors: []Factor{FactorTOTP}, MaxAttempts: 1, SessionTimeoutSeconds: 1})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	cache := NewMemoryCache(time.Minute)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "acct-1", Default()))
	_, ok, err := cache.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, err = cache.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
