// Package governor implements the login attempt governor: it counts consecutive
// authentication failures per account, locks the account once the policy's
// threshold is reached, and clears the counter on a fully successful login.
//
// Purpose:
//
//	The attempt counter is the only piece of authentication state mutated by
//	concurrent requests. Every CounterStore applies Counter.ApplyFailures and
//	the success reset as single atomic units per account (mutex, Redis Lua
//	script, or a Postgres row lock), so two concurrent failures can never both
//	observe the pre-increment value, and an attempt that was in flight when
//	the account locked can never clear that lock.
//
// Dependencies:
//   - github.com/redis/go-redis/v9: RedisStore (server-side Lua)
//   - internal/keylock: per-account mutex for MemoryStore
//   - internal/policy: thresholds
//
// Key Responsibilities:
//   - CheckLockout: read-only lock check (lockedUntil == now counts as unlocked)
//   - RecordFailure: atomic increment-and-compare, reports the lockout transition
//   - RecordSuccess: clears the counter unless it is locked at now (ErrLocked)
//   - Restore: puts back failures cleared by a success that was later denied
//   - Unlock: unconditional administrative reset
//
// Debugging Notes:
//   - A failure recorded while the account is still locked leaves the counter
//     untouched, so ConsecutiveFailures never exceeds MaxAttempts through races
//   - An expired lock is cleared by the next failure, which then counts as 1
//   - Outcome.AlreadyLocked marks a failure that landed on a live lock; the
//     caller reports it as AccountLocked so in-flight guesses learn nothing
//
// Thread Safety:
//   - Governor is safe for concurrent use; atomicity is delegated to the store
package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/otherjamesbrown/admin-auth-service/internal/metrics"
	"github.com/otherjamesbrown/admin-auth-service/internal/policy"
)

// ErrLocked is returned by RecordSuccess when the account locked while the
// attempt was in flight.
var ErrLocked = errors.New("governor: account locked")

// Counter is the per-account attempt counter.
type Counter struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
}

// LockedAt reports whether the counter denies attempts at now.
func (c Counter) LockedAt(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// ApplyFailures returns the counter after n more failures at now, and whether
// they locked the account.
func (c Counter) ApplyFailures(now time.Time, n, maxAttempts int, lockout time.Duration) (Counter, bool) {
	if c.LockedAt(now) || n <= 0 {
		return c, false
	}
	if c.LockedUntil != nil {
		c = Counter{}
	}
	c.ConsecutiveFailures += n
	if c.ConsecutiveFailures >= maxAttempts {
		until := now.Add(lockout)
		c.LockedUntil = &until
		return c, true
	}
	return c, false
}

// carried is the number of failures a cleared counter still held. An expired
// lock carries nothing, since the next failure would have started over.
func (c Counter) carried() int {
	if c.LockedUntil != nil {
		return 0
	}
	return c.ConsecutiveFailures
}

// CounterStore persists counters. RecordFailures and ClearUnlessLocked must
// each be atomic for the account.
type CounterStore interface {
	LoadCounter(ctx context.Context, accountID string) (Counter, error)
	// RecordFailures applies Counter.ApplyFailures.
	RecordFailures(ctx context.Context, accountID string, now time.Time, n, maxAttempts int, lockout time.Duration) (Counter, bool, error)
	// ClearUnlessLocked resets the counter unless it is locked at now. It
	// returns the counter it found and whether it was cleared.
	ClearUnlessLocked(ctx context.Context, accountID string, now time.Time) (Counter, bool, error)
	ResetCounter(ctx context.Context, accountID string) error
}

// Status is the result of CheckLockout.
type Status struct {
	Locked              bool
	LockedUntil         *time.Time
	ConsecutiveFailures int
}

// Outcome is the result of RecordFailure.
type Outcome struct {
	Counter   Counter
	LockedNow bool
	// AlreadyLocked is set when the failure was not counted because another
	// attempt locked the account first.
	AlreadyLocked bool
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// Governor enforces lockout policy on top of a CounterStore.
type Governor struct {
	store  CounterStore
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a governor.
func New(store CounterStore, logger zerolog.Logger, opts ...Option) *Governor {
	g := &Governor{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "governor").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckLockout reports whether the account currently rejects attempts.
func (g *Governor) CheckLockout(ctx context.Context, accountID string) (Status, error) {
	c, err := g.store.LoadCounter(ctx, accountID)
	if err != nil {
		return Status{}, fmt.Errorf("governor: load counter: %w", err)
	}
	status := Status{ConsecutiveFailures: c.ConsecutiveFailures}
	if c.LockedAt(g.now()) {
		status.Locked = true
		status.LockedUntil = c.LockedUntil
	}
	return status, nil
}

// RecordFailure counts one failed attempt against p's threshold.
func (g *Governor) RecordFailure(ctx context.Context, accountID string, p policy.Policy) (Outcome, error) {
	now := g.now()
	c, lockedNow, err := g.store.RecordFailures(ctx, accountID, now, 1, p.MaxAttempts, p.LockoutDuration())
	if err != nil {
		return Outcome{}, fmt.Errorf("governor: record failure: %w", err)
	}
	if lockedNow {
		g.logLockout(accountID, c)
	}
	return Outcome{Counter: c, LockedNow: lockedNow, AlreadyLocked: !lockedNow && c.LockedAt(now)}, nil
}

// RecordSuccess clears the counter unless the account is locked, in which
// case it returns ErrLocked with the locked counter. The returned counter is
// what was cleared; pass it to Restore if the success is denied afterwards.
func (g *Governor) RecordSuccess(ctx context.Context, accountID string) (Counter, error) {
	c, cleared, err := g.store.ClearUnlessLocked(ctx, accountID, g.now())
	if err != nil {
		return Counter{}, fmt.Errorf("governor: reset counter: %w", err)
	}
	if !cleared {
		return c, ErrLocked
	}
	return c, nil
}

// Restore adds back the failures a RecordSuccess cleared, on top of anything
// recorded since.
func (g *Governor) Restore(ctx context.Context, accountID string, cleared Counter, p policy.Policy) error {
	n := cleared.carried()
	if n == 0 {
		return nil
	}
	c, lockedNow, err := g.store.RecordFailures(ctx, accountID, g.now(), n, p.MaxAttempts, p.LockoutDuration())
	if err != nil {
		return fmt.Errorf("governor: restore counter: %w", err)
	}
	if lockedNow {
		g.logLockout(accountID, c)
	}
	return nil
}

func (g *Governor) logLockout(accountID string, c Counter) {
	metrics.RecordLockout()
	g.logger.Warn().
		Str("account_id", accountID).
		Int("consecutive_failures", c.ConsecutiveFailures).
		Time("locked_until", *c.LockedUntil).
		Msg("account locked")
}

// Unlock clears the counter and any live lock.
func (g *Governor) Unlock(ctx context.Context, accountID string) error {
	if err := g.store.ResetCounter(ctx, accountID); err != nil {
		return fmt.Errorf("governor: unlock: %w", err)
	}
	g.logger.Info().Str("account_id", accountID).Msg("account unlocked")
	return nil
}

// Counter returns the raw counter.
func (g *Governor) Counter(ctx context.Context, accountID string) (Counter, error) {
	return g.store.LoadCounter(ctx, accountID)
}
