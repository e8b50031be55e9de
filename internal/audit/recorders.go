package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// LoggerRecorder is a development recorder that logs entries as JSON.
// In production use a durable recorder; this one cannot detect lost writes.
type LoggerRecorder struct {
	logger zerolog.Logger
}

// NewLoggerRecorder creates a logger-based recorder.
func NewLoggerRecorder(logger zerolog.Logger) *LoggerRecorder {
	return &LoggerRecorder{logger: logger.With().Str("component", "audit").Logger()}
}

// Record logs the entry. Never fails.
func (r *LoggerRecorder) Record(_ context.Context, e Entry) error {
	r.logger.Info().
		Str("entry_id", e.EntryID.String()).
		Str("account_id", e.AccountID).
		Str("outcome", string(e.Outcome)).
		Str("failure_reason", string(e.FailureReason)).
		Strs("factors_used", e.FactorsUsed).
		Interface("source_context", e.SourceContext).
		Str("hash", e.Hash).
		Msg("audit entry")
	return nil
}

// MemoryRecorder keeps entries in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record implements Recorder.
func (r *MemoryRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailure, r.err)
	}
	r.entries = append(r.entries, e)
	return nil
}

// SetErr makes subsequent Record calls fail (nil restores them).
func (r *MemoryRecorder) SetErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Entries returns a copy of every recorded entry in append order.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// ListEntries implements Lister.
func (r *MemoryRecorder) ListEntries(_ context.Context, accountID string, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Multi writes every entry to all recorders in order and fails if any of them
// fails. The first recorder should be the system of record.
type Multi []Recorder

// Record implements Recorder.
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrWriteFailure, errors.Join(errs...))
	}
	return nil
}

// BestEffort forwards entries to a secondary sink and never fails. Use it for
// streams that mirror the system of record, so an outage there does not deny
// logins that were already durably audited.
type BestEffort struct {
	Recorder Recorder
	Logger   zerolog.Logger
}

// Record implements Recorder.
func (b BestEffort) Record(ctx context.Context, e Entry) error {
	if err := b.Recorder.Record(ctx, e); err != nil {
		b.Logger.Warn().Err(err).
			Str("entry_id", e.EntryID.String()).
			Str("account_id", e.AccountID).
			Msg("audit mirror write failed")
	}
	return nil
}

var (
	_ Recorder = (*LoggerRecorder)(nil)
	_ Recorder = BestEffort{}
	_ Recorder = (*MemoryRecorder)(nil)
	_ Lister   = (*MemoryRecorder)(nil)
	_ Recorder = Multi(nil)
)
