package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/admin-auth-service/internal/audit"
)

// Record implements audit.Recorder.
func (s *Store) Record(ctx context.Context, e audit.Entry) error {
	sourceContext, err := mustJSONB(e.SourceContext)
	if err != nil {
		return fmt.Errorf("%w: encode source context: %v", audit.ErrWriteFailure, err)
	}
	if sourceContext == nil {
		sourceContext = []byte(`{}`)
	}
	factors := e.FactorsUsed
	if factors == nil {
		factors = []string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_entries (
			entry_id, account_id, occurred_at, outcome, failure_reason,
			factors_used, source_context, entry_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		e.EntryID,
		e.AccountID,
		e.Timestamp,
		string(e.Outcome),
		nullableString(string(e.FailureReason)),
		factors,
		sourceContext,
		e.Hash,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", audit.ErrWriteFailure, err)
	}
	return nil
}

// ListEntries implements audit.Lister, newest first.
func (s *Store) ListEntries(ctx context.Context, accountID string, limit int) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, account_id, occurred_at, outcome, failure_reason,
		       factors_used, source_context, entry_hash
		FROM audit_entries
		WHERE account_id = $1
		ORDER BY occurred_at DESC, entry_id
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e             audit.Entry
			id            uuid.UUID
			occurredAt    time.Time
			outcome       string
			reason        *string
			sourceContext []byte
		)
		if err := rows.Scan(&id, &e.AccountID, &occurredAt, &outcome, &reason, &e.FactorsUsed, &sourceContext, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.EntryID = id
		e.Timestamp = occurredAt.UTC()
		e.Outcome = audit.Outcome(outcome)
		if reason != nil {
			e.FailureReason = audit.FailureReason(*reason)
		}
		if e.FactorsUsed == nil {
			e.FactorsUsed = []string{}
		}
		if e.SourceContext, err = jsonStringMap(sourceContext); err != nil {
			return nil, fmt.Errorf("decode source context: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func jsonStringMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
