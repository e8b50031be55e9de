// Package audit records one immutable entry per administrator login attempt.
//
// Purpose:
//
//	This package defines the audit entry schema and the Recorder contract used
//	by the authentication orchestrator. Entries are append-only: nothing in this
//	service updates or deletes them once written.
//
// Dependencies:
//   - github.com/google/uuid: entry ids
//   - github.com/rs/zerolog: LoggerRecorder
//   - github.com/segmentio/kafka-go: KafkaRecorder
//
// Key Responsibilities:
//   - Entry / Outcome / FailureReason: the audit schema and the failure taxonomy
//   - NewEntry: assigns id and timestamp, computes the tamper-evidence hash
//   - Recorder implementations: Kafka, logger, memory, Multi (Postgres lives in
//     internal/storage/postgres)
//
// Debugging Notes:
//   - Hash is sha256 over the JSON payload with Hash cleared; VerifyHash recomputes it
//   - SourceContext carries request metadata (ip, user agent, device hash) and
//     markers such as "replay" or "lockout_triggered"
//
// Thread Safety:
//   - Recorder implementations must be safe for concurrent use
//
// Error Handling:
//   - Record returns an error whenever the entry may not have been persisted;
//     callers treat any error as fatal for the attempt
//   - LoggerRecorder never fails and is meant for development only
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Outcome of an authentication attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// FailureReason is the fine-grained failure taxonomy; it is only ever shown
// to administrators reviewing the audit trail.
type FailureReason string

const (
	ReasonNone                    FailureReason = ""
	ReasonAccountLocked           FailureReason = "account_locked"
	ReasonInvalidCredentials      FailureReason = "invalid_credentials"
	ReasonInvalidTOTP             FailureReason = "invalid_totp"
	ReasonFactorNotEnrolled       FailureReason = "factor_not_enrolled"
	ReasonUntrustedDevice         FailureReason = "untrusted_device"
	ReasonFactorCheckTimeout      FailureReason = "factor_check_timeout"
	ReasonInvalidConfirmationCode FailureReason = "invalid_confirmation_code"
	ReasonMalformedSecret         FailureReason = "malformed_secret"
	ReasonInvalidLabel            FailureReason = "invalid_label"
	ReasonAuditWriteFailure       FailureReason = "audit_write_failure"
)

// Source context keys.
const (
	ContextIPAddress        = "ip_address"
	ContextUserAgent        = "user_agent"
	ContextDeviceHash       = "device_fingerprint_sha256"
	ContextRequestID        = "request_id"
	ContextReplay           = "replay"
	ContextLockoutTriggered = "lockout_triggered"
	ContextDetail           = "detail"
)

// ErrWriteFailure wraps every Recorder error.
var ErrWriteFailure = errors.New("audit: write failure")

// Entry is one authentication attempt. Treat values as immutable.
type Entry struct {
	EntryID       uuid.UUID         `json:"entry_id"`
	AccountID     string            `json:"account_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Outcome       Outcome           `json:"outcome"`
	FailureReason FailureReason     `json:"failure_reason,omitempty"`
	FactorsUsed   []string          `json:"factors_used"`
	SourceContext map[string]string `json:"source_context,omitempty"`
	Hash          string            `json:"hash"`
}

// NewEntry builds an entry with a fresh id and hash. factorsUsed and
// sourceContext are copied.
func NewEntry(accountID string, at time.Time, outcome Outcome, reason FailureReason, factorsUsed []string, sourceContext map[string]string) Entry {
	e := Entry{
		EntryID:       uuid.New(),
		AccountID:     accountID,
		Timestamp:     at.UTC().Truncate(time.Microsecond),
		Outcome:       outcome,
		FailureReason: reason,
		FactorsUsed:   append([]string{}, factorsUsed...),
	}
	if outcome == OutcomeSuccess {
		e.FailureReason = ReasonNone
	}
	if len(sourceContext) > 0 {
		e.SourceContext = make(map[string]string, len(sourceContext))
		for k, v := range sourceContext {
			e.SourceContext[k] = v
		}
	}
	sort.Strings(e.FactorsUsed)
	e.Hash = computeEntryHash(e)
	return e
}

// VerifyHash reports whether the entry still matches its hash.
func (e Entry) VerifyHash() bool {
	return e.Hash != "" && e.Hash == computeEntryHash(e)
}

// computeEntryHash computes SHA256 of the entry payload (excluding the hash).
func computeEntryHash(e Entry) string {
	e.Hash = ""
	payload, err := json.Marshal(e)
	if err != nil {
		payload = []byte(fmt.Sprintf("%+v", e))
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Recorder appends audit entries.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Lister reads back an account's entries, newest first.
type Lister interface {
	ListEntries(ctx context.Context, accountID string, limit int) ([]Entry, error)
}
