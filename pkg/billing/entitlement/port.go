package entitlement

import (
	"context"
	"time"

	"github.com/coagline/coagline/pkg/kernel"
)

// Repository persists subscription records and their trial audit trail.
type Repository interface {
	// Find returns the record for the account, or ErrRecordNotFound.
	Find(ctx context.Context, accountID kernel.AccountID) (*Record, error)

	// Upsert writes the record, creating it on first contact.
	Upsert(ctx context.Context, rec *Record) error

	// BeginTrial writes the record's trial fields guarded by the
	// write-once trial start: the statement only matches while the stored
	// row has no trial_start_date yet, and fails with
	// ErrTrialAlreadyStarted otherwise.
	BeginTrial(ctx context.Context, rec *Record) error

	// AppendTrialHistory records an admin or webhook action against the
	// account's trial for later audit.
	AppendTrialHistory(ctx context.Context, entry *TrialHistoryEntry) error
}

// TrialHistoryEntry is one audit row for a trial-affecting action.
type TrialHistoryEntry struct {
	ID        int64            `db:"id"`
	AccountID kernel.AccountID `db:"account_id"`
	Action    string           `db:"action"`
	Actor     string           `db:"actor"`
	Details   string           `db:"details"`
	CreatedAt time.Time        `db:"created_at"`
}
