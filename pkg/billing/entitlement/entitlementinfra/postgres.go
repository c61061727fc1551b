package entitlementinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/coagline/coagline/pkg/billing/entitlement"
	"github.com/coagline/coagline/pkg/kernel"
)

// PostgresRepository implements entitlement.Repository on PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ entitlement.Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Find(ctx context.Context, accountID kernel.AccountID) (*entitlement.Record, error) {
	query := `
		SELECT account_id, status, plan_type,
		       trial_start_date, trial_end_date, grace_period_end,
		       subscription_end, next_billing_date,
		       scheduled_plan, scheduled_change_at
		FROM subscriptions
		WHERE account_id = $1`

	var rec entitlement.Record
	if err := r.db.GetContext(ctx, &rec, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entitlement.ErrRecordNotFound()
		}
		return nil, fmt.Errorf("finding subscription record: %w", err)
	}
	return &rec, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *entitlement.Record) error {
	query := `
		INSERT INTO subscriptions (
			account_id, status, plan_type,
			trial_start_date, trial_end_date, grace_period_end,
			subscription_end, next_billing_date,
			scheduled_plan, scheduled_change_at
		) VALUES (
			:account_id, :status, :plan_type,
			:trial_start_date, :trial_end_date, :grace_period_end,
			:subscription_end, :next_billing_date,
			:scheduled_plan, :scheduled_change_at
		)
		ON CONFLICT (account_id) DO UPDATE SET
			status = EXCLUDED.status,
			plan_type = EXCLUDED.plan_type,
			trial_start_date = EXCLUDED.trial_start_date,
			trial_end_date = EXCLUDED.trial_end_date,
			grace_period_end = EXCLUDED.grace_period_end,
			subscription_end = EXCLUDED.subscription_end,
			next_billing_date = EXCLUDED.next_billing_date,
			scheduled_plan = EXCLUDED.scheduled_plan,
			scheduled_change_at = EXCLUDED.scheduled_change_at`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("upserting subscription record: %w", err)
	}
	return nil
}

// BeginTrial races safely against itself: the conditional update only
// matches a row whose trial never started, so of two concurrent starts
// exactly one affects a row and the other reports the conflict.
func (r *PostgresRepository) BeginTrial(ctx context.Context, rec *entitlement.Record) error {
	query := `
		INSERT INTO subscriptions (
			account_id, status, plan_type, trial_start_date, trial_end_date
		) VALUES (
			:account_id, :status, :plan_type, :trial_start_date, :trial_end_date
		)
		ON CONFLICT (account_id) DO UPDATE SET
			status = EXCLUDED.status,
			plan_type = EXCLUDED.plan_type,
			trial_start_date = EXCLUDED.trial_start_date,
			trial_end_date = EXCLUDED.trial_end_date
		WHERE subscriptions.trial_start_date IS NULL`

	result, err := r.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return fmt.Errorf("beginning trial: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("beginning trial: %w", err)
	}
	if affected == 0 {
		return entitlement.ErrTrialAlreadyStarted()
	}
	return nil
}

func (r *PostgresRepository) AppendTrialHistory(ctx context.Context, entry *entitlement.TrialHistoryEntry) error {
	query := `
		INSERT INTO trial_history (account_id, action, actor, details, created_at)
		VALUES (:account_id, :action, :actor, :details, NOW())`

	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("appending trial history: %w", err)
	}
	return nil
}
