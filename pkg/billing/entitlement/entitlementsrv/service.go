package entitlementsrv

import (
	"context"
	"fmt"
	"time"

	"github.com/coagline/coagline/pkg/asyncx"
	"github.com/coagline/coagline/pkg/billing/entitlement"
	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/events"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/logx"
	"github.com/coagline/coagline/pkg/ptrx"
)

const (
	// DefaultTrialDays is the trial length granted by StartTrial when the
	// caller does not specify one.
	DefaultTrialDays = 14

	freeMonthDays  = 30
	historyTimeout = 5 * time.Second
)

// Service owns all writes to subscription records and exposes read-side
// access classification. Webhooks and the admin console both go through it.
type Service struct {
	repo entitlement.Repository
	bus  *events.Bus
}

func NewService(repo entitlement.Repository, bus *events.Bus) *Service {
	return &Service{repo: repo, bus: bus}
}

// ============================================================================
// Read Side
// ============================================================================

// Check classifies the account's current access. A missing record is a
// valid state: the account simply never picked a plan.
func (s *Service) Check(ctx context.Context, accountID kernel.AccountID) (entitlement.Access, error) {
	rec, err := s.find(ctx, accountID)
	if err != nil {
		return entitlement.Access{}, err
	}
	return entitlement.Classify(*rec, time.Now()), nil
}

// Record returns the raw subscription record for the account.
func (s *Service) Record(ctx context.Context, accountID kernel.AccountID) (*entitlement.Record, error) {
	return s.find(ctx, accountID)
}

// ============================================================================
// Trial Lifecycle
// ============================================================================

// StartTrial begins the account's one and only trial. The trial start date
// is write-once: a second call fails with a conflict even after the trial
// has expired or a paid plan was taken.
func (s *Service) StartTrial(ctx context.Context, accountID kernel.AccountID, days int, actor string) (*entitlement.Record, error) {
	if days <= 0 {
		days = DefaultTrialDays
	}

	rec, err := s.find(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if rec.TrialStartDate != nil {
		return nil, entitlement.ErrTrialAlreadyStarted()
	}

	now := time.Now()
	rec.Status = entitlement.StatusTrial
	rec.PlanType = "trial"
	rec.TrialStartDate = ptrx.Ptr(now)
	rec.TrialEndDate = ptrx.Ptr(now.AddDate(0, 0, days))

	// The read above only gives the friendly error path. BeginTrial
	// re-checks the write-once start inside the statement, so two racing
	// calls cannot both begin a trial.
	if err := s.repo.BeginTrial(ctx, rec); err != nil {
		return nil, err
	}

	s.appendHistory(accountID, "trial_started", actor, fmt.Sprintf("%d days", days))
	s.publishChanged(accountID, "trial_started")
	return rec, nil
}

// ExtendTrial pushes the trial end date out by the given number of days.
// An already-expired trial extends from now, not from its old end date.
func (s *Service) ExtendTrial(ctx context.Context, accountID kernel.AccountID, days int, actor string) (*entitlement.Record, error) {
	if days <= 0 {
		return nil, errx.Validation("days must be positive")
	}

	rec, err := s.find(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	base := now
	if rec.TrialEndDate != nil && rec.TrialEndDate.After(now) {
		base = *rec.TrialEndDate
	}
	rec.TrialEndDate = ptrx.Ptr(base.AddDate(0, 0, days))
	if rec.TrialStartDate == nil {
		rec.TrialStartDate = ptrx.Ptr(now)
	}

	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	s.appendHistory(accountID, "trial_extended", actor, fmt.Sprintf("%d days", days))
	s.publishChanged(accountID, "trial_extended")
	return rec, nil
}

// GiveFreeMonth grants thirty days of access on top of whatever the
// account currently has.
func (s *Service) GiveFreeMonth(ctx context.Context, accountID kernel.AccountID, actor string) (*entitlement.Record, error) {
	rec, err := s.ExtendTrial(ctx, accountID, freeMonthDays, actor)
	if err != nil {
		return nil, err
	}
	s.appendHistory(accountID, "free_month", actor, "")
	return rec, nil
}

// SetGracePeriod sets the past-due grace window during which a failed
// payment does not cost the account its access.
func (s *Service) SetGracePeriod(ctx context.Context, accountID kernel.AccountID, until time.Time, actor string) (*entitlement.Record, error) {
	if until.Before(time.Now()) {
		return nil, errx.Validation("grace period end must be in the future")
	}

	rec, err := s.find(ctx, accountID)
	if err != nil {
		return nil, err
	}
	rec.GracePeriodEnd = ptrx.Ptr(until)

	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	s.appendHistory(accountID, "grace_period_set", actor, until.Format(time.RFC3339))
	s.publishChanged(accountID, "grace_period_set")
	return rec, nil
}

// ============================================================================
// Webhook Application
// ============================================================================

// ProcessorUpdate carries the subscription fields a billing webhook may
// change. Nil pointers leave the stored value untouched.
type ProcessorUpdate struct {
	Status          entitlement.Status
	PlanType        string
	TrialEndDate    *time.Time
	SubscriptionEnd *time.Time
	NextBillingDate *time.Time
	GracePeriodEnd  *time.Time
}

// ApplyProcessorUpdate folds a billing-processor webhook into the stored
// record. It deliberately never touches the trial start date.
func (s *Service) ApplyProcessorUpdate(ctx context.Context, accountID kernel.AccountID, upd ProcessorUpdate) (*entitlement.Record, error) {
	rec, err := s.find(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if upd.Status != "" {
		rec.Status = upd.Status
	}
	if upd.PlanType != "" {
		rec.PlanType = upd.PlanType
	}
	if upd.TrialEndDate != nil {
		rec.TrialEndDate = upd.TrialEndDate
	}
	if upd.SubscriptionEnd != nil {
		rec.SubscriptionEnd = upd.SubscriptionEnd
	}
	if upd.NextBillingDate != nil {
		rec.NextBillingDate = upd.NextBillingDate
	}
	if upd.GracePeriodEnd != nil {
		rec.GracePeriodEnd = upd.GracePeriodEnd
	}

	if err := s.repo.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	s.publishChanged(accountID, "processor_update")
	return rec, nil
}

// ============================================================================
// Internals
// ============================================================================

// find loads the record, substituting a zero-value record when none exists
// yet. Classification of the zero record yields readonly/no_plan_selected,
// which is exactly what a never-subscribed account should see.
func (s *Service) find(ctx context.Context, accountID kernel.AccountID) (*entitlement.Record, error) {
	rec, err := s.repo.Find(ctx, accountID)
	if err != nil {
		if errx.IsType(err, errx.TypeNotFound) {
			return &entitlement.Record{
				AccountID: accountID,
				Status:    entitlement.StatusNoneSelected,
			}, nil
		}
		return nil, err
	}
	return rec, nil
}

func (s *Service) appendHistory(accountID kernel.AccountID, action, actor, details string) {
	asyncx.DoTimeout(historyTimeout, func(ctx context.Context) {
		entry := &entitlement.TrialHistoryEntry{
			AccountID: accountID,
			Action:    action,
			Actor:     actor,
			Details:   details,
		}
		if err := s.repo.AppendTrialHistory(ctx, entry); err != nil {
			logx.WithFields(logx.Fields{
				"account_id": accountID,
				"action":     action,
			}).WithError(err).Warn("failed to append trial history")
		}
	})
}

func (s *Service) publishChanged(accountID kernel.AccountID, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:      events.EventEntitlementChanged,
		AccountID: accountID,
		Reason:    reason,
	})
}
