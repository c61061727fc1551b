package entitlement

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
)

// ============================================================================
// Subscription Record
// ============================================================================

// Status is the processor-level subscription state.
type Status string

const (
	StatusNoneSelected        Status = "none_selected"
	StatusTrial               Status = "trial"
	StatusTrialing            Status = "trialing"
	StatusActive              Status = "active"
	StatusPastDue             Status = "past_due"
	StatusCanceling           Status = "canceling"
	StatusCanceled            Status = "canceled"
	StatusPendingCancellation Status = "pending_cancellation"
)

// Record is the per-account subscription/entitlement state. It is mutated
// only by billing webhooks and admin actions; classification never writes.
type Record struct {
	AccountID kernel.AccountID `db:"account_id" json:"account_id"`
	Status    Status           `db:"status" json:"status"`
	PlanType  string           `db:"plan_type" json:"plan_type"`

	TrialStartDate  *time.Time `db:"trial_start_date" json:"trial_start_date,omitempty"`
	TrialEndDate    *time.Time `db:"trial_end_date" json:"trial_end_date,omitempty"`
	GracePeriodEnd  *time.Time `db:"grace_period_end" json:"grace_period_end,omitempty"`
	SubscriptionEnd *time.Time `db:"subscription_end" json:"subscription_end,omitempty"`
	NextBillingDate *time.Time `db:"next_billing_date" json:"next_billing_date,omitempty"`

	ScheduledPlan     *string    `db:"scheduled_plan" json:"scheduled_plan,omitempty"`
	ScheduledChangeAt *time.Time `db:"scheduled_change_at" json:"scheduled_change_at,omitempty"`
}

// ============================================================================
// Access Classification
// ============================================================================

// AccessLevel is an account's current product access.
type AccessLevel string

const (
	AccessFull     AccessLevel = "full"
	AccessReadOnly AccessLevel = "readonly"

	// AccessNone is a reserved terminal state. No rule below produces it;
	// it exists so a future hard-lockout state has a name.
	AccessNone AccessLevel = "none"
)

// Reason codes returned by Classify.
const (
	ReasonActiveSubscription  = "active_subscription"
	ReasonTrialing            = "trialing"
	ReasonGracePeriod         = "grace_period"
	ReasonTrial               = "trial"
	ReasonPendingCancellation = "pending_cancellation"
	ReasonCanceledWithAccess  = "canceled_with_access"
	ReasonNoPlanSelected      = "no_plan_selected"
	ReasonPaymentFailed       = "payment_failed"
	ReasonSubscriptionEnded   = "subscription_ended"
	ReasonTrialExpired        = "trial_expired"
)

// Access is the result of classifying a subscription record.
type Access struct {
	Level         AccessLevel `json:"access_level"`
	Reason        string      `json:"reason"`
	DaysRemaining int         `json:"days_remaining"`
	Message       string      `json:"message,omitempty"`
}

// Classify computes the account's access level from its subscription record
// and the current time. It is a total, side-effect-free function.
//
// The rules are evaluated first-match-wins and the order is load-bearing:
// an active subscription must win over an expired trial date, and the
// paid-for tail of a canceled subscription must win over the lapsed default.
func Classify(rec Record, now time.Time) Access {
	// 1. Active subscription.
	if rec.Status == StatusActive {
		return Access{Level: AccessFull, Reason: ReasonActiveSubscription}
	}

	// 2. Processor-managed trial.
	if rec.Status == StatusTrialing {
		return Access{
			Level:         AccessFull,
			Reason:        ReasonTrialing,
			DaysRemaining: daysUntil(rec.TrialEndDate, now),
		}
	}

	// 3. Grace period after a failed payment.
	if rec.Status == StatusPastDue && rec.GracePeriodEnd != nil && now.Before(*rec.GracePeriodEnd) {
		return Access{
			Level:         AccessFull,
			Reason:        ReasonGracePeriod,
			DaysRemaining: daysUntil(rec.GracePeriodEnd, now),
			Message:       "Your last payment failed. Update your payment method to keep access.",
		}
	}

	// 4. App-level trial window, independent of processor status.
	if rec.TrialEndDate != nil && now.Before(*rec.TrialEndDate) {
		return Access{
			Level:         AccessFull,
			Reason:        ReasonTrial,
			DaysRemaining: daysUntil(rec.TrialEndDate, now),
		}
	}

	// 5. Canceled or cancellation pending, still inside the paid-for period.
	if (rec.Status == StatusCanceled || rec.Status == StatusPendingCancellation) &&
		rec.SubscriptionEnd != nil && now.Before(*rec.SubscriptionEnd) {
		days := daysUntil(rec.SubscriptionEnd, now)
		reason := ReasonCanceledWithAccess
		if rec.Status == StatusPendingCancellation {
			reason = ReasonPendingCancellation
		}
		return Access{
			Level:         AccessFull,
			Reason:        reason,
			DaysRemaining: days,
			Message:       fmt.Sprintf("Your subscription ends in %d days.", days),
		}
	}

	// 6. No plan ever selected.
	if rec.PlanType == "" || rec.PlanType == "pending" || rec.PlanType == "none" {
		return Access{Level: AccessReadOnly, Reason: ReasonNoPlanSelected}
	}

	// 7. Default: trial or subscription lapsed.
	switch rec.Status {
	case StatusPastDue:
		return Access{Level: AccessReadOnly, Reason: ReasonPaymentFailed}
	case StatusCanceled:
		return Access{Level: AccessReadOnly, Reason: ReasonSubscriptionEnded}
	default:
		return Access{Level: AccessReadOnly, Reason: ReasonTrialExpired}
	}
}

// daysUntil is ceil((t - now) / 24h), floored at zero.
func daysUntil(t *time.Time, now time.Time) int {
	if t == nil {
		return 0
	}
	remaining := t.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("BILLING")

var (
	CodeRecordNotFound      = ErrRegistry.Register("RECORD_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Subscription record not found")
	CodeTrialAlreadyStarted = ErrRegistry.Register("TRIAL_ALREADY_STARTED", errx.TypeConflict, http.StatusConflict, "A trial has already been started for this account")
)

func ErrRecordNotFound() *errx.Error {
	return ErrRegistry.New(CodeRecordNotFound)
}

func ErrTrialAlreadyStarted() *errx.Error {
	return ErrRegistry.New(CodeTrialAlreadyStarted)
}
