package entitlement_test

import (
	"testing"
	"time"

	"github.com/coagline/coagline/pkg/billing/entitlement"
	"github.com/coagline/coagline/pkg/ptrx"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestClassifyActiveSubscription(t *testing.T) {
	// An expired trial date must not matter once the subscription is active.
	rec := entitlement.Record{
		Status:       entitlement.StatusActive,
		PlanType:     "standard",
		TrialEndDate: ptrx.Ptr(now.AddDate(0, 0, -30)),
	}

	got := entitlement.Classify(rec, now)
	if got.Level != entitlement.AccessFull {
		t.Fatalf("level = %q, want %q", got.Level, entitlement.AccessFull)
	}
	if got.Reason != entitlement.ReasonActiveSubscription {
		t.Fatalf("reason = %q, want %q", got.Reason, entitlement.ReasonActiveSubscription)
	}
}

func TestClassifyProcessorTrial(t *testing.T) {
	rec := entitlement.Record{
		Status:       entitlement.StatusTrialing,
		PlanType:     "standard",
		TrialEndDate: ptrx.Ptr(now.Add(36 * time.Hour)),
	}

	got := entitlement.Classify(rec, now)
	if got.Level != entitlement.AccessFull || got.Reason != entitlement.ReasonTrialing {
		t.Fatalf("got %q/%q, want full/trialing", got.Level, got.Reason)
	}
	// 36h rounds up to 2 days.
	if got.DaysRemaining != 2 {
		t.Fatalf("daysRemaining = %d, want 2", got.DaysRemaining)
	}
}

func TestClassifyGracePeriod(t *testing.T) {
	rec := entitlement.Record{
		Status:         entitlement.StatusPastDue,
		PlanType:       "standard",
		GracePeriodEnd: ptrx.Ptr(now.AddDate(0, 0, 2)),
	}

	got := entitlement.Classify(rec, now)
	if got.Level != entitlement.AccessFull || got.Reason != entitlement.ReasonGracePeriod {
		t.Fatalf("got %q/%q, want full/grace_period", got.Level, got.Reason)
	}
	if got.DaysRemaining != 2 {
		t.Fatalf("daysRemaining = %d, want 2", got.DaysRemaining)
	}
	if got.Message == "" {
		t.Fatal("expected payment warning message")
	}
}

func TestClassifyGracePeriodExpired(t *testing.T) {
	rec := entitlement.Record{
		Status:         entitlement.StatusPastDue,
		PlanType:       "standard",
		GracePeriodEnd: ptrx.Ptr(now.Add(-time.Hour)),
	}

	got := entitlement.Classify(rec, now)
	if got.Level != entitlement.AccessReadOnly {
		t.Fatalf("level = %q, want %q", got.Level, entitlement.AccessReadOnly)
	}
	if got.Reason != entitlement.ReasonPaymentFailed {
		t.Fatalf("reason = %q, want %q", got.Reason, entitlement.ReasonPaymentFailed)
	}
}

func TestClassifyAppTrial(t *testing.T) {
	rec := entitlement.Record{
		Status:       entitlement.StatusTrial,
		PlanType:     "trial",
		TrialEndDate: ptrx.Ptr(now.Add(25 * time.Hour)),
	}

	got := entitlement.Classify(rec, now)
	if got.Level != entitlement.AccessFull || got.Reason != entitlement.ReasonTrial {
		t.Fatalf("got %q/%q, want full/trial", got.Level, got.Reason)
	}
	if got.DaysRemaining != 2 {
		t.Fatalf("daysRemaining = %d, want 2", got.DaysRemaining)
	}
}

func TestClassifyTrialExpiryBoundary(t *testing.T) {
	// now == trialEnd is expired: the window is exclusive at its end.
	rec := entitlement.Record{
		Status:       entitlement.StatusTrial,
		PlanType:     "trial",
		TrialEndDate: ptrx.Ptr(now),
	}

	got := entitlement.Classify(rec, now)
	if got.Level != entitlement.AccessReadOnly {
		t.Fatalf("level = %q, want %q", got.Level, entitlement.AccessReadOnly)
	}
	if got.Reason != entitlement.ReasonTrialExpired {
		t.Fatalf("reason = %q, want %q", got.Reason, entitlement.ReasonTrialExpired)
	}
	if got.DaysRemaining != 0 {
		t.Fatalf("daysRemaining = %d, want 0", got.DaysRemaining)
	}
}

func TestClassifyCanceledWithPaidTail(t *testing.T) {
	tests := []struct {
		name       string
		status     entitlement.Status
		wantReason string
	}{
		{"canceled", entitlement.StatusCanceled, entitlement.ReasonCanceledWithAccess},
		{"pending cancellation", entitlement.StatusPendingCancellation, entitlement.ReasonPendingCancellation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := entitlement.Record{
				Status:          tt.status,
				PlanType:        "standard",
				SubscriptionEnd: ptrx.Ptr(now.AddDate(0, 0, 5)),
			}

			got := entitlement.Classify(rec, now)
			if got.Level != entitlement.AccessFull {
				t.Fatalf("level = %q, want %q", got.Level, entitlement.AccessFull)
			}
			if got.Reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if got.DaysRemaining != 5 {
				t.Fatalf("daysRemaining = %d, want 5", got.DaysRemaining)
			}
		})
	}
}

func TestClassifyLapsed(t *testing.T) {
	tests := []struct {
		name       string
		rec        entitlement.Record
		wantReason string
	}{
		{
			name:       "never selected a plan",
			rec:        entitlement.Record{Status: entitlement.StatusNoneSelected},
			wantReason: entitlement.ReasonNoPlanSelected,
		},
		{
			name:       "plan type pending counts as unselected",
			rec:        entitlement.Record{Status: entitlement.StatusTrial, PlanType: "pending"},
			wantReason: entitlement.ReasonNoPlanSelected,
		},
		{
			name: "subscription ended",
			rec: entitlement.Record{
				Status:          entitlement.StatusCanceled,
				PlanType:        "standard",
				SubscriptionEnd: ptrx.Ptr(now.Add(-time.Hour)),
			},
			wantReason: entitlement.ReasonSubscriptionEnded,
		},
		{
			name: "trial lapsed",
			rec: entitlement.Record{
				Status:       entitlement.StatusTrial,
				PlanType:     "trial",
				TrialEndDate: ptrx.Ptr(now.AddDate(0, 0, -3)),
			},
			wantReason: entitlement.ReasonTrialExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := entitlement.Classify(tt.rec, now)
			if got.Level != entitlement.AccessReadOnly {
				t.Fatalf("level = %q, want %q", got.Level, entitlement.AccessReadOnly)
			}
			if got.Reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", got.Reason, tt.wantReason)
			}
		})
	}
}
