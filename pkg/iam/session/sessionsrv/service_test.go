package sessionsrv_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/coagline/coagline/pkg/events"
	"github.com/coagline/coagline/pkg/iam/session"
	"github.com/coagline/coagline/pkg/iam/session/sessionsrv"
	"github.com/coagline/coagline/pkg/kernel"
)

// ============================================================================
// Fakes
// ============================================================================

type memRepo struct {
	sessions map[string]*session.Session
	findErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]*session.Session)}
}

func (m *memRepo) Save(_ context.Context, s session.Session) error {
	m.sessions[s.ID] = &s
	return nil
}

func (m *memRepo) Find(_ context.Context, sessionID string) (*session.Session, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound()
	}
	return s, nil
}

func (m *memRepo) Touch(_ context.Context, sessionID string) error {
	return nil
}

func (m *memRepo) Revoke(_ context.Context, sessionID string, ownerID kernel.IdentityID) error {
	s, ok := m.sessions[sessionID]
	if !ok || s.OwnerID != ownerID {
		return session.ErrSessionNotFound()
	}
	s.Revoked = true
	return nil
}

func (m *memRepo) RevokeAllExcept(_ context.Context, ownerID kernel.IdentityID, currentSessionID string) (int64, error) {
	var count int64
	for _, s := range m.sessions {
		if s.OwnerID == ownerID && s.ID != currentSessionID && !s.Revoked {
			s.Revoked = true
			count++
		}
	}
	return count, nil
}

func (m *memRepo) ListActive(_ context.Context, ownerID kernel.IdentityID, opts kernel.PaginationOptions) ([]session.Session, int, error) {
	var all []session.Session
	for _, s := range m.sessions {
		if s.OwnerID == ownerID && !s.Revoked {
			all = append(all, *s)
		}
	}
	start := (opts.Page - 1) * opts.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + opts.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

type fakeRevoker struct {
	revoked []kernel.IdentityID
}

func (f *fakeRevoker) RevokeAllCredentials(_ context.Context, id kernel.IdentityID) error {
	f.revoked = append(f.revoked, id)
	return nil
}

type fakeImpChecker struct {
	open bool
}

func (f fakeImpChecker) HasOpenImpersonation(context.Context, kernel.IdentityID) (bool, error) {
	return f.open, nil
}

func newService(repo *memRepo, imp sessionsrv.ImpersonationChecker) (*sessionsrv.Service, *events.Bus, *[]events.Event) {
	bus := events.NewBus()
	published := &[]events.Event{}
	bus.Subscribe(events.EventSessionsRevoked, func(e events.Event) {
		*published = append(*published, e)
	})
	return sessionsrv.NewService(repo, &fakeRevoker{}, imp, bus), bus, published
}

// ============================================================================
// Liveness
// ============================================================================

func TestCheckLiveHealthySession(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newService(repo, fakeImpChecker{})

	id, err := svc.RecordLogin(context.Background(), "ident-1", session.DeviceInfo{}, "10.0.0.1")
	if err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}

	liveness := svc.CheckLive(context.Background(), id)
	if !liveness.Live {
		t.Fatalf("liveness = %+v, want live", liveness)
	}
}

func TestCheckLiveFailsClosedOnMissingRow(t *testing.T) {
	svc, _, _ := newService(newMemRepo(), fakeImpChecker{})

	liveness := svc.CheckLive(context.Background(), "no-such-session")
	if liveness.Live {
		t.Fatal("unknown session reported live")
	}
	if liveness.Reason != session.ReasonUnknownSession {
		t.Fatalf("reason = %q, want %q", liveness.Reason, session.ReasonUnknownSession)
	}
}

func TestCheckLiveFailsOpenOnStoreOutage(t *testing.T) {
	repo := newMemRepo()
	repo.findErr = errors.New("connection refused")
	svc, _, _ := newService(repo, fakeImpChecker{})

	liveness := svc.CheckLive(context.Background(), "some-session")
	if !liveness.Live {
		t.Fatal("store outage must not sign users out")
	}
	if liveness.Reason != session.ReasonStoreUnavailable {
		t.Fatalf("reason = %q, want %q", liveness.Reason, session.ReasonStoreUnavailable)
	}
}

func TestCheckLiveRevokedSession(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newService(repo, fakeImpChecker{})
	ctx := context.Background()

	id, _ := svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, "10.0.0.1")
	if err := svc.Revoke(ctx, id, "ident-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	liveness := svc.CheckLive(ctx, id)
	if liveness.Live || liveness.Reason != session.ReasonRevoked {
		t.Fatalf("liveness = %+v, want revoked", liveness)
	}
}

// ============================================================================
// Revocation
// ============================================================================

func TestRevokeAllExceptKeepsCurrent(t *testing.T) {
	repo := newMemRepo()
	svc, _, published := newService(repo, fakeImpChecker{})
	ctx := context.Background()

	current, _ := svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, "10.0.0.1")
	other1, _ := svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, "10.0.0.2")
	other2, _ := svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, "10.0.0.3")

	count, err := svc.RevokeAllExcept(ctx, "ident-1", current)
	if err != nil {
		t.Fatalf("RevokeAllExcept: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}

	if !svc.CheckLive(ctx, current).Live {
		t.Fatal("current session was revoked")
	}
	for _, id := range []string{other1, other2} {
		if svc.CheckLive(ctx, id).Live {
			t.Fatalf("session %s still live", id)
		}
	}
	if len(*published) != 1 {
		t.Fatalf("published %d events, want 1", len(*published))
	}
}

func TestRevokeAllExceptNoOthersNoEvent(t *testing.T) {
	repo := newMemRepo()
	svc, _, published := newService(repo, fakeImpChecker{})
	ctx := context.Background()

	current, _ := svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, "10.0.0.1")

	count, err := svc.RevokeAllExcept(ctx, "ident-1", current)
	if err != nil {
		t.Fatalf("RevokeAllExcept: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
	if len(*published) != 0 {
		t.Fatal("no-op revocation must not emit an event")
	}
}

func TestRevokeScopedToOwner(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newService(repo, fakeImpChecker{})
	ctx := context.Background()

	id, _ := svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, "10.0.0.1")

	if err := svc.Revoke(ctx, id, "ident-other"); err == nil {
		t.Fatal("revoking another owner's session must fail")
	}
	if !svc.CheckLive(ctx, id).Live {
		t.Fatal("session was revoked by a foreign owner")
	}
}

func TestRevocationEventSuppressedDuringImpersonation(t *testing.T) {
	repo := newMemRepo()
	svc, _, published := newService(repo, fakeImpChecker{open: true})
	ctx := context.Background()

	id, _ := svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, "10.0.0.1")
	if err := svc.Revoke(ctx, id, "ident-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// The row is revoked either way; only the broadcast is held back.
	if svc.CheckLive(ctx, id).Live {
		t.Fatal("session must still be revoked in the registry")
	}
	if len(*published) != 0 {
		t.Fatal("revocation event must be suppressed while impersonated")
	}
}

// ============================================================================
// Listing
// ============================================================================

func TestListActiveCapsPageSize(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newService(repo, fakeImpChecker{})
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		if _, err := svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, fmt.Sprintf("10.0.0.%d", i)); err != nil {
			t.Fatalf("RecordLogin: %v", err)
		}
	}

	result, err := svc.ListActive(ctx, "ident-1", kernel.PaginationOptions{Page: 1, PageSize: 100}, "")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(result.Items) != 10 {
		t.Fatalf("page has %d items, want capped at 10", len(result.Items))
	}
	if result.Page.Total != 15 {
		t.Fatalf("total = %d, want 15", result.Page.Total)
	}
}

func TestListActiveFlagsCurrent(t *testing.T) {
	repo := newMemRepo()
	svc, _, _ := newService(repo, fakeImpChecker{})
	ctx := context.Background()

	current, _ := svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, "10.0.0.1")
	svc.RecordLogin(ctx, "ident-1", session.DeviceInfo{}, "10.0.0.2")

	result, err := svc.ListActive(ctx, "ident-1", kernel.PaginationOptions{Page: 1, PageSize: 10}, current)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}

	var flagged int
	for _, v := range result.Items {
		if v.IsCurrent {
			flagged++
			if v.ID != current {
				t.Fatalf("flagged session %s, want %s", v.ID, current)
			}
		}
	}
	if flagged != 1 {
		t.Fatalf("flagged %d sessions as current, want 1", flagged)
	}
}
