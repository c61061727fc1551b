package teamsrv_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/events"
	"github.com/coagline/coagline/pkg/iam/team"
	"github.com/coagline/coagline/pkg/iam/team/teamsrv"
	"github.com/coagline/coagline/pkg/identity"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/notifx"
	"github.com/coagline/coagline/pkg/notifx/notifxconsole"
	"github.com/coagline/coagline/pkg/ptrx"
)

// ============================================================================
// Fakes
// ============================================================================

type memRepo struct {
	members map[string]*team.Member
	nextUID int64
}

func newMemRepo() *memRepo {
	return &memRepo{members: make(map[string]*team.Member), nextUID: 100}
}

func (m *memRepo) Create(_ context.Context, member *team.Member) error {
	m.nextUID++
	member.UserID = m.nextUID
	cp := *member
	m.members[member.ID] = &cp
	return nil
}

func (m *memRepo) Update(_ context.Context, member team.Member) error {
	if _, ok := m.members[member.ID]; !ok {
		return team.ErrMemberNotFound()
	}
	cp := member
	m.members[member.ID] = &cp
	return nil
}

func (m *memRepo) Activate(_ context.Context, member team.Member, token string) error {
	stored, ok := m.members[member.ID]
	if !ok || stored.Status != team.StatusPending ||
		stored.InviteToken == nil || *stored.InviteToken != token {
		return team.ErrInvalidToken()
	}
	cp := member
	m.members[member.ID] = &cp
	return nil
}

func (m *memRepo) FindByID(_ context.Context, id string, accountID kernel.AccountID) (*team.Member, error) {
	member, ok := m.members[id]
	if !ok || member.AccountOwnerID != accountID {
		return nil, team.ErrMemberNotFound()
	}
	cp := *member
	return &cp, nil
}

func (m *memRepo) FindByToken(_ context.Context, token string) (*team.Member, error) {
	for _, member := range m.members {
		if member.InviteToken != nil && *member.InviteToken == token {
			cp := *member
			return &cp, nil
		}
	}
	return nil, team.ErrMemberNotFound()
}

func (m *memRepo) FindActiveRole(_ context.Context, accountID kernel.AccountID, email string) (kernel.Role, bool, error) {
	for _, member := range m.members {
		if member.AccountOwnerID == accountID && member.Email == email && member.Status == team.StatusActive {
			return member.Role, true, nil
		}
	}
	return "", false, nil
}

func (m *memRepo) ExistsForEmail(_ context.Context, accountID kernel.AccountID, email string) (bool, error) {
	for _, member := range m.members {
		if member.AccountOwnerID == accountID && member.Email == email && member.Status != team.StatusExpired {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ListByAccount(_ context.Context, accountID kernel.AccountID) ([]team.Member, error) {
	var out []team.Member
	for _, member := range m.members {
		if member.AccountOwnerID == accountID {
			out = append(out, *member)
		}
	}
	return out, nil
}

func (m *memRepo) Delete(_ context.Context, id string, accountID kernel.AccountID) error {
	member, ok := m.members[id]
	if !ok || member.AccountOwnerID != accountID {
		return team.ErrMemberNotFound()
	}
	delete(m.members, id)
	return nil
}

type fakeProvider struct {
	identities map[kernel.IdentityID]*identity.Identity
	claimSets  map[kernel.IdentityID]identity.Claims
	deleted    []kernel.IdentityID
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		identities: make(map[kernel.IdentityID]*identity.Identity),
		claimSets:  make(map[kernel.IdentityID]identity.Claims),
	}
}

func (f *fakeProvider) Verify(context.Context, string) (*identity.Identity, error) {
	return nil, errx.Unauthorized("not supported")
}

func (f *fakeProvider) SetClaims(_ context.Context, id kernel.IdentityID, claims identity.Claims) error {
	f.claimSets[id] = claims
	if ident, ok := f.identities[id]; ok {
		ident.Claims = claims
	}
	return nil
}

func (f *fakeProvider) RevokeAllCredentials(context.Context, kernel.IdentityID) error {
	return nil
}

func (f *fakeProvider) CreateDelegatedCredential(context.Context, kernel.IdentityID, identity.Claims, time.Duration) (string, error) {
	return "delegated", nil
}

func (f *fakeProvider) LookupByEmail(_ context.Context, email string) (*identity.Identity, error) {
	for _, ident := range f.identities {
		if ident.Email == email {
			return ident, nil
		}
	}
	return nil, errx.NotFound("identity not found")
}

func (f *fakeProvider) CreateIdentity(_ context.Context, ni identity.NewIdentity) (*identity.Identity, error) {
	if existing, ok := f.identities[ni.ID]; ok {
		return existing, nil
	}
	ident := &identity.Identity{ID: ni.ID, Email: ni.Email, Claims: ni.Claims}
	f.identities[ni.ID] = ident
	return ident, nil
}

func (f *fakeProvider) DeleteIdentity(_ context.Context, id kernel.IdentityID) error {
	delete(f.identities, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func newService(repo team.Repository, provider identity.Provider) (*teamsrv.Service, *[]events.Event) {
	bus := events.NewBus()
	published := &[]events.Event{}
	bus.Subscribe(events.EventRoleChanged, func(e events.Event) {
		*published = append(*published, e)
	})
	notifier := notifx.NewClient(notifxconsole.NewConsoleProvider())
	return teamsrv.NewService(repo, provider, notifier, bus, "https://app.example.com"), published
}

func owner() *kernel.Principal {
	return &kernel.Principal{
		IdentityID: "ident-owner",
		Email:      "owner@practice.test",
		AccountID:  "acct-1",
	}
}

func viewer() *kernel.Principal {
	return &kernel.Principal{
		IdentityID:    "ident-viewer",
		Email:         "viewer@practice.test",
		AccountID:     "acct-1",
		EffectiveRole: ptrx.Ptr(kernel.RoleViewer),
	}
}

var inviteReq = teamsrv.InviteRequest{
	Email:     "nurse@practice.test",
	FirstName: "Dana",
	LastName:  "Reyes",
	Role:      kernel.RoleEditor,
}

// ============================================================================
// Invite
// ============================================================================

func TestInviteCreatesPendingMember(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newService(repo, newFakeProvider())

	result, err := svc.Invite(context.Background(), owner(), inviteReq)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	m := result.Member
	if m.Status != team.StatusPending {
		t.Fatalf("status = %s, want PENDING", m.Status)
	}
	if m.InviteToken == nil || *m.InviteToken == "" {
		t.Fatal("no invite token generated")
	}
	if m.TokenExpiry == nil || time.Until(*m.TokenExpiry) > team.InviteTTL {
		t.Fatalf("token expiry = %v, want within %v", m.TokenExpiry, team.InviteTTL)
	}
	if m.TempSecret == nil {
		t.Fatal("no temporary secret generated")
	}
	if !result.EmailSent {
		t.Fatal("console provider should always deliver")
	}
}

func TestInviteDuplicateEmailConflicts(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newService(repo, newFakeProvider())
	ctx := context.Background()

	if _, err := svc.Invite(ctx, owner(), inviteReq); err != nil {
		t.Fatalf("first invite: %v", err)
	}

	_, err := svc.Invite(ctx, owner(), inviteReq)
	if !errx.IsType(err, errx.TypeConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestInviteRequiresManageUsers(t *testing.T) {
	svc, _ := newService(newMemRepo(), newFakeProvider())

	_, err := svc.Invite(context.Background(), viewer(), inviteReq)
	if !errx.IsType(err, errx.TypeForbidden) {
		t.Fatalf("err = %v, want forbidden", err)
	}
}

func TestInviteRejectsUnknownRole(t *testing.T) {
	svc, _ := newService(newMemRepo(), newFakeProvider())

	req := inviteReq
	req.Role = "superuser"
	_, err := svc.Invite(context.Background(), owner(), req)
	if !errx.IsType(err, errx.TypeValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

// ============================================================================
// Redeem
// ============================================================================

func TestRedeemActivatesMemberAndClearsToken(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc, _ := newService(repo, provider)
	ctx := context.Background()

	result, err := svc.Invite(ctx, owner(), inviteReq)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	token := *result.Member.InviteToken

	member, ident, err := svc.Redeem(ctx, token)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if member.Status != team.StatusActive {
		t.Fatalf("status = %s, want ACTIVE", member.Status)
	}
	if member.InviteToken != nil || member.TempSecret != nil {
		t.Fatal("token and secret must be cleared on redemption")
	}
	if member.IdentityID == nil || *member.IdentityID != ident.ID.String() {
		t.Fatal("member not linked to the provisioned identity")
	}
	if ident.Claims.Role != string(kernel.RoleEditor) {
		t.Fatalf("identity role claim = %q, want editor", ident.Claims.Role)
	}
	if ident.Claims.AccountOwnerID != "acct-1" {
		t.Fatalf("identity account claim = %q, want acct-1", ident.Claims.AccountOwnerID)
	}

	// Single use: the same link must not redeem twice.
	if _, _, err := svc.Redeem(ctx, token); err == nil {
		t.Fatal("second redemption of the same token succeeded")
	}
}

// staleTokenRepo serves every FindByToken from a snapshot taken before any
// redemption, reproducing two requests that both read the pending row before
// either one writes.
type staleTokenRepo struct {
	*memRepo
	snapshot team.Member
}

func (r *staleTokenRepo) FindByToken(context.Context, string) (*team.Member, error) {
	cp := r.snapshot
	return &cp, nil
}

func TestRedeemConcurrentLoserGetsInvalidToken(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newService(repo, newFakeProvider())
	ctx := context.Background()

	result, err := svc.Invite(ctx, owner(), inviteReq)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	token := *result.Member.InviteToken

	stale := &staleTokenRepo{memRepo: repo, snapshot: *repo.members[result.Member.ID]}
	racing, _ := newService(stale, newFakeProvider())

	if _, _, err := racing.Redeem(ctx, token); err != nil {
		t.Fatalf("first redemption: %v", err)
	}

	// The second request saw the same pending row but must lose the guarded
	// write now that the stored token is cleared.
	_, _, err = racing.Redeem(ctx, token)
	if !errx.IsType(err, errx.TypeAuthorization) {
		t.Fatalf("err = %v, want invalid-token error", err)
	}
	if repo.members[result.Member.ID].Status != team.StatusActive {
		t.Fatal("winning redemption must leave the member active")
	}
}

func TestRedeemExpiredTokenMarksMemberExpired(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newService(repo, newFakeProvider())
	ctx := context.Background()

	result, err := svc.Invite(ctx, owner(), inviteReq)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	token := *result.Member.InviteToken

	stored := repo.members[result.Member.ID]
	stored.TokenExpiry = ptrx.Time(time.Now().Add(-time.Minute))

	_, _, err = svc.Redeem(ctx, token)
	if !errx.IsType(err, errx.TypeAuthorization) {
		t.Fatalf("err = %v, want invalid-token error", err)
	}
	if repo.members[result.Member.ID].Status != team.StatusExpired {
		t.Fatal("expired invitation not marked EXPIRED")
	}
}

func TestRedeemUnknownTokenFails(t *testing.T) {
	svc, _ := newService(newMemRepo(), newFakeProvider())

	_, _, err := svc.Redeem(context.Background(), strings.Repeat("f", 64))
	if err == nil {
		t.Fatal("unknown token redeemed")
	}
}

// ============================================================================
// Resend
// ============================================================================

func TestResendRotatesToken(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newService(repo, newFakeProvider())
	ctx := context.Background()

	result, err := svc.Invite(ctx, owner(), inviteReq)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	oldToken := *result.Member.InviteToken

	resent, err := svc.Resend(ctx, owner(), result.Member.ID)
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if *resent.Member.InviteToken == oldToken {
		t.Fatal("resend must mint a new token")
	}

	// The old link is dead, the new one works.
	if _, _, err := svc.Redeem(ctx, oldToken); err == nil {
		t.Fatal("old token still redeemable after resend")
	}
	if _, _, err := svc.Redeem(ctx, *resent.Member.InviteToken); err != nil {
		t.Fatalf("new token failed to redeem: %v", err)
	}
}

// ============================================================================
// UpdateRole / Remove
// ============================================================================

func TestUpdateRoleRewritesClaimsAndNotifies(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc, published := newService(repo, provider)
	ctx := context.Background()

	result, _ := svc.Invite(ctx, owner(), inviteReq)
	member, _, err := svc.Redeem(ctx, *result.Member.InviteToken)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	updated, err := svc.UpdateRole(ctx, owner(), member.ID, kernel.RoleViewer)
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if updated.Role != kernel.RoleViewer {
		t.Fatalf("role = %s, want viewer", updated.Role)
	}

	identityID := kernel.IdentityID(*member.IdentityID)
	if provider.claimSets[identityID].Role != string(kernel.RoleViewer) {
		t.Fatal("stored claims not rewritten with the new role")
	}
	if len(*published) != 1 {
		t.Fatalf("published %d role events, want 1", len(*published))
	}
	if (*published)[0].IdentityID != identityID {
		t.Fatal("role event targets the wrong identity")
	}
}

func TestUpdateRolePendingMemberSkipsEvent(t *testing.T) {
	repo := newMemRepo()
	svc, published := newService(repo, newFakeProvider())
	ctx := context.Background()

	result, _ := svc.Invite(ctx, owner(), inviteReq)

	if _, err := svc.UpdateRole(ctx, owner(), result.Member.ID, kernel.RoleViewer); err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if len(*published) != 0 {
		t.Fatal("no identity exists yet, no role event should fire")
	}
}

func TestRemoveDeletesDelegatedIdentity(t *testing.T) {
	repo := newMemRepo()
	provider := newFakeProvider()
	svc, _ := newService(repo, provider)
	ctx := context.Background()

	result, _ := svc.Invite(ctx, owner(), inviteReq)
	member, ident, err := svc.Redeem(ctx, *result.Member.InviteToken)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	if err := svc.Remove(ctx, owner(), member.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := repo.FindByID(ctx, member.ID, "acct-1"); err == nil {
		t.Fatal("member row survived removal")
	}
	if len(provider.deleted) != 1 || provider.deleted[0] != ident.ID {
		t.Fatalf("deleted identities = %v, want [%s]", provider.deleted, ident.ID)
	}
}

func TestRemoveScopedToAccount(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newService(repo, newFakeProvider())
	ctx := context.Background()

	result, _ := svc.Invite(ctx, owner(), inviteReq)

	foreign := owner()
	foreign.AccountID = "acct-2"
	err := svc.Remove(ctx, foreign, result.Member.ID)
	if !errx.IsType(err, errx.TypeNotFound) {
		t.Fatalf("err = %v, want not-found for foreign account", err)
	}
}
