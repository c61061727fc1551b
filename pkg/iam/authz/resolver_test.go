package authz_test

import (
	"context"
	"testing"

	"github.com/coagline/coagline/pkg/iam/authz"
	"github.com/coagline/coagline/pkg/identity"
	"github.com/coagline/coagline/pkg/kernel"
)

type fakeAccounts struct {
	existing map[kernel.AccountID]bool
}

func (f fakeAccounts) AccountExists(_ context.Context, id kernel.AccountID) (bool, error) {
	return f.existing[id], nil
}

type fakeMembers struct {
	roles map[string]kernel.Role // keyed by accountID + "/" + email
}

func (f fakeMembers) FindActiveRole(_ context.Context, accountID kernel.AccountID, email string) (kernel.Role, bool, error) {
	role, ok := f.roles[accountID.String()+"/"+email]
	return role, ok, nil
}

func TestOwnerRowBeatsStaleRoleClaim(t *testing.T) {
	// A caller with an account row is the owner even if an old credential
	// still carries a delegated role claim.
	r := authz.NewResolver(
		fakeAccounts{existing: map[kernel.AccountID]bool{"ident-1": true}},
		fakeMembers{},
	)

	ident := &identity.Identity{
		ID:     "ident-1",
		Email:  "owner@clinic.test",
		Claims: identity.Claims{Role: string(kernel.RoleViewer)},
	}

	role, err := r.ResolveEffectiveRole(context.Background(), ident)
	if err != nil {
		t.Fatalf("ResolveEffectiveRole: %v", err)
	}
	if role != nil {
		t.Fatalf("role = %v, want nil (owner)", *role)
	}
}

func TestActiveMemberRowBeatsClaim(t *testing.T) {
	// The database row wins over a credential minted before a role change.
	r := authz.NewResolver(
		fakeAccounts{},
		fakeMembers{roles: map[string]kernel.Role{
			"acct-1/member@clinic.test": kernel.RoleViewer,
		}},
	)

	ident := &identity.Identity{
		ID:    "ident-2",
		Email: "member@clinic.test",
		Claims: identity.Claims{
			Role:           string(kernel.RoleEditor),
			AccountOwnerID: "acct-1",
		},
	}

	role, err := r.ResolveEffectiveRole(context.Background(), ident)
	if err != nil {
		t.Fatalf("ResolveEffectiveRole: %v", err)
	}
	if role == nil || *role != kernel.RoleViewer {
		t.Fatalf("role = %v, want viewer from the database", role)
	}
}

func TestClaimFallbackDuringPropagation(t *testing.T) {
	// No database record yet: the embedded claim carries the request.
	r := authz.NewResolver(fakeAccounts{}, fakeMembers{})

	ident := &identity.Identity{
		ID:    "ident-3",
		Email: "fresh@clinic.test",
		Claims: identity.Claims{
			Role:           string(kernel.RoleEditor),
			AccountOwnerID: "acct-1",
		},
	}

	role, err := r.ResolveEffectiveRole(context.Background(), ident)
	if err != nil {
		t.Fatalf("ResolveEffectiveRole: %v", err)
	}
	if role == nil || *role != kernel.RoleEditor {
		t.Fatalf("role = %v, want editor from the claim", role)
	}
}

func TestNoRecordNoClaimMeansOwner(t *testing.T) {
	r := authz.NewResolver(fakeAccounts{}, fakeMembers{})

	ident := &identity.Identity{ID: "ident-4", Email: "new@clinic.test"}

	role, err := r.ResolveEffectiveRole(context.Background(), ident)
	if err != nil {
		t.Fatalf("ResolveEffectiveRole: %v", err)
	}
	if role != nil {
		t.Fatalf("role = %v, want nil (owner during signup propagation)", *role)
	}
}

func TestUnknownClaimRoleIsIgnored(t *testing.T) {
	// A claim value outside the role enum never reaches the fallback.
	r := authz.NewResolver(fakeAccounts{}, fakeMembers{})

	ident := &identity.Identity{
		ID:    "ident-5",
		Email: "odd@clinic.test",
		Claims: identity.Claims{
			AccountOwnerID: "acct-1",
			Role:           "manager",
		},
	}

	role, err := r.ResolveEffectiveRole(context.Background(), ident)
	if err != nil {
		t.Fatalf("ResolveEffectiveRole: %v", err)
	}
	if role != nil {
		t.Fatalf("role = %v, want nil (invalid claim ignored)", *role)
	}
}
