package authz

import (
	"context"

	"github.com/coagline/coagline/pkg/identity"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/logx"
)

// AccountFinder reports whether an account row exists for an identity id.
type AccountFinder interface {
	AccountExists(ctx context.Context, id kernel.AccountID) (bool, error)
}

// MemberRoleFinder looks up the active team-member role for an
// (account, email) pair. The second return is false when no active record
// exists.
type MemberRoleFinder interface {
	FindActiveRole(ctx context.Context, accountID kernel.AccountID, email string) (kernel.Role, bool, error)
}

// Resolver computes the effective role for a verified identity. The database
// is the source of truth; embedded claims are only a fallback for the
// propagation window right after provisioning, because claims are minted at
// credential issuance and can be stale.
type Resolver struct {
	accounts AccountFinder
	members  MemberRoleFinder
}

// NewResolver creates a role resolver.
func NewResolver(accounts AccountFinder, members MemberRoleFinder) *Resolver {
	return &Resolver{accounts: accounts, members: members}
}

// ResolveEffectiveRole returns the role to use for the current request.
// nil means account owner (unrestricted).
//
// Resolution order:
//  1. An account row for the identity id makes the caller the owner,
//     regardless of embedded claims — a stale role claim from a prior
//     delegated state cannot downgrade an owner, and a forged owner claim
//     cannot upgrade a delegate.
//  2. An active team-member row for (effective account, email) is
//     authoritative for delegates.
//  3. Neither record found: fall back to the embedded role claim. This is
//     the eventual-consistency window right after provisioning and is
//     logged as a degraded path.
func (r *Resolver) ResolveEffectiveRole(ctx context.Context, ident *identity.Identity) (*kernel.Role, error) {
	isOwner, err := r.accounts.AccountExists(ctx, kernel.AccountID(ident.ID))
	if err != nil {
		return nil, err
	}
	if isOwner {
		return nil, nil
	}

	accountID := ident.Claims.EffectiveAccountOwnerID(ident.ID)

	role, found, err := r.members.FindActiveRole(ctx, accountID, ident.Email)
	if err != nil {
		return nil, err
	}
	if found {
		return &role, nil
	}

	if claimed := kernel.Role(ident.Claims.Role); claimed.IsValid() {
		logx.WithFields(logx.Fields{
			"identity_id": ident.ID,
			"account_id":  accountID,
			"claim_role":  claimed,
		}).Warn("no database record for identity, falling back to embedded role claim")
		return &claimed, nil
	}

	// No record and no role claim: treat as owner. Covers the window where
	// the account row write is still propagating after signup.
	logx.WithField("identity_id", ident.ID).
		Warn("no database record and no role claim, treating identity as account owner")
	return nil, nil
}

// IsAccountOwner reports whether the identity resolves to the owner role.
func (r *Resolver) IsAccountOwner(ctx context.Context, ident *identity.Identity) (bool, error) {
	role, err := r.ResolveEffectiveRole(ctx, ident)
	if err != nil {
		return false, err
	}
	return role == nil, nil
}
