package kernel

import "context"

// Principal is the per-request caller context assembled by the auth middleware
// after credential verification, session liveness and role resolution. It is
// dependency-injected through context.Context; nothing in the codebase holds
// authentication state in package-level variables.
type Principal struct {
	IdentityID IdentityID `json:"identity_id"`
	Email      string     `json:"email"`
	UserID     int64      `json:"user_id"`

	// AccountID is the account the caller operates under: their own for
	// owners, the inviting owner's for delegated team members.
	AccountID AccountID `json:"account_id"`

	// EffectiveRole is the database-resolved role. nil means account owner.
	EffectiveRole *Role `json:"effective_role,omitempty"`

	SessionID string `json:"session_id"`

	SiteAdmin     bool       `json:"site_admin"`
	Impersonating bool       `json:"impersonating"`
	OriginalAdmin IdentityID `json:"original_admin,omitempty"`
}

// IsAccountOwner reports whether the caller is the account owner. Owners
// resolve to a nil effective role.
func (p *Principal) IsAccountOwner() bool {
	return p.EffectiveRole == nil
}

// IsValid verifies the Principal carries the minimum identifying fields.
func (p *Principal) IsValid() bool {
	return !p.IdentityID.IsEmpty() && !p.AccountID.IsEmpty()
}

// ============================================================================
// Context plumbing
// ============================================================================

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal returns a child context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the principal, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}
