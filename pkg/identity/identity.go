package identity

import (
	"context"
	"net/http"
	"time"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
)

// ============================================================================
// Claims
// ============================================================================

// Claims is the authorization-relevant data signed into a credential at
// issuance time. Claims are a cache: they reflect state at last issuance and
// may lag behind the database. Security decisions must re-derive from the
// database and treat these values as hints only.
type Claims struct {
	// Role is present only for delegated team members. Account owners carry
	// no role claim at all; absence of the claim is the discriminator.
	Role string `json:"role,omitempty"`

	// AccountOwnerID points a delegated identity at the owner whose account
	// it acts under. Empty for owners.
	AccountOwnerID string `json:"accountOwnerId,omitempty"`

	// UserID is the numeric application user id.
	UserID int64 `json:"userId,omitempty"`

	SiteAdmin bool   `json:"siteadmin,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	// Impersonation markers, set only on delegated credentials minted by a
	// site admin.
	Impersonating bool   `json:"impersonating,omitempty"`
	OriginalAdmin string `json:"originalAdmin,omitempty"`

	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// EffectiveAccountOwnerID resolves the account an identity operates under:
// the embedded owner claim for delegates, the identity's own id otherwise.
func (c Claims) EffectiveAccountOwnerID(id kernel.IdentityID) kernel.AccountID {
	if c.AccountOwnerID != "" {
		return kernel.AccountID(c.AccountOwnerID)
	}
	return kernel.AccountID(id)
}

// Identity is the caller as understood by the identity provider.
type Identity struct {
	ID     kernel.IdentityID `json:"id"`
	Email  string            `json:"email"`
	Claims Claims            `json:"claims"`
}

// NewIdentity describes an identity to be provisioned.
type NewIdentity struct {
	// ID may be pre-assigned (deterministic delegated ids); empty means the
	// provider generates one.
	ID     kernel.IdentityID
	Email  string
	Secret string
	Claims Claims
}

// ============================================================================
// Provider port
// ============================================================================

// Provider is the identity-provider collaborator. The default implementation
// is the JWT-backed jwtprovider package; a hosted provider can be swapped in
// behind the same contract.
type Provider interface {
	// Verify validates a bearer credential. Any failure, regardless of cause,
	// surfaces as the single unauthenticated error with no detail leaked.
	Verify(ctx context.Context, credential string) (*Identity, error)

	// SetClaims persists new embedded claims and invalidates outstanding
	// credentials so clients are forced to mint a fresh one.
	SetClaims(ctx context.Context, id kernel.IdentityID, claims Claims) error

	// RevokeAllCredentials invalidates every outstanding credential for the
	// identity.
	RevokeAllCredentials(ctx context.Context, id kernel.IdentityID) error

	// CreateDelegatedCredential mints a short-lived credential for id
	// carrying exactly the given claims.
	CreateDelegatedCredential(ctx context.Context, id kernel.IdentityID, claims Claims, ttl time.Duration) (string, error)

	LookupByEmail(ctx context.Context, email string) (*Identity, error)
	CreateIdentity(ctx context.Context, ni NewIdentity) (*Identity, error)
	DeleteIdentity(ctx context.Context, id kernel.IdentityID) error
}

// PrimaryAuthenticator is the password-login extension of the provider,
// used only by the login endpoint.
type PrimaryAuthenticator interface {
	// Authenticate checks an email/secret pair and returns the identity.
	Authenticate(ctx context.Context, email, secret string) (*Identity, error)

	// IssueCredential mints a credential for id from its stored claims,
	// with the given session id embedded.
	IssueCredential(ctx context.Context, id kernel.IdentityID, sessionID string) (string, error)
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("IDENTITY")

var (
	CodeUnauthenticated = ErrRegistry.Register("UNAUTHENTICATED", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid or expired credential")
	CodeNotFound        = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Identity not found")
	CodeAlreadyExists   = ErrRegistry.Register("ALREADY_EXISTS", errx.TypeConflict, http.StatusConflict, "Identity already exists")
	CodeProviderFailure = ErrRegistry.Register("PROVIDER_FAILURE", errx.TypeExternal, http.StatusInternalServerError, "Identity provider error")
)

func ErrUnauthenticated() *errx.Error {
	return ErrRegistry.New(CodeUnauthenticated)
}

func ErrNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}

func ErrAlreadyExists() *errx.Error {
	return ErrRegistry.New(CodeAlreadyExists)
}

func ErrProviderFailure(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeProviderFailure, cause)
}
