package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/coagline/coagline/pkg/iam"
	"github.com/coagline/coagline/pkg/iam/authz"
	"github.com/coagline/coagline/pkg/iam/session"
	"github.com/coagline/coagline/pkg/iam/session/sessionsrv"
	"github.com/coagline/coagline/pkg/identity"
	"github.com/coagline/coagline/pkg/kernel"
)

const principalKey = "principal"

// Middleware authenticates requests end to end: credential verification,
// session liveness, and effective-role resolution. Handlers downstream read
// the finished Principal and never touch raw claims.
type Middleware struct {
	provider identity.Provider
	sessions *sessionsrv.Service
	resolver *authz.Resolver
}

func NewMiddleware(provider identity.Provider, sessions *sessionsrv.Service, resolver *authz.Resolver) *Middleware {
	return &Middleware{
		provider: provider,
		sessions: sessions,
		resolver: resolver,
	}
}

// Authenticate validates the bearer credential and builds the request
// Principal. Impersonation credentials skip the session-registry check;
// they are short-lived and have no registry row.
func (m *Middleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractToken(c)
		if token == "" {
			return iam.ErrUnauthorized()
		}

		ctx := c.UserContext()

		ident, err := m.provider.Verify(ctx, token)
		if err != nil {
			return err
		}

		// Every non-impersonation credential must carry a session id;
		// one without is outside the revocation registry and fails
		// closed.
		if !ident.Claims.Impersonating {
			if ident.Claims.SessionID == "" {
				return iam.ErrUnauthorized().WithDetail("reason", session.ReasonUnknownSession)
			}
			liveness := m.sessions.CheckLive(ctx, ident.Claims.SessionID)
			if !liveness.Live {
				return iam.ErrSessionRevoked().WithDetail("reason", liveness.Reason)
			}
			m.sessions.Touch(ident.Claims.SessionID)
		}

		role, err := m.resolver.ResolveEffectiveRole(ctx, ident)
		if err != nil {
			return err
		}

		p := &kernel.Principal{
			IdentityID:    ident.ID,
			Email:         ident.Email,
			UserID:        ident.Claims.UserID,
			AccountID:     ident.Claims.EffectiveAccountOwnerID(ident.ID),
			EffectiveRole: role,
			SessionID:     ident.Claims.SessionID,
			SiteAdmin:     ident.Claims.SiteAdmin,
			Impersonating: ident.Claims.Impersonating,
			OriginalAdmin: kernel.IdentityID(ident.Claims.OriginalAdmin),
		}

		c.Locals(principalKey, p)
		c.SetUserContext(kernel.WithPrincipal(ctx, p))

		return c.Next()
	}
}

// RequireSiteAdmin gates the admin console routes. Impersonation does not
// carry admin powers: the delegated credential acts as the customer.
func (m *Middleware) RequireSiteAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := FromCtx(c)
		if p == nil {
			return iam.ErrUnauthorized()
		}
		if !p.SiteAdmin || p.Impersonating {
			return iam.ErrAccessDenied()
		}
		return c.Next()
	}
}

// FromCtx returns the authenticated Principal, nil when unauthenticated.
func FromCtx(c *fiber.Ctx) *kernel.Principal {
	p, _ := c.Locals(principalKey).(*kernel.Principal)
	return p
}

func extractToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" && parts[1] != "" {
			return parts[1]
		}
	}
	return c.Cookies("access_token")
}
