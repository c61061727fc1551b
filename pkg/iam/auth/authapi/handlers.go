package authapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam"
	"github.com/coagline/coagline/pkg/iam/auth"
	"github.com/coagline/coagline/pkg/iam/session"
	"github.com/coagline/coagline/pkg/iam/session/sessionsrv"
	"github.com/coagline/coagline/pkg/identity"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/logx"
)

// Handlers exposes login, logout and session management over HTTP.
type Handlers struct {
	authn    identity.PrimaryAuthenticator
	sessions *sessionsrv.Service
}

func NewHandlers(authn identity.PrimaryAuthenticator, sessions *sessionsrv.Service) *Handlers {
	return &Handlers{authn: authn, sessions: sessions}
}

// RegisterRoutes mounts the auth endpoints.
func (h *Handlers) RegisterRoutes(app *fiber.App, mw *auth.Middleware) {
	app.Post("/auth/login", h.Login)

	authed := app.Group("/auth", mw.Authenticate())
	authed.Post("/logout", h.Logout)
	authed.Get("/me", h.Me)

	sessions := app.Group("/api/v1/sessions", mw.Authenticate())
	sessions.Get("/", h.ListSessions)
	sessions.Delete("/others", h.RevokeOthers)
	sessions.Delete("/:id", h.RevokeSession)
}

type loginRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

// Login authenticates the email/secret pair, registers the device session
// and returns a credential with the session id embedded.
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}
	if req.Email == "" || req.Secret == "" {
		return errx.Validation("email and secret are required")
	}

	ctx := c.UserContext()

	ident, err := h.authn.Authenticate(ctx, req.Email, req.Secret)
	if err != nil {
		return err
	}

	sessionID, err := h.sessions.RecordLogin(ctx, ident.ID, session.DeviceFromUserAgent(c.Get(fiber.HeaderUserAgent)), c.IP())
	if err != nil {
		return err
	}

	credential, err := h.authn.IssueCredential(ctx, ident.ID, sessionID)
	if err != nil {
		return err
	}

	logx.WithFields(logx.Fields{
		"identity_id": ident.ID,
		"session_id":  sessionID,
	}).Info("login")

	return c.JSON(fiber.Map{
		"credential": credential,
		"identity":   ident,
	})
}

// Logout revokes the current session. The credential itself expires on its
// own; the dead session row is what locks it out immediately.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	p := auth.FromCtx(c)
	if p.SessionID == "" {
		return c.SendStatus(fiber.StatusNoContent)
	}

	if err := h.sessions.Revoke(c.UserContext(), p.SessionID, p.IdentityID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Me returns the resolved principal for the current credential.
func (h *Handlers) Me(c *fiber.Ctx) error {
	p := auth.FromCtx(c)
	return c.JSON(fiber.Map{
		"identity_id":    p.IdentityID,
		"email":          p.Email,
		"account_id":     p.AccountID,
		"effective_role": p.EffectiveRole,
		"account_owner":  p.IsAccountOwner(),
		"site_admin":     p.SiteAdmin,
		"impersonating":  p.Impersonating,
	})
}

// ListSessions pages through the caller's active sessions, flagging the one
// backing this request.
func (h *Handlers) ListSessions(c *fiber.Ctx) error {
	p := auth.FromCtx(c)

	opts := kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 10),
	}

	result, err := h.sessions.ListActive(c.UserContext(), p.IdentityID, opts, p.SessionID)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// RevokeSession revokes one of the caller's sessions by id.
func (h *Handlers) RevokeSession(c *fiber.Ctx) error {
	p := auth.FromCtx(c)

	sessionID := c.Params("id")
	if sessionID == "" {
		return errx.Validation("session id is required")
	}

	if err := h.sessions.Revoke(c.UserContext(), sessionID, p.IdentityID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RevokeOthers signs the caller out everywhere except this device.
func (h *Handlers) RevokeOthers(c *fiber.Ctx) error {
	p := auth.FromCtx(c)
	if p.SessionID == "" {
		return iam.ErrUnauthorized()
	}

	count, err := h.sessions.RevokeAllExcept(c.UserContext(), p.IdentityID, p.SessionID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"revoked": count})
}
