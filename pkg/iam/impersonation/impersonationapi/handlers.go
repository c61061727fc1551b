package impersonationapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/auth"
	"github.com/coagline/coagline/pkg/iam/impersonation/impersonationsrv"
	"github.com/coagline/coagline/pkg/iam/session"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/ratelimit"
)

// Handlers exposes the admin impersonation console endpoints.
type Handlers struct {
	service *impersonationsrv.Service
}

func NewHandlers(service *impersonationsrv.Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the impersonation endpoints. Start and history are
// admin-only and rate limited. Exit sits outside the admin group: the
// caller holds a delegated credential, which is not an admin credential.
func (h *Handlers) RegisterRoutes(app *fiber.App, mw *auth.Middleware, limiter *ratelimit.Limiter) {
	admin := app.Group("/api/v1/admin/impersonation",
		mw.Authenticate(), mw.RequireSiteAdmin(), limiter.Middleware())
	admin.Post("/", h.Start)
	admin.Get("/history/:identityId", h.History)

	app.Post("/api/v1/impersonation/exit", mw.Authenticate(), h.Exit)
}

type startRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// Start begins impersonating the user with the given email.
func (h *Handlers) Start(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}
	if req.Email == "" {
		return errx.Validation("email is required")
	}
	if req.Reason == "" {
		return errx.Validation("reason is required")
	}

	result, err := h.service.Start(c.UserContext(), *auth.FromCtx(c), req.Email, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// Exit ends the current impersonation and hands back an admin credential
// bound to a fresh session.
func (h *Handlers) Exit(c *fiber.Ctx) error {
	credential, err := h.service.Exit(c.UserContext(), *auth.FromCtx(c),
		session.DeviceFromUserAgent(c.Get(fiber.HeaderUserAgent)), c.IP())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"credential": credential})
}

// History returns the audit log for one target identity.
func (h *Handlers) History(c *fiber.Ctx) error {
	opts := kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	}

	result, err := h.service.History(c.UserContext(), *auth.FromCtx(c),
		kernel.IdentityID(c.Params("identityId")), opts)
	if err != nil {
		return err
	}
	return c.JSON(result)
}
