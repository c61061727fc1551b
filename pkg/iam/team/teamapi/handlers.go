package teamapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/auth"
	"github.com/coagline/coagline/pkg/iam/team/teamsrv"
	"github.com/coagline/coagline/pkg/kernel"
)

// Handlers exposes team-member management and magic-link redemption.
type Handlers struct {
	service *teamsrv.Service
}

func NewHandlers(service *teamsrv.Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the team endpoints. Redemption is unauthenticated:
// the invitee has no credential yet, the token is the proof.
func (h *Handlers) RegisterRoutes(app *fiber.App, mw *auth.Middleware) {
	app.Post("/team/redeem", h.Redeem)

	team := app.Group("/api/v1/team", mw.Authenticate())
	team.Get("/", h.List)
	team.Post("/", h.Invite)
	team.Post("/:id/resend", h.Resend)
	team.Patch("/:id/role", h.UpdateRole)
	team.Delete("/:id", h.Remove)
}

// Invite creates a pending member and sends the invitation email.
func (h *Handlers) Invite(c *fiber.Ctx) error {
	var req teamsrv.InviteRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	result, err := h.service.Invite(c.UserContext(), auth.FromCtx(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

type redeemRequest struct {
	Token string `json:"token"`
}

// Redeem exchanges a magic-link token for an activated membership.
func (h *Handlers) Redeem(c *fiber.Ctx) error {
	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}
	if req.Token == "" {
		return errx.Validation("token is required")
	}

	member, ident, err := h.service.Redeem(c.UserContext(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"member":   member,
		"identity": ident,
	})
}

// Resend regenerates and re-sends a pending member's magic link.
func (h *Handlers) Resend(c *fiber.Ctx) error {
	result, err := h.service.Resend(c.UserContext(), auth.FromCtx(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type updateRoleRequest struct {
	Role kernel.Role `json:"role"`
}

// UpdateRole changes a member's role.
func (h *Handlers) UpdateRole(c *fiber.Ctx) error {
	var req updateRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	member, err := h.service.UpdateRole(c.UserContext(), auth.FromCtx(c), c.Params("id"), req.Role)
	if err != nil {
		return err
	}
	return c.JSON(member)
}

// Remove deletes a member and their delegated identity.
func (h *Handlers) Remove(c *fiber.Ctx) error {
	if err := h.service.Remove(c.UserContext(), auth.FromCtx(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// List returns the account's team members.
func (h *Handlers) List(c *fiber.Ctx) error {
	members, err := h.service.List(c.UserContext(), auth.FromCtx(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"members": members})
}
