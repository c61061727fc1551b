package accountapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/coagline/coagline/pkg/account/accountsrv"
	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/auth"
)

// Handlers exposes signup and account settings.
type Handlers struct {
	service *accountsrv.Service
}

func NewHandlers(service *accountsrv.Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes mounts the account endpoints. Signup and email
// confirmation are unauthenticated by nature.
func (h *Handlers) RegisterRoutes(app *fiber.App, mw *auth.Middleware) {
	app.Post("/signup", h.Signup)
	app.Post("/account/email/confirm", h.ConfirmEmailChange)

	acct := app.Group("/api/v1/account", mw.Authenticate())
	acct.Get("/", h.Get)
	acct.Put("/", h.UpdateProfile)
	acct.Post("/email/change", h.RequestEmailChange)
}

// Signup creates an owner identity and account.
func (h *Handlers) Signup(c *fiber.Ctx) error {
	var req accountsrv.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	acct, err := h.service.Signup(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(acct)
}

// Get returns the caller's account.
func (h *Handlers) Get(c *fiber.Ctx) error {
	acct, err := h.service.Get(c.UserContext(), auth.FromCtx(c))
	if err != nil {
		return err
	}
	return c.JSON(acct)
}

// UpdateProfile updates the practice profile.
func (h *Handlers) UpdateProfile(c *fiber.Ctx) error {
	var req accountsrv.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	acct, err := h.service.UpdateProfile(c.UserContext(), auth.FromCtx(c), req)
	if err != nil {
		return err
	}
	return c.JSON(acct)
}

type emailChangeRequest struct {
	NewEmail string `json:"new_email"`
}

// RequestEmailChange mails a confirmation link to the new address.
func (h *Handlers) RequestEmailChange(c *fiber.Ctx) error {
	var req emailChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}
	if req.NewEmail == "" {
		return errx.Validation("new_email is required")
	}

	sent, err := h.service.RequestEmailChange(c.UserContext(), auth.FromCtx(c), req.NewEmail)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"email_sent": sent})
}

type confirmRequest struct {
	Token string `json:"token"`
}

// ConfirmEmailChange redeems the token and applies the change.
func (h *Handlers) ConfirmEmailChange(c *fiber.Ctx) error {
	var req confirmRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}
	if req.Token == "" {
		return errx.Validation("token is required")
	}

	acct, err := h.service.ConfirmEmailChange(c.UserContext(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(acct)
}
