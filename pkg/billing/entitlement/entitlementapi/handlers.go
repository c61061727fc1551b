package entitlementapi

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/coagline/coagline/pkg/billing/entitlement"
	"github.com/coagline/coagline/pkg/billing/entitlement/entitlementsrv"
	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/auth"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/ratelimit"
)

// Handlers exposes entitlement reads, the billing webhook and the admin
// trial console.
type Handlers struct {
	service       *entitlementsrv.Service
	webhookSecret string
}

func NewHandlers(service *entitlementsrv.Service, webhookSecret string) *Handlers {
	return &Handlers{service: service, webhookSecret: webhookSecret}
}

// RegisterRoutes mounts the billing endpoints. The webhook authenticates by
// shared secret, not by credential: the processor is not a user.
func (h *Handlers) RegisterRoutes(app *fiber.App, mw *auth.Middleware, limiter *ratelimit.Limiter) {
	app.Post("/webhooks/billing", h.Webhook)

	billing := app.Group("/api/v1/billing", mw.Authenticate())
	billing.Get("/access", h.Access)
	billing.Post("/trial", h.StartTrial)

	admin := app.Group("/api/v1/admin/billing",
		mw.Authenticate(), mw.RequireSiteAdmin(), limiter.Middleware())
	admin.Post("/:accountId/trial/extend", h.ExtendTrial)
	admin.Post("/:accountId/free-month", h.GiveFreeMonth)
	admin.Post("/:accountId/grace-period", h.SetGracePeriod)
}

// Access classifies the caller's account.
func (h *Handlers) Access(c *fiber.Ctx) error {
	p := auth.FromCtx(c)

	access, err := h.service.Check(c.UserContext(), p.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(access)
}

// StartTrial begins the caller's one-time trial. Owner-only by capability:
// delegated members do not manage billing.
func (h *Handlers) StartTrial(c *fiber.Ctx) error {
	p := auth.FromCtx(c)
	if !p.IsAccountOwner() {
		return errx.Forbidden("Only the account owner can manage billing")
	}

	rec, err := h.service.StartTrial(c.UserContext(), p.AccountID, 0, p.Email)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

type trialDaysRequest struct {
	Days int `json:"days"`
}

// ExtendTrial adds days to an account's trial. Admin console.
func (h *Handlers) ExtendTrial(c *fiber.Ctx) error {
	var req trialDaysRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	rec, err := h.service.ExtendTrial(c.UserContext(),
		kernel.AccountID(c.Params("accountId")), req.Days, auth.FromCtx(c).Email)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

// GiveFreeMonth grants thirty days of access. Admin console.
func (h *Handlers) GiveFreeMonth(c *fiber.Ctx) error {
	rec, err := h.service.GiveFreeMonth(c.UserContext(),
		kernel.AccountID(c.Params("accountId")), auth.FromCtx(c).Email)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

type gracePeriodRequest struct {
	Until time.Time `json:"until"`
}

// SetGracePeriod sets the past-due grace window. Admin console.
func (h *Handlers) SetGracePeriod(c *fiber.Ctx) error {
	var req gracePeriodRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	rec, err := h.service.SetGracePeriod(c.UserContext(),
		kernel.AccountID(c.Params("accountId")), req.Until, auth.FromCtx(c).Email)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

type webhookPayload struct {
	AccountID       string     `json:"account_id"`
	Status          string     `json:"status"`
	PlanType        string     `json:"plan_type"`
	TrialEndDate    *time.Time `json:"trial_end_date"`
	SubscriptionEnd *time.Time `json:"subscription_end"`
	NextBillingDate *time.Time `json:"next_billing_date"`
	GracePeriodEnd  *time.Time `json:"grace_period_end"`
}

// Webhook applies a billing-processor event to the subscription record.
func (h *Handlers) Webhook(c *fiber.Ctx) error {
	// An unconfigured secret disables the endpoint outright: without it
	// every caller would pass the comparison below.
	if h.webhookSecret == "" {
		return errx.Unauthorized("webhook secret not configured")
	}
	if subtle.ConstantTimeCompare([]byte(c.Get("X-Webhook-Secret")), []byte(h.webhookSecret)) != 1 {
		return errx.Unauthorized("invalid webhook signature")
	}

	var payload webhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return errx.Validation("invalid webhook payload")
	}
	if payload.AccountID == "" {
		return errx.Validation("account_id is required")
	}

	rec, err := h.service.ApplyProcessorUpdate(c.UserContext(),
		kernel.AccountID(payload.AccountID), entitlementsrv.ProcessorUpdate{
			Status:          entitlement.Status(payload.Status),
			PlanType:        payload.PlanType,
			TrialEndDate:    payload.TrialEndDate,
			SubscriptionEnd: payload.SubscriptionEnd,
			NextBillingDate: payload.NextBillingDate,
			GracePeriodEnd:  payload.GracePeriodEnd,
		})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": rec.Status, "plan_type": rec.PlanType})
}
