package patientsapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/auth"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/patients/patientssrv"
)

// Handlers exposes the patient registry.
type Handlers struct {
	service *patientssrv.Service
}

func NewHandlers(service *patientssrv.Service) *Handlers {
	return &Handlers{service: service}
}

func (h *Handlers) RegisterRoutes(app *fiber.App, mw *auth.Middleware) {
	grp := app.Group("/api/v1/patients", mw.Authenticate())
	grp.Get("/", h.List)
	grp.Post("/", h.Create)
	grp.Get("/:id", h.Get)
	grp.Put("/:id/target-range", h.SetTargetRange)
}

// Create registers a patient with their initial target INR range.
func (h *Handlers) Create(c *fiber.Ctx) error {
	var req patientssrv.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	patient, rng, err := h.service.Create(c.UserContext(), auth.FromCtx(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"patient":      patient,
		"target_range": rng,
	})
}

// Get returns one patient with their current range.
func (h *Handlers) Get(c *fiber.Ctx) error {
	patient, rng, err := h.service.Get(c.UserContext(), auth.FromCtx(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"patient":      patient,
		"target_range": rng,
	})
}

// List pages through the account's patients.
func (h *Handlers) List(c *fiber.Ctx) error {
	opts := kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	}

	result, err := h.service.List(c.UserContext(), auth.FromCtx(c), opts)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

type rangeRequest struct {
	MinINR float64 `json:"min_inr"`
	MaxINR float64 `json:"max_inr"`
}

// SetTargetRange replaces the patient's INR window.
func (h *Handlers) SetTargetRange(c *fiber.Ctx) error {
	var req rangeRequest
	if err := c.BodyParser(&req); err != nil {
		return errx.Validation("invalid request body")
	}

	rng, err := h.service.SetTargetRange(c.UserContext(), auth.FromCtx(c), c.Params("id"), req.MinINR, req.MaxINR)
	if err != nil {
		return err
	}
	return c.JSON(rng)
}
