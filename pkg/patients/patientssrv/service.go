package patientssrv

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/coagline/coagline/pkg/billing/entitlement"
	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/authz"
	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/patients"
)

const maxPageSize = 50

// EntitlementGate classifies the account's current access level. Writes
// are refused on anything below full access.
type EntitlementGate interface {
	Check(ctx context.Context, accountID kernel.AccountID) (entitlement.Access, error)
}

// CreateRequest is the payload for registering a patient.
type CreateRequest struct {
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	BirthDate  time.Time `json:"birth_date"`
	Indication string    `json:"indication"`
	MinINR     float64   `json:"min_inr"`
	MaxINR     float64   `json:"max_inr"`
}

// Service is the patient registry.
type Service struct {
	repo patients.Repository
	gate EntitlementGate
}

func NewService(repo patients.Repository, gate EntitlementGate) *Service {
	return &Service{repo: repo, gate: gate}
}

// Create registers a patient together with their initial target INR range.
// Editors and owners only, and only on accounts with full access.
func (s *Service) Create(ctx context.Context, p *kernel.Principal, req CreateRequest) (*patients.Patient, *patients.TargetRange, error) {
	if err := authz.Require(p.EffectiveRole, authz.CapEdit); err != nil {
		return nil, nil, err
	}
	if err := s.requireFullAccess(ctx, p.AccountID); err != nil {
		return nil, nil, err
	}

	rng := &patients.TargetRange{MinINR: req.MinINR, MaxINR: req.MaxINR}
	if !rng.Valid() {
		return nil, nil, patients.ErrInvalidRange().
			WithDetail("min_inr", req.MinINR).
			WithDetail("max_inr", req.MaxINR)
	}

	now := time.Now()
	patient := &patients.Patient{
		ID:         uuid.NewString(),
		AccountID:  p.AccountID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		BirthDate:  req.BirthDate,
		Indication: req.Indication,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.repo.CreateWithRange(ctx, patient, rng); err != nil {
		return nil, nil, err
	}
	return patient, rng, nil
}

// Get returns one of the caller's patients with their current range.
func (s *Service) Get(ctx context.Context, p *kernel.Principal, patientID string) (*patients.Patient, *patients.TargetRange, error) {
	if err := authz.Require(p.EffectiveRole, authz.CapRead); err != nil {
		return nil, nil, err
	}

	patient, err := s.repo.Find(ctx, patientID, p.AccountID)
	if err != nil {
		return nil, nil, err
	}
	rng, err := s.repo.CurrentRange(ctx, patient.ID)
	if err != nil {
		return nil, nil, err
	}
	return patient, rng, nil
}

// List pages through the caller's patients.
func (s *Service) List(ctx context.Context, p *kernel.Principal, opts kernel.PaginationOptions) (*kernel.Paginated[patients.Patient], error) {
	if err := authz.Require(p.EffectiveRole, authz.CapRead); err != nil {
		return nil, err
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 || opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}
	return s.repo.List(ctx, p.AccountID, opts)
}

// SetTargetRange replaces the patient's current INR window.
func (s *Service) SetTargetRange(ctx context.Context, p *kernel.Principal, patientID string, minINR, maxINR float64) (*patients.TargetRange, error) {
	if err := authz.Require(p.EffectiveRole, authz.CapEdit); err != nil {
		return nil, err
	}
	if err := s.requireFullAccess(ctx, p.AccountID); err != nil {
		return nil, err
	}

	// Scoped lookup first so a foreign patient id reads as not found.
	if _, err := s.repo.Find(ctx, patientID, p.AccountID); err != nil {
		return nil, err
	}

	rng := &patients.TargetRange{MinINR: minINR, MaxINR: maxINR}
	if !rng.Valid() {
		return nil, patients.ErrInvalidRange().
			WithDetail("min_inr", minINR).
			WithDetail("max_inr", maxINR)
	}
	if err := s.repo.ReplaceRange(ctx, patientID, rng); err != nil {
		return nil, err
	}
	return rng, nil
}

// requireFullAccess turns a readonly entitlement into a forbidden error
// carrying the classification reason, so the client can explain the block.
func (s *Service) requireFullAccess(ctx context.Context, accountID kernel.AccountID) error {
	access, err := s.gate.Check(ctx, accountID)
	if err != nil {
		return err
	}
	if access.Level != entitlement.AccessFull {
		return errx.Forbidden("Your plan is read-only right now").
			WithDetail("reason", access.Reason)
	}
	return nil
}
