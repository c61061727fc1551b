package patients

import (
	"net/http"
	"time"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
)

// Patient is one person under anticoagulation management at a practice.
type Patient struct {
	ID         string           `db:"id" json:"id"`
	AccountID  kernel.AccountID `db:"account_id" json:"account_id"`
	FirstName  string           `db:"first_name" json:"first_name"`
	LastName   string           `db:"last_name" json:"last_name"`
	BirthDate  time.Time        `db:"birth_date" json:"birth_date"`
	Indication string           `db:"indication" json:"indication"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// TargetRange is the patient's prescribed INR window. Every patient has
// exactly one current range; changes append a new row and close the old one.
type TargetRange struct {
	ID            int64      `db:"id" json:"id"`
	PatientID     string     `db:"patient_id" json:"patient_id"`
	MinINR        float64    `db:"min_inr" json:"min_inr"`
	MaxINR        float64    `db:"max_inr" json:"max_inr"`
	EffectiveFrom time.Time  `db:"effective_from" json:"effective_from"`
	EffectiveTo   *time.Time `db:"effective_to" json:"effective_to,omitempty"`
}

// Valid checks the range is a sane INR window.
func (r TargetRange) Valid() bool {
	return r.MinINR > 0 && r.MaxINR > r.MinINR && r.MaxINR <= 10
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("PATIENTS")

var (
	CodeNotFound     = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Patient not found")
	CodeInvalidRange = ErrRegistry.Register("INVALID_RANGE", errx.TypeValidation, http.StatusBadRequest, "Target INR range is invalid")
)

func ErrNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}

func ErrInvalidRange() *errx.Error {
	return ErrRegistry.New(CodeInvalidRange)
}
