package account

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
)

// Account is a practice owner's account row. Its id doubles as the
// identity-provider id of the owner, which is what lets the role resolver
// decide ownership with a single existence check.
type Account struct {
	ID           kernel.AccountID `db:"id" json:"id"`
	Email        string           `db:"email" json:"email"`
	PracticeName string           `db:"practice_name" json:"practice_name"`
	FirstName    string           `db:"first_name" json:"first_name"`
	LastName     string           `db:"last_name" json:"last_name"`
	Phone        string           `db:"phone" json:"phone,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
}

// EmailChangeTTL is how long a pending email-change token stays redeemable.
const EmailChangeTTL = 1 * time.Hour

// NewEmailChangeToken returns an unguessable token for the change-email
// confirmation link.
func NewEmailChangeToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("ACCOUNT")

var (
	CodeNotFound     = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Account not found")
	CodeEmailTaken   = ErrRegistry.Register("EMAIL_TAKEN", errx.TypeConflict, http.StatusConflict, "That email address is already in use")
	CodeInvalidToken = ErrRegistry.Register("INVALID_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "This confirmation link is invalid or has expired")
)

func ErrNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}

func ErrEmailTaken() *errx.Error {
	return ErrRegistry.New(CodeEmailTaken)
}

func ErrInvalidToken() *errx.Error {
	return ErrRegistry.New(CodeInvalidToken)
}
