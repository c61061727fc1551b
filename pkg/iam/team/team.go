package team

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
)

// ============================================================================
// Member Types
// ============================================================================

// Status is the team-member lifecycle state.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusExpired Status = "EXPIRED"
)

// InviteTTL is how long a magic link stays redeemable.
const InviteTTL = 48 * time.Hour

// Member is a person acting under an account without owning it. At most one
// active record exists per (account, email) pair.
type Member struct {
	ID             string           `db:"id" json:"id"`
	AccountOwnerID kernel.AccountID `db:"account_owner_id" json:"account_owner_id"`
	Email          string           `db:"email" json:"email"`
	FirstName      string           `db:"first_name" json:"first_name"`
	LastName       string           `db:"last_name" json:"last_name"`
	Role           kernel.Role      `db:"role" json:"role"`
	Status         Status           `db:"status" json:"status"`

	// UserID is the numeric application user id assigned on insert.
	UserID int64 `db:"user_id" json:"user_id"`

	// InviteToken backs the magic link. It is cleared on redemption: a
	// cleared token must never validate again, even from a cached copy.
	InviteToken *string    `db:"invite_token" json:"-"`
	TokenExpiry *time.Time `db:"token_expiry" json:"token_expiry,omitempty"`

	// TempSecret is the generated credential handed to the identity
	// provider when the member is activated; cleared alongside the token.
	TempSecret *string `db:"temp_secret" json:"-"`

	// IdentityID is set once the delegated identity has been provisioned.
	IdentityID *string `db:"identity_id" json:"identity_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TokenValid reports whether the member's invite token can still be
// redeemed.
func (m *Member) TokenValid(now time.Time) bool {
	return m.Status == StatusPending &&
		m.InviteToken != nil &&
		m.TokenExpiry != nil &&
		now.Before(*m.TokenExpiry)
}

// ============================================================================
// Tokens
// ============================================================================

// NewInviteToken generates a random high-entropy magic-link token.
func NewInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errx.Wrap(err, "failed to generate invite token", errx.TypeInternal)
	}
	return hex.EncodeToString(buf), nil
}

// NewTempSecret generates the temporary credential secret provisioned with
// the delegated identity.
func NewTempSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", errx.Wrap(err, "failed to generate temporary secret", errx.TypeInternal)
	}
	return hex.EncodeToString(buf), nil
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("TEAM")

var (
	CodeMemberNotFound  = ErrRegistry.Register("MEMBER_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Team member not found")
	CodeDuplicateMember = ErrRegistry.Register("DUPLICATE_MEMBER", errx.TypeConflict, http.StatusConflict, "This email is already on the team")
	CodeInvalidToken    = ErrRegistry.Register("INVALID_TOKEN", errx.TypeAuthorization, http.StatusUnauthorized, "Invitation link is invalid or expired")
	CodeInvalidRole     = ErrRegistry.Register("INVALID_ROLE", errx.TypeValidation, http.StatusBadRequest, "Role must be viewer or editor")
)

func ErrMemberNotFound() *errx.Error {
	return ErrRegistry.New(CodeMemberNotFound)
}

func ErrDuplicateMember() *errx.Error {
	return ErrRegistry.New(CodeDuplicateMember)
}

func ErrInvalidToken() *errx.Error {
	return ErrRegistry.New(CodeInvalidToken)
}

func ErrInvalidRole() *errx.Error {
	return ErrRegistry.New(CodeInvalidRole)
}
