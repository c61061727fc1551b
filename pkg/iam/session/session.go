package session

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
)

// ============================================================================
// Session Types
// ============================================================================

// Session is one logged-in device/browser instance. The opaque session id is
// embedded into the identity's credential claims; the credential is only
// treated as live while this row exists and is not revoked.
type Session struct {
	ID           string            `db:"session_id" json:"session_id"`
	OwnerID      kernel.IdentityID `db:"owner_id" json:"owner_id"`
	Device       string            `db:"device" json:"device"`
	Browser      string            `db:"browser" json:"browser"`
	OS           string            `db:"os" json:"os"`
	IPAddress    string            `db:"ip_address" json:"ip_address"`
	LoggedInAt   time.Time         `db:"logged_in_at" json:"logged_in_at"`
	LastActiveAt time.Time         `db:"last_active_at" json:"last_active_at"`
	Revoked      bool              `db:"revoked" json:"revoked"`
	RevokedAt    *time.Time        `db:"revoked_at" json:"revoked_at,omitempty"`
}

// DeviceInfo is the client metadata captured at login.
type DeviceInfo struct {
	Device  string `json:"device"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

// View is a session as returned to the caller, flagged when it backs the
// credential making the request.
type View struct {
	Session
	IsCurrent bool `json:"is_current"`
}

// ============================================================================
// Liveness
// ============================================================================

// Liveness reason codes.
const (
	ReasonRevoked          = "revoked"
	ReasonUnknownSession   = "unknown_session"
	ReasonStoreUnavailable = "store_unavailable"
)

// Liveness is the outcome of a session liveness check. An unknown session is
// not live (absence means revoked); a store outage keeps the session live so
// an infrastructure blip is never reported as a revocation.
type Liveness struct {
	Live   bool   `json:"live"`
	Reason string `json:"reason,omitempty"`
}

// ============================================================================
// Tokens
// ============================================================================

// NewSessionID generates a cryptographically random opaque session id.
func NewSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errx.Wrap(err, "failed to generate session id", errx.TypeInternal)
	}
	return hex.EncodeToString(buf), nil
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("SESSION")

var (
	CodeSessionNotFound = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Session not found")
)

func ErrSessionNotFound() *errx.Error {
	return ErrRegistry.New(CodeSessionNotFound)
}
