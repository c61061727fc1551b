package impersonation

import (
	"net/http"
	"time"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/kernel"
)

// CredentialTTL bounds how long a delegated support credential lives. An
// admin who needs longer simply starts a new impersonation; the audit log
// then shows each stretch separately.
const CredentialTTL = 1 * time.Hour

// AuditEntry is one impersonation episode. A row with a nil EndedAt is an
// open impersonation and suppresses revocation events for its target.
type AuditEntry struct {
	ID            int64             `db:"id" json:"id"`
	AdminIdentity kernel.IdentityID `db:"admin_identity_id" json:"admin_identity_id"`
	AdminEmail    string            `db:"admin_email" json:"admin_email"`
	TargetID      kernel.IdentityID `db:"target_identity_id" json:"target_identity_id"`
	TargetEmail   string            `db:"target_email" json:"target_email"`
	Reason        string            `db:"reason" json:"reason"`
	StartedAt     time.Time         `db:"started_at" json:"started_at"`
	EndedAt       *time.Time        `db:"ended_at" json:"ended_at,omitempty"`
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("IMPERSONATION")

var (
	CodeAdminOnly        = ErrRegistry.Register("ADMIN_ONLY", errx.TypeForbidden, http.StatusForbidden, "Site administrator access required")
	CodeTargetNotFound   = ErrRegistry.Register("TARGET_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "No user found with that email")
	CodeNotImpersonating = ErrRegistry.Register("NOT_IMPERSONATING", errx.TypeValidation, http.StatusBadRequest, "Current credential is not an impersonation credential")
	CodeSelfTarget       = ErrRegistry.Register("SELF_TARGET", errx.TypeValidation, http.StatusBadRequest, "You cannot impersonate yourself")
)

func ErrAdminOnly() *errx.Error {
	return ErrRegistry.New(CodeAdminOnly)
}

func ErrTargetNotFound() *errx.Error {
	return ErrRegistry.New(CodeTargetNotFound)
}

func ErrNotImpersonating() *errx.Error {
	return ErrRegistry.New(CodeNotImpersonating)
}

func ErrSelfTarget() *errx.Error {
	return ErrRegistry.New(CodeSelfTarget)
}
