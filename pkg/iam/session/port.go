package session

import (
	"context"

	"github.com/coagline/coagline/pkg/kernel"
)

// Repository defines the contract for session persistence
type Repository interface {
	// Save inserts a new session row
	Save(ctx context.Context, s Session) error

	// Find looks up a session by its opaque id
	Find(ctx context.Context, sessionID string) (*Session, error)

	// Touch updates the session's last-active timestamp
	Touch(ctx context.Context, sessionID string) error

	// Revoke marks a session revoked. It only matches sessions owned by
	// ownerID and is idempotent for already-revoked rows.
	Revoke(ctx context.Context, sessionID string, ownerID kernel.IdentityID) error

	// RevokeAllExcept bulk-revokes every active session of ownerID except
	// currentSessionID, returning the number affected.
	RevokeAllExcept(ctx context.Context, ownerID kernel.IdentityID, currentSessionID string) (int64, error)

	// ListActive returns a page of non-revoked sessions ordered newest
	// active first, plus the total active count.
	ListActive(ctx context.Context, ownerID kernel.IdentityID, opts kernel.PaginationOptions) ([]Session, int, error)
}
