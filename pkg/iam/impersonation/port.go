package impersonation

import (
	"context"

	"github.com/coagline/coagline/pkg/kernel"
)

// Repository persists the impersonation audit log.
type Repository interface {
	// Open records the start of an impersonation and assigns the entry id.
	Open(ctx context.Context, entry *AuditEntry) error

	// Close stamps ended_at on every open entry for the admin/target pair
	// and returns how many entries it closed.
	Close(ctx context.Context, admin, target kernel.IdentityID) (int64, error)

	// HasOpen reports whether any admin currently has an open entry
	// against the target.
	HasOpen(ctx context.Context, target kernel.IdentityID) (bool, error)

	// ListByTarget returns the target's audit history, newest first.
	ListByTarget(ctx context.Context, target kernel.IdentityID, opts kernel.PaginationOptions) (*kernel.Paginated[AuditEntry], error)
}
