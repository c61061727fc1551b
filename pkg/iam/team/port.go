package team

import (
	"context"

	"github.com/coagline/coagline/pkg/kernel"
)

// Repository defines the contract for team-member persistence
type Repository interface {
	// Create inserts a new member and assigns its numeric user id
	Create(ctx context.Context, m *Member) error

	// Update persists changes to an existing member
	Update(ctx context.Context, m Member) error

	// Activate flips a pending member to active and clears its invite
	// material in one guarded write. The statement only matches while the
	// stored row still carries the given token in PENDING status, so a
	// concurrent redemption of the same link loses and gets
	// ErrInvalidToken back.
	Activate(ctx context.Context, m Member, token string) error

	// FindByID looks up a member scoped to its account; a member of another
	// account is reported as not found
	FindByID(ctx context.Context, id string, accountID kernel.AccountID) (*Member, error)

	// FindByToken looks up a member by its live invite token
	FindByToken(ctx context.Context, token string) (*Member, error)

	// FindActiveRole returns the role of the active member for
	// (account, email); found is false when no active record exists
	FindActiveRole(ctx context.Context, accountID kernel.AccountID, email string) (kernel.Role, bool, error)

	// ExistsForEmail reports whether an active or pending member already
	// exists for (account, email)
	ExistsForEmail(ctx context.Context, accountID kernel.AccountID, email string) (bool, error)

	// ListByAccount returns all members of an account, newest first
	ListByAccount(ctx context.Context, accountID kernel.AccountID) ([]Member, error)

	// Delete removes a member scoped to its account
	Delete(ctx context.Context, id string, accountID kernel.AccountID) error
}
