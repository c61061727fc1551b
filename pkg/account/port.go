package account

import (
	"context"

	"github.com/coagline/coagline/pkg/kernel"
)

// Repository persists owner accounts.
type Repository interface {
	Create(ctx context.Context, acct *Account) error
	Find(ctx context.Context, id kernel.AccountID) (*Account, error)
	Update(ctx context.Context, acct *Account) error

	// AccountExists is the ownership check used by the role resolver.
	AccountExists(ctx context.Context, id kernel.AccountID) (bool, error)

	// EmailInUse reports whether any account already uses the email.
	EmailInUse(ctx context.Context, email string) (bool, error)

	// UpdateEmail changes the account's email address.
	UpdateEmail(ctx context.Context, id kernel.AccountID, email string) error
}

// PendingEmailChange is the payload stored against an outstanding
// email-change token.
type PendingEmailChange struct {
	AccountID kernel.AccountID `json:"account_id"`
	NewEmail  string           `json:"new_email"`
}

// TokenStore holds email-change tokens for their single-use lifetime.
// Writing a new token for an account replaces any outstanding one, so at
// most one confirmation link is ever live per account.
type TokenStore interface {
	// Put stores the pending change under the token and indexes it by
	// account, expiring both after the TTL.
	Put(ctx context.Context, token string, change PendingEmailChange) error

	// Take atomically fetches and deletes the pending change. A second
	// Take of the same token misses.
	Take(ctx context.Context, token string) (*PendingEmailChange, error)
}
