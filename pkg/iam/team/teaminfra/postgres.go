package teaminfra

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/team"
	"github.com/coagline/coagline/pkg/kernel"
)

// PostgresMemberRepository is the sqlx implementation of team.Repository.
type PostgresMemberRepository struct {
	db *sqlx.DB
}

// NewPostgresMemberRepository creates a new team-member repository.
func NewPostgresMemberRepository(db *sqlx.DB) team.Repository {
	return &PostgresMemberRepository{db: db}
}

// Create inserts a new member and assigns its numeric user id.
func (r *PostgresMemberRepository) Create(ctx context.Context, m *team.Member) error {
	query := `
		INSERT INTO team_members (
			id, account_owner_id, email, first_name, last_name, role, status,
			invite_token, token_expiry, temp_secret, identity_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING user_id`

	err := r.db.GetContext(ctx, &m.UserID, query,
		m.ID, m.AccountOwnerID.String(), m.Email, m.FirstName, m.LastName,
		m.Role, m.Status, m.InviteToken, m.TokenExpiry, m.TempSecret,
		m.IdentityID, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return team.ErrDuplicateMember().WithDetail("email", m.Email)
		}
		return errx.Wrap(err, "failed to create team member", errx.TypeInternal).
			WithDetail("email", m.Email)
	}

	return nil
}

// Update persists changes to an existing member.
func (r *PostgresMemberRepository) Update(ctx context.Context, m team.Member) error {
	query := `
		UPDATE team_members SET
			email = :email,
			first_name = :first_name,
			last_name = :last_name,
			role = :role,
			status = :status,
			invite_token = :invite_token,
			token_expiry = :token_expiry,
			temp_secret = :temp_secret,
			identity_id = :identity_id,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, m)
	if err != nil {
		return errx.Wrap(err, "failed to update team member", errx.TypeInternal).
			WithDetail("member_id", m.ID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		return team.ErrMemberNotFound().WithDetail("member_id", m.ID)
	}

	return nil
}

// Activate promotes a pending member whose stored token still matches. The
// token comparison happens inside the UPDATE, so only one of two concurrent
// redemptions can match the row.
func (r *PostgresMemberRepository) Activate(ctx context.Context, m team.Member, token string) error {
	query := `
		UPDATE team_members SET
			status = $1,
			invite_token = NULL,
			token_expiry = NULL,
			temp_secret = NULL,
			identity_id = $2,
			updated_at = $3
		WHERE id = $4 AND invite_token = $5 AND status = 'PENDING'`

	result, err := r.db.ExecContext(ctx, query, m.Status, m.IdentityID, m.UpdatedAt, m.ID, token)
	if err != nil {
		return errx.Wrap(err, "failed to activate team member", errx.TypeInternal).
			WithDetail("member_id", m.ID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		return team.ErrInvalidToken()
	}

	return nil
}

// FindByID looks up a member scoped to its account.
func (r *PostgresMemberRepository) FindByID(ctx context.Context, id string, accountID kernel.AccountID) (*team.Member, error) {
	query := `
		SELECT id, account_owner_id, email, first_name, last_name, role, status,
			user_id, invite_token, token_expiry, temp_secret, identity_id,
			created_at, updated_at
		FROM team_members
		WHERE id = $1 AND account_owner_id = $2`

	var m team.Member
	err := r.db.GetContext(ctx, &m, query, id, accountID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, team.ErrMemberNotFound().WithDetail("member_id", id)
		}
		return nil, errx.Wrap(err, "failed to find team member", errx.TypeInternal)
	}

	return &m, nil
}

// FindByToken looks up a member by its live invite token.
func (r *PostgresMemberRepository) FindByToken(ctx context.Context, token string) (*team.Member, error) {
	query := `
		SELECT id, account_owner_id, email, first_name, last_name, role, status,
			user_id, invite_token, token_expiry, temp_secret, identity_id,
			created_at, updated_at
		FROM team_members
		WHERE invite_token = $1`

	var m team.Member
	err := r.db.GetContext(ctx, &m, query, token)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, team.ErrInvalidToken()
		}
		return nil, errx.Wrap(err, "failed to find member by token", errx.TypeInternal)
	}

	return &m, nil
}

// FindActiveRole returns the role of the active member for (account, email).
func (r *PostgresMemberRepository) FindActiveRole(ctx context.Context, accountID kernel.AccountID, email string) (kernel.Role, bool, error) {
	query := `
		SELECT role FROM team_members
		WHERE account_owner_id = $1 AND email = $2 AND status = 'ACTIVE'`

	var role kernel.Role
	err := r.db.GetContext(ctx, &role, query, accountID.String(), email)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, errx.Wrap(err, "failed to find active member role", errx.TypeInternal).
			WithDetail("email", email)
	}

	return role, true, nil
}

// ExistsForEmail reports whether an active or pending member exists.
func (r *PostgresMemberRepository) ExistsForEmail(ctx context.Context, accountID kernel.AccountID, email string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM team_members
			WHERE account_owner_id = $1 AND email = $2 AND status IN ('ACTIVE', 'PENDING')
		)`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, accountID.String(), email)
	if err != nil {
		return false, errx.Wrap(err, "failed to check member existence", errx.TypeInternal).
			WithDetail("email", email)
	}

	return exists, nil
}

// ListByAccount returns all members of an account, newest first.
func (r *PostgresMemberRepository) ListByAccount(ctx context.Context, accountID kernel.AccountID) ([]team.Member, error) {
	query := `
		SELECT id, account_owner_id, email, first_name, last_name, role, status,
			user_id, invite_token, token_expiry, temp_secret, identity_id,
			created_at, updated_at
		FROM team_members
		WHERE account_owner_id = $1
		ORDER BY created_at DESC`

	var members []team.Member
	err := r.db.SelectContext(ctx, &members, query, accountID.String())
	if err != nil {
		return nil, errx.Wrap(err, "failed to list team members", errx.TypeInternal).
			WithDetail("account_id", accountID.String())
	}

	return members, nil
}

// Delete removes a member scoped to its account.
func (r *PostgresMemberRepository) Delete(ctx context.Context, id string, accountID kernel.AccountID) error {
	query := `DELETE FROM team_members WHERE id = $1 AND account_owner_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, accountID.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete team member", errx.TypeInternal).
			WithDetail("member_id", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		return team.ErrMemberNotFound().WithDetail("member_id", id)
	}

	return nil
}
