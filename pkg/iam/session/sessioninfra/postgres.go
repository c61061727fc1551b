package sessioninfra

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/session"
	"github.com/coagline/coagline/pkg/kernel"
)

// PostgresSessionRepository is the sqlx implementation of session.Repository.
type PostgresSessionRepository struct {
	db *sqlx.DB
}

// NewPostgresSessionRepository creates a new session repository.
func NewPostgresSessionRepository(db *sqlx.DB) session.Repository {
	return &PostgresSessionRepository{db: db}
}

// Save inserts a new session row.
func (r *PostgresSessionRepository) Save(ctx context.Context, s session.Session) error {
	query := `
		INSERT INTO sessions (
			session_id, owner_id, device, browser, os, ip_address,
			logged_in_at, last_active_at, revoked, revoked_at
		) VALUES (
			:session_id, :owner_id, :device, :browser, :os, :ip_address,
			:logged_in_at, :last_active_at, :revoked, :revoked_at
		)`

	_, err := r.db.NamedExecContext(ctx, query, s)
	if err != nil {
		return errx.Wrap(err, "failed to save session", errx.TypeInternal).
			WithDetail("session_id", s.ID)
	}

	return nil
}

// Find looks up a session by its opaque id.
func (r *PostgresSessionRepository) Find(ctx context.Context, sessionID string) (*session.Session, error) {
	query := `
		SELECT session_id, owner_id, device, browser, os, ip_address,
			logged_in_at, last_active_at, revoked, revoked_at
		FROM sessions
		WHERE session_id = $1`

	var s session.Session
	err := r.db.GetContext(ctx, &s, query, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, session.ErrSessionNotFound().WithDetail("session_id", sessionID)
		}
		return nil, errx.Wrap(err, "failed to find session", errx.TypeInternal)
	}

	return &s, nil
}

// Touch updates the session's last-active timestamp.
func (r *PostgresSessionRepository) Touch(ctx context.Context, sessionID string) error {
	query := `UPDATE sessions SET last_active_at = NOW() WHERE session_id = $1 AND NOT revoked`

	_, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return errx.Wrap(err, "failed to touch session", errx.TypeInternal).
			WithDetail("session_id", sessionID)
	}

	return nil
}

// Revoke marks a session revoked. Matching an already-revoked row is a no-op.
func (r *PostgresSessionRepository) Revoke(ctx context.Context, sessionID string, ownerID kernel.IdentityID) error {
	query := `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, NOW())
		WHERE session_id = $1 AND owner_id = $2`

	result, err := r.db.ExecContext(ctx, query, sessionID, ownerID.String())
	if err != nil {
		return errx.Wrap(err, "failed to revoke session", errx.TypeInternal).
			WithDetail("session_id", sessionID)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		return session.ErrSessionNotFound().WithDetail("session_id", sessionID)
	}

	return nil
}

// RevokeAllExcept bulk-revokes every active session except the current one.
func (r *PostgresSessionRepository) RevokeAllExcept(ctx context.Context, ownerID kernel.IdentityID, currentSessionID string) (int64, error) {
	query := `
		UPDATE sessions
		SET revoked = TRUE, revoked_at = NOW()
		WHERE owner_id = $1 AND session_id <> $2 AND NOT revoked`

	result, err := r.db.ExecContext(ctx, query, ownerID.String(), currentSessionID)
	if err != nil {
		return 0, errx.Wrap(err, "failed to bulk revoke sessions", errx.TypeInternal).
			WithDetail("owner_id", ownerID.String())
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}

	return affected, nil
}

// ListActive returns a page of non-revoked sessions, newest active first.
func (r *PostgresSessionRepository) ListActive(ctx context.Context, ownerID kernel.IdentityID, opts kernel.PaginationOptions) ([]session.Session, int, error) {
	countQuery := `SELECT COUNT(*) FROM sessions WHERE owner_id = $1 AND NOT revoked`

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, ownerID.String()); err != nil {
		return nil, 0, errx.Wrap(err, "failed to count active sessions", errx.TypeInternal)
	}

	query := `
		SELECT session_id, owner_id, device, browser, os, ip_address,
			logged_in_at, last_active_at, revoked, revoked_at
		FROM sessions
		WHERE owner_id = $1 AND NOT revoked
		ORDER BY last_active_at DESC
		LIMIT $2 OFFSET $3`

	offset := (opts.Page - 1) * opts.PageSize

	var sessions []session.Session
	err := r.db.SelectContext(ctx, &sessions, query, ownerID.String(), opts.PageSize, offset)
	if err != nil {
		return nil, 0, errx.Wrap(err, "failed to list active sessions", errx.TypeInternal).
			WithDetail("owner_id", ownerID.String())
	}

	return sessions, total, nil
}
