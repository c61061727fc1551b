package impersonationinfra

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/coagline/coagline/pkg/iam/impersonation"
	"github.com/coagline/coagline/pkg/kernel"
)

// PostgresRepository implements impersonation.Repository on PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ impersonation.Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Open(ctx context.Context, entry *impersonation.AuditEntry) error {
	query := `
		INSERT INTO impersonation_audit (
			admin_identity_id, admin_email, target_identity_id, target_email, reason, started_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, started_at`

	row := r.db.QueryRowxContext(ctx, query,
		entry.AdminIdentity, entry.AdminEmail, entry.TargetID, entry.TargetEmail, entry.Reason)
	if err := row.Scan(&entry.ID, &entry.StartedAt); err != nil {
		return fmt.Errorf("opening impersonation audit entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Close(ctx context.Context, admin, target kernel.IdentityID) (int64, error) {
	query := `
		UPDATE impersonation_audit
		SET ended_at = NOW()
		WHERE admin_identity_id = $1 AND target_identity_id = $2 AND ended_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, admin, target)
	if err != nil {
		return 0, fmt.Errorf("closing impersonation audit entries: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) HasOpen(ctx context.Context, target kernel.IdentityID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM impersonation_audit
			WHERE target_identity_id = $1 AND ended_at IS NULL
		)`

	var open bool
	if err := r.db.GetContext(ctx, &open, query, target); err != nil {
		return false, fmt.Errorf("checking open impersonations: %w", err)
	}
	return open, nil
}

func (r *PostgresRepository) ListByTarget(ctx context.Context, target kernel.IdentityID, opts kernel.PaginationOptions) (*kernel.Paginated[impersonation.AuditEntry], error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM impersonation_audit WHERE target_identity_id = $1`
	if err := r.db.GetContext(ctx, &total, countQuery, target); err != nil {
		return nil, fmt.Errorf("counting impersonation audit entries: %w", err)
	}

	query := `
		SELECT id, admin_identity_id, admin_email, target_identity_id, target_email,
		       reason, started_at, ended_at
		FROM impersonation_audit
		WHERE target_identity_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	offset := (opts.Page - 1) * opts.PageSize
	var entries []impersonation.AuditEntry
	if err := r.db.SelectContext(ctx, &entries, query, target, opts.PageSize, offset); err != nil {
		return nil, fmt.Errorf("listing impersonation audit entries: %w", err)
	}

	result := kernel.NewPaginated(entries, opts.Page, opts.PageSize, total)
	return &result, nil
}
