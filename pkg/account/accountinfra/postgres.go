package accountinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/coagline/coagline/pkg/account"
	"github.com/coagline/coagline/pkg/kernel"
)

// PostgresRepository implements account.Repository on PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ account.Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Create(ctx context.Context, acct *account.Account) error {
	query := `
		INSERT INTO accounts (id, email, practice_name, first_name, last_name, phone, created_at, updated_at)
		VALUES (:id, :email, :practice_name, :first_name, :last_name, :phone, NOW(), NOW())`

	if _, err := r.db.NamedExecContext(ctx, query, acct); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return account.ErrEmailTaken()
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, id kernel.AccountID) (*account.Account, error) {
	query := `
		SELECT id, email, practice_name, first_name, last_name, phone, created_at, updated_at
		FROM accounts
		WHERE id = $1`

	var acct account.Account
	if err := r.db.GetContext(ctx, &acct, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound()
		}
		return nil, fmt.Errorf("finding account: %w", err)
	}
	return &acct, nil
}

func (r *PostgresRepository) Update(ctx context.Context, acct *account.Account) error {
	query := `
		UPDATE accounts
		SET practice_name = :practice_name,
		    first_name = :first_name,
		    last_name = :last_name,
		    phone = :phone,
		    updated_at = NOW()
		WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, acct)
	if err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return account.ErrNotFound()
	}
	return nil
}

func (r *PostgresRepository) AccountExists(ctx context.Context, id kernel.AccountID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("checking account existence: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) EmailInUse(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM accounts WHERE LOWER(email) = LOWER($1))`

	var inUse bool
	if err := r.db.GetContext(ctx, &inUse, query, email); err != nil {
		return false, fmt.Errorf("checking email use: %w", err)
	}
	return inUse, nil
}

func (r *PostgresRepository) UpdateEmail(ctx context.Context, id kernel.AccountID, email string) error {
	query := `UPDATE accounts SET email = $1, updated_at = NOW() WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, email, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return account.ErrEmailTaken()
		}
		return fmt.Errorf("updating account email: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return account.ErrNotFound()
	}
	return nil
}
