package patientsinfra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/coagline/coagline/pkg/kernel"
	"github.com/coagline/coagline/pkg/patients"
)

// PostgresRepository implements patients.Repository on PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ patients.Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) CreateWithRange(ctx context.Context, patient *patients.Patient, rng *patients.TargetRange) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning patient transaction: %w", err)
	}
	defer tx.Rollback()

	patientQuery := `
		INSERT INTO patients (id, account_id, first_name, last_name, birth_date, indication, created_at, updated_at)
		VALUES (:id, :account_id, :first_name, :last_name, :birth_date, :indication, NOW(), NOW())`
	if _, err := tx.NamedExecContext(ctx, patientQuery, patient); err != nil {
		return fmt.Errorf("inserting patient: %w", err)
	}

	rangeQuery := `
		INSERT INTO target_ranges (patient_id, min_inr, max_inr, effective_from)
		VALUES ($1, $2, $3, NOW())
		RETURNING id`
	row := tx.QueryRowxContext(ctx, rangeQuery, patient.ID, rng.MinINR, rng.MaxINR)
	if err := row.Scan(&rng.ID); err != nil {
		return fmt.Errorf("inserting target range: %w", err)
	}
	rng.PatientID = patient.ID

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing patient transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Find(ctx context.Context, id string, accountID kernel.AccountID) (*patients.Patient, error) {
	query := `
		SELECT id, account_id, first_name, last_name, birth_date, indication, created_at, updated_at
		FROM patients
		WHERE id = $1 AND account_id = $2`

	var p patients.Patient
	if err := r.db.GetContext(ctx, &p, query, id, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, patients.ErrNotFound()
		}
		return nil, fmt.Errorf("finding patient: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) List(ctx context.Context, accountID kernel.AccountID, opts kernel.PaginationOptions) (*kernel.Paginated[patients.Patient], error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM patients WHERE account_id = $1`
	if err := r.db.GetContext(ctx, &total, countQuery, accountID); err != nil {
		return nil, fmt.Errorf("counting patients: %w", err)
	}

	query := `
		SELECT id, account_id, first_name, last_name, birth_date, indication, created_at, updated_at
		FROM patients
		WHERE account_id = $1
		ORDER BY last_name, first_name
		LIMIT $2 OFFSET $3`

	offset := (opts.Page - 1) * opts.PageSize
	var items []patients.Patient
	if err := r.db.SelectContext(ctx, &items, query, accountID, opts.PageSize, offset); err != nil {
		return nil, fmt.Errorf("listing patients: %w", err)
	}

	result := kernel.NewPaginated(items, opts.Page, opts.PageSize, total)
	return &result, nil
}

func (r *PostgresRepository) CurrentRange(ctx context.Context, patientID string) (*patients.TargetRange, error) {
	query := `
		SELECT id, patient_id, min_inr, max_inr, effective_from, effective_to
		FROM target_ranges
		WHERE patient_id = $1 AND effective_to IS NULL`

	var rng patients.TargetRange
	if err := r.db.GetContext(ctx, &rng, query, patientID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, patients.ErrNotFound()
		}
		return nil, fmt.Errorf("finding current target range: %w", err)
	}
	return &rng, nil
}

func (r *PostgresRepository) ReplaceRange(ctx context.Context, patientID string, rng *patients.TargetRange) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning range transaction: %w", err)
	}
	defer tx.Rollback()

	closeQuery := `
		UPDATE target_ranges
		SET effective_to = NOW()
		WHERE patient_id = $1 AND effective_to IS NULL`
	if _, err := tx.ExecContext(ctx, closeQuery, patientID); err != nil {
		return fmt.Errorf("closing current target range: %w", err)
	}

	openQuery := `
		INSERT INTO target_ranges (patient_id, min_inr, max_inr, effective_from)
		VALUES ($1, $2, $3, NOW())
		RETURNING id`
	row := tx.QueryRowxContext(ctx, openQuery, patientID, rng.MinINR, rng.MaxINR)
	if err := row.Scan(&rng.ID); err != nil {
		return fmt.Errorf("inserting target range: %w", err)
	}
	rng.PatientID = patientID

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing range transaction: %w", err)
	}
	return nil
}
