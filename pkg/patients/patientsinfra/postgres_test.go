package patientsinfra_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/coagline/coagline/pkg/patients"
	"github.com/coagline/coagline/pkg/patients/patientsinfra"
)

func newMockRepo(t *testing.T) (*patientsinfra.PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return patientsinfra.NewPostgresRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestCreateWithRangeCommitsBothRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO target_ranges").
		WithArgs("pat-1", 2.0, 3.0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	patient := &patients.Patient{
		ID:        "pat-1",
		AccountID: "acct-1",
		FirstName: "Ada",
		LastName:  "Nilsen",
		BirthDate: time.Date(1948, 5, 2, 0, 0, 0, 0, time.UTC),
	}
	rng := &patients.TargetRange{MinINR: 2.0, MaxINR: 3.0}

	if err := repo.CreateWithRange(context.Background(), patient, rng); err != nil {
		t.Fatalf("CreateWithRange: %v", err)
	}
	if rng.ID != 7 || rng.PatientID != "pat-1" {
		t.Fatalf("range not filled in: %+v", rng)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateWithRangeRollsBackOnRangeFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO patients").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO target_ranges").
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	patient := &patients.Patient{ID: "pat-1", AccountID: "acct-1"}
	rng := &patients.TargetRange{MinINR: 2.0, MaxINR: 3.0}

	if err := repo.CreateWithRange(context.Background(), patient, rng); err == nil {
		t.Fatal("expected error when range insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindScopedToAccount(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM patients").
		WithArgs("pat-1", "acct-other").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Find(context.Background(), "pat-1", "acct-other")
	if err == nil {
		t.Fatal("expected not found for foreign account")
	}
}

func TestReplaceRangeClosesOldRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE target_ranges").
		WithArgs("pat-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO target_ranges").
		WithArgs("pat-1", 2.5, 3.5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(8))
	mock.ExpectCommit()

	rng := &patients.TargetRange{MinINR: 2.5, MaxINR: 3.5}
	if err := repo.ReplaceRange(context.Background(), "pat-1", rng); err != nil {
		t.Fatalf("ReplaceRange: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
