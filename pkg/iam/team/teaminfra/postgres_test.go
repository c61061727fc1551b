package teaminfra_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/coagline/coagline/pkg/errx"
	"github.com/coagline/coagline/pkg/iam/team"
	"github.com/coagline/coagline/pkg/iam/team/teaminfra"
	"github.com/coagline/coagline/pkg/ptrx"
)

func newMockRepo(t *testing.T) (team.Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return teaminfra.NewPostgresMemberRepository(sqlx.NewDb(db, "postgres")), mock
}

func activatedMember() team.Member {
	return team.Member{
		ID:         "mem-1",
		Status:     team.StatusActive,
		IdentityID: ptrx.Ptr("ident-delegate"),
		UpdatedAt:  time.Now(),
	}
}

func TestActivateMatchesPendingRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	m := activatedMember()

	mock.ExpectExec("UPDATE team_members").
		WithArgs(m.Status, m.IdentityID, m.UpdatedAt, "mem-1", "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Activate(context.Background(), m, "tok-1"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestActivateFailsWhenTokenAlreadyCleared(t *testing.T) {
	repo, mock := newMockRepo(t)

	// Zero rows means the guard lost: another redemption cleared the token
	// first, and this one surfaces as an invalid token.
	mock.ExpectExec("UPDATE team_members").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Activate(context.Background(), activatedMember(), "tok-1")
	if !errx.IsType(err, errx.TypeAuthorization) {
		t.Fatalf("err = %v, want invalid-token error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
