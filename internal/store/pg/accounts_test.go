package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"officeflow.org/internal/auth"
)

var testAccountColumns = []string{
	"id", "name", "email", "password_hash", "role", "permissions", "is_active", "last_login",
	"failed_logins", "mfa_enabled", "mfa_secret", "reset_token_hash", "reset_token_expires", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateAccountMapsUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("insert into accounts").
		WithArgs(sqlmock.AnyArg(), "Alice", "alice@x.com", "hash", "employee", sqlmock.AnyArg(), true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	acc := &auth.Account{Name: "Alice", Email: " Alice@X.com ", PasswordHash: "hash", Role: auth.RoleEmployee, Active: true}
	if err := s.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acc.ID == "" || !acc.CreatedAt.Equal(now) {
		t.Fatalf("expected id and timestamps to be filled, got %+v", acc)
	}

	mock.ExpectQuery("insert into accounts").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	dup := &auth.Account{Name: "Alice", Email: "alice@x.com", PasswordHash: "hash", Role: auth.RoleEmployee, Active: true}
	if err := s.CreateAccount(context.Background(), dup); !errors.Is(err, auth.ErrDuplicateAccount) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAccountByEmailScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(testAccountColumns).AddRow(
		"01HX", "Alice", "alice@x.com", "hash", "manager", []byte(`{"files":{"view":true}}`), true, now,
		int64(2), true, "SECRET", nil, nil, now, now,
	)
	mock.ExpectQuery("select .* from accounts where email").WithArgs("alice@x.com").WillReturnRows(rows)

	acc, err := s.AccountByEmail(context.Background(), "ALICE@x.com")
	if err != nil {
		t.Fatalf("AccountByEmail: %v", err)
	}
	if acc.Role != auth.RoleManager || acc.FailedLogins != 2 || !acc.MFAEnabled || acc.MFASecret != "SECRET" {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if acc.LastLogin == nil || !acc.LastLogin.Equal(now) || acc.ResetTokenExpires != nil {
		t.Fatalf("unexpected nullable columns: %+v", acc)
	}
	if !acc.Permissions.Allows(auth.ModuleFiles, auth.ActionView) {
		t.Fatalf("expected permissions decoded")
	}

	mock.ExpectQuery("select .* from accounts where id").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	if _, err := s.AccountByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateAccountBuildsSetClauses(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	name := "Bob"
	active := false
	mock.ExpectQuery(`update accounts set name = \$1, is_active = \$2, updated_at = now\(\) where id = \$3`).
		WithArgs("Bob", false, "01HX").
		WillReturnRows(sqlmock.NewRows(testAccountColumns).AddRow(
			"01HX", "Bob", "bob@x.com", "hash", "employee", []byte(`{}`), false, nil,
			int64(0), false, nil, nil, nil, now, now,
		))

	acc, err := s.UpdateAccount(context.Background(), "01HX", auth.AccountUpdate{Name: &name, Active: &active})
	if err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	if acc.Name != "Bob" || acc.Active {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestIncrementFailedLoginsReturnsCounter(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("update accounts set failed_logins = failed_logins").WithArgs("01HX").
		WillReturnRows(sqlmock.NewRows([]string{"failed_logins"}).AddRow(int64(5)))
	n, err := s.IncrementFailedLogins(context.Background(), "01HX")
	if err != nil || n != 5 {
		t.Fatalf("IncrementFailedLogins: %d %v", n, err)
	}
}

func TestConsumeResetTokenClearsExpired(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("update accounts").WithArgs("hash", now, "new").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("01HX"))
	id, err := s.ConsumeResetToken(context.Background(), "hash", now, "new")
	if err != nil || id != "01HX" {
		t.Fatalf("ConsumeResetToken: %q %v", id, err)
	}

	mock.ExpectQuery("update accounts").WithArgs("stale", now, "new").WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("update accounts set reset_token_hash = null").WithArgs("stale").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if _, err := s.ConsumeResetToken(context.Background(), "stale", now, "new"); !errors.Is(err, auth.ErrInvalidOrExpiredToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNilDatabaseIsReported(t *testing.T) {
	s := &Store{}
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected error without a database")
	}
	if _, err := s.AccountByID(context.Background(), "x"); err == nil {
		t.Fatalf("expected error without a database")
	}
}
