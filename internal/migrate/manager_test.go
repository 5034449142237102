package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"officeflow.org/migrations"
)

func expectEnsureTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0002_more.up.sql":   {Data: []byte("alter table t add column b int;")},
		"0001_init.up.sql":   {Data: []byte("create table t (a int); insert into t values (';');")},
		"0001_init.down.sql": {Data: []byte("drop table t;")},
	}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("alter table t add column b int").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").WithArgs("0002_more.up.sql", at).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m := NewManager(db, fsys, WithClock(func() time.Time { return at }))
	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_more.up.sql" {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	fsys := fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table t (a int);")},
		"0001_init.down.sql": {Data: []byte("drop table t;")},
	}
	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table t").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations").WithArgs("0001_init.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := NewManager(db, fsys).Down(context.Background())
	if err != nil || name != "0001_init.up.sql" {
		t.Fatalf("Down: %q %v", name, err)
	}

	expectEnsureTables(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	if _, err := NewManager(db, fsys).Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected nothing applied, got %v", err)
	}
}

func TestSeedWithoutFilesystemIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	if err := NewManager(db, nil).Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); -- trailing; note\nselect 1;")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := collectSQL(migrations.FS, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(ups) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		if _, err := readStatements(migrations.FS, down); err != nil {
			t.Fatalf("missing %s: %v", down, err)
		}
	}
}
