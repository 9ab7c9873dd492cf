package fs

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	_ "github.com/samzyy/sqlfs/internal/testutil"
)

func TestDirAndBase(t *testing.T) {
	cases := []struct{ path, dir, base string }{
		{"/a", "/", "a"},
		{"/a/b/c", "/a/b", "c"},
		{"/", "/", ""},
	}
	for _, c := range cases {
		dir, base := dirAndBase(c.path)
		if dir != c.dir || base != c.base {
			t.Errorf("dirAndBase(%q) = (%q, %q), want (%q, %q)", c.path, dir, base, c.dir, c.base)
		}
	}
}

func TestSplitComponentsRejectsOverlongName(t *testing.T) {
	long := make([]byte, maxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := splitComponents("/" + string(long)); err == nil {
		t.Fatal("expected an error for an over-long path component")
	}
}

func TestResolveBuildsOneJoinPerComponent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	want := regexp.QuoteMeta(
		"SELECT t2.id, t2.inode, t2.name, t2.parent, " +
			"(SELECT COUNT(*) FROM tree WHERE inode = t2.inode) " +
			"FROM tree t0 " +
			"JOIN tree t1 ON t1.parent = t0.id AND t1.name = ? " +
			"JOIN tree t2 ON t2.parent = t1.id AND t2.name = ? " +
			"WHERE t0.parent IS NULL")

	rows := sqlmock.NewRows([]string{"id", "inode", "name", "parent", "nlinks"}).
		AddRow(int64(3), int64(30), "c", driver.Value(int64(2)), int64(1))
	mock.ExpectQuery(want).WithArgs("b", "c").WillReturnRows(rows)

	e, err := resolve(context.Background(), db, "/b/c")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e.ID != 3 || e.Inode != 30 || e.Name != "c" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveNotFoundMapsToErrNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(".*").WillReturnError(sql.ErrNoRows)

	_, err = resolve(context.Background(), db, "/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
