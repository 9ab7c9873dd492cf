package fs

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUnlinkRefusesNonEmptyDirectory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM tree t0.*WHERE t0\.parent IS NULL`).
		WithArgs("dir").
		WillReturnRows(sqlmock.NewRows([]string{"id", "inode", "name", "parent", "nlinks"}).
			AddRow(int64(5), int64(50), "dir", nil, int64(1)))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tree WHERE parent = ?")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectRollback()

	err = (&Store{DB: db, Locks: newInodeLocks()}).Unlink(context.Background(), "/dir")
	if err == nil {
		t.Fatal("expected an error for a non-empty directory")
	}
}

func TestUnlinkMarksDeletedOnLastName(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM tree t0.*WHERE t0\.parent IS NULL`).
		WithArgs("f").
		WillReturnRows(sqlmock.NewRows([]string{"id", "inode", "name", "parent", "nlinks"}).
			AddRow(int64(7), int64(70), "f", int64(1), int64(1)))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tree WHERE parent = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tree WHERE id = ?")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE inodes LEFT JOIN tree ON tree.inode = inodes.id`).
		WithArgs(int64(70)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec(regexp.QuoteMeta(
		"DELETE FROM inodes WHERE id = ? AND inuse = 0 AND deleted = 1")).
		WithArgs(int64(70)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM data_blocks WHERE inode = ?`).
		WithArgs(int64(70), int64(70)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := (&Store{DB: db, Locks: newInodeLocks()}).Unlink(context.Background(), "/f"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
