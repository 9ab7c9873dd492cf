package fs

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestWriteOneBlockReplaceShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT LENGTH(data) FROM data_blocks WHERE inode = ? AND seq = ?")).
		WithArgs(int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"length"}).AddRow(int64(0)))

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE data_blocks SET data = ? WHERE inode = ? AND seq = ?")).
		WithArgs([]byte("hello"), int64(1), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &Store{DB: db, Locks: newInodeLocks()}
	if err := s.writeOneBlock(context.Background(), 1, 0, []byte("hello"), 0); err != nil {
		t.Fatalf("writeOneBlock: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteOneBlockAppendShape(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT LENGTH(data) FROM data_blocks WHERE inode = ? AND seq = ?")).
		WithArgs(int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"length"}).AddRow(int64(5)))

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE data_blocks SET data = CONCAT(data, ?) WHERE inode = ? AND seq = ?")).
		WithArgs([]byte("world"), int64(1), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &Store{DB: db, Locks: newInodeLocks()}
	if err := s.writeOneBlock(context.Background(), 1, 0, []byte("world"), 5); err != nil {
		t.Fatalf("writeOneBlock: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWriteOneBlockSpliceShapeGrowsBlock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT LENGTH(data) FROM data_blocks WHERE inode = ? AND seq = ?")).
		WithArgs(int64(1), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"length"}).AddRow(int64(3)))

	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE data_blocks SET data = CONCAT(RPAD(data, ?, '\\0'), ?) WHERE inode = ? AND seq = ?")).
		WithArgs(int64(10), []byte("xy"), int64(1), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := &Store{DB: db, Locks: newInodeLocks()}
	if err := s.writeOneBlock(context.Background(), 1, 0, []byte("xy"), 10); err != nil {
		t.Fatalf("writeOneBlock: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReadZeroFillsHole(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT seq, data, LENGTH\(data\) FROM data_blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "data", "length"}))

	s := &Store{DB: db, Locks: newInodeLocks()}
	buf := make([]byte, 10)
	for i := range buf {
		buf[i] = 0xFF
	}
	n, err := s.Read(context.Background(), 1, buf, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes read, got %d", n)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("expected zero-filled hole at %d, got %d", i, b)
		}
	}
}

// TestReadContinuesPastFirstBlockExactlyAtOffset guards against treating
// a present first block whose stored length exactly equals offset_first
// as sparse EOF: that case must zero-fill the remainder of the first
// block's contribution and still read the following blocks, not halt.
func TestReadContinuesPastFirstBlockExactlyAtOffset(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT seq, data, LENGTH\(data\) FROM data_blocks`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "data", "length"}).
			AddRow(int64(0), make([]byte, 100), int64(100)).
			AddRow(int64(1), []byte("Z"), int64(1)))

	s := &Store{DB: db, Locks: newInodeLocks()}
	buf := make([]byte, 4000)
	for i := range buf {
		buf[i] = 0xFF
	}
	n, err := s.Read(context.Background(), 1, buf, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 4000 {
		t.Fatalf("expected 4000 bytes read, got %d", n)
	}
	for i := 0; i < 3996; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected zero at %d, got %d", i, buf[i])
		}
	}
	if buf[3996] != 'Z' {
		t.Fatalf("expected 'Z' at offset 3996, got %d", buf[3996])
	}
	for i := 3997; i < 4000; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected zero at %d, got %d", i, buf[i])
		}
	}
}
