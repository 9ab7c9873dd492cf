package pool

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/samzyy/sqlfs/internal/testutil"
)

func newTestPool(t *testing.T, init, ceiling int) *Pool {
	t.Helper()
	dsn := t.Name()
	if _, _, err := sqlmock.NewWithDSN(dsn); err != nil {
		t.Fatalf("register mock dsn: %v", err)
	}
	p, err := New(Config{
		DriverName:     "sqlmock",
		DSN:            dsn,
		InitConns:      init,
		MaxIdlingConns: ceiling,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if testutil.VerboseTest() {
		t.Logf("pool %s: floor=%d ceiling=%d", dsn, init, ceiling)
	}
	return p
}

func TestNewPreallocatesFloor(t *testing.T) {
	p := newTestPool(t, 2, 4)
	defer p.Shutdown()

	if len(p.idle) != 2 {
		t.Fatalf("expected 2 preallocated idle sessions, got %d", len(p.idle))
	}
}

func TestRejectsInvalidSizing(t *testing.T) {
	if _, err := New(Config{DriverName: "sqlmock", DSN: t.Name(), InitConns: 5, MaxIdlingConns: 1}); err == nil {
		t.Fatal("expected an error when max-idling-conns < init-conns")
	}
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := newTestPool(t, 1, 1)
	defer p.Shutdown()

	s, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(p.idle) != 0 {
		t.Fatalf("expected the stack to be empty after Acquire, got %d", len(p.idle))
	}

	p.Release(s)
	if len(p.idle) != 1 {
		t.Fatalf("expected the session back on the stack after Release, got %d", len(p.idle))
	}
}

func TestAcquireOpensFreshSessionWhenStackEmpty(t *testing.T) {
	p := newTestPool(t, 0, 2)
	defer p.Shutdown()

	s, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if s == nil || s.DB == nil {
		t.Fatal("expected a freshly opened session")
	}
}

func TestReleaseClosesSessionPastCeiling(t *testing.T) {
	p := newTestPool(t, 0, 1)
	defer p.Shutdown()

	a, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	b, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}

	p.Release(a)
	if len(p.idle) != 1 {
		t.Fatalf("expected first release to land on the stack, got %d idle", len(p.idle))
	}

	p.Release(b)
	if len(p.idle) != 1 {
		t.Fatalf("expected ceiling to reject the second release, got %d idle", len(p.idle))
	}
}

func TestWithReleasesOnError(t *testing.T) {
	p := newTestPool(t, 1, 1)
	defer p.Shutdown()

	wantErr := &sentinelErr{}
	err := p.With(func(*Session) error { return wantErr })
	if err != wantErr {
		t.Fatalf("expected With to propagate fn's error, got %v", err)
	}
	if len(p.idle) != 1 {
		t.Fatalf("expected the session released back even on error, got %d idle", len(p.idle))
	}
}

type sentinelErr struct{}

func (*sentinelErr) Error() string { return "sentinel" }
