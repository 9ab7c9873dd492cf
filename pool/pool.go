// Package pool implements the connection pool described in
// SPEC_FULL.md §4.1: a LIFO stack of idle *sql.DB-backed sessions,
// bounded below by a floor of pre-opened sessions and above by a
// ceiling of idle sessions kept around between calls.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/samzyy/sqlfs/internal/logging"
)

// Session is a single database handle checked out by exactly one
// goroutine between Acquire and Release.
type Session struct {
	DB *sql.DB
}

// Config configures pool sizing and identifies the server to connect
// to; it is a narrowed view of internal/config.Config so this package
// doesn't need to import it.
type Config struct {
	DriverName     string
	DSN            string
	InitConns      int
	MaxIdlingConns int
}

// Pool is the LIFO stack of idle sessions described in SPEC_FULL.md
// §4.1. Its mutex protects only the stack itself; it is never held
// across a database round-trip.
type Pool struct {
	cfg Config

	mu   sync.Mutex
	idle []*Session

	// ceiling bounds how many idle sessions may sit in the stack at
	// once; ceiling has one permit per idle slot, acquired on Release and
	// released on Acquire, so a full stack simply means the next
	// Release closes the session instead of blocking anyone.
	ceiling *semaphore.Weighted
}

// New opens the configured floor of sessions and returns a ready Pool.
// It does not perform the minimum-version check or root-row bootstrap;
// callers run those via Bootstrap once New succeeds.
func New(cfg Config) (*Pool, error) {
	if cfg.InitConns < 0 || cfg.MaxIdlingConns < cfg.InitConns {
		return nil, fmt.Errorf("pool: invalid sizing: init=%d max_idle=%d", cfg.InitConns, cfg.MaxIdlingConns)
	}
	p := &Pool{
		cfg:     cfg,
		ceiling: semaphore.NewWeighted(int64(cfg.MaxIdlingConns)),
	}
	for i := 0; i < cfg.InitConns; i++ {
		s, err := p.open()
		if err != nil {
			p.Shutdown()
			return nil, err
		}
		p.idle = append(p.idle, s)
		p.ceiling.Acquire(context.Background(), 1)
	}
	return p, nil
}

func (p *Pool) open() (*Session, error) {
	db, err := sql.Open(p.cfg.DriverName, p.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pool: open session: %w", err)
	}
	return &Session{DB: db}, nil
}

// Acquire pops an idle session off the stack, opening a fresh one if
// the stack is empty. It returns an error only if a fresh session could
// not be opened; callers at the filesystem boundary translate that into
// EMFILE (SPEC_FULL.md §7).
func (p *Pool) Acquire() (*Session, error) {
	p.mu.Lock()
	n := len(p.idle)
	if n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		p.ceiling.Release(1)
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.open()
	if err != nil {
		logging.Errorf("pool: acquire failed: %v", err)
		return nil, err
	}
	return s, nil
}

// Release returns a session to the idle stack, unless the idle ceiling
// has already been reached, in which case the session is closed
// instead.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	if !p.ceiling.TryAcquire(1) {
		s.DB.Close()
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, s)
	p.mu.Unlock()
}

// Shutdown closes every idle session. In-flight sessions held by
// callers are closed individually as they call Release after Shutdown
// has run, since TryAcquire on an already-saturated ceiling simply
// closes them.
func (p *Pool) Shutdown() {
	// Take every free permit so the ceiling stays saturated for any
	// Release that follows.
	for p.ceiling.TryAcquire(1) {
	}

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, s := range idle {
		s.DB.Close()
	}
}

// With acquires a session, runs fn, and releases the session on every
// exit path including a panic inside fn — the scope-guard idiom
// SPEC_FULL.md §9 calls for in place of the source's goto-based cleanup.
func (p *Pool) With(fn func(*Session) error) error {
	s, err := p.Acquire()
	if err != nil {
		return err
	}
	defer p.Release(s)
	return fn(s)
}
