package fs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Entry is the result of resolving a path: the terminal tree row's
// inode, its local name, its parent entry id (invalid for the root),
// and its link count — exactly the tuple SPEC_FULL.md §4.3 specifies.
type Entry struct {
	ID     int64 // this tree row's own surrogate id, used as a child's parent
	Inode  int64
	Name   string
	Parent sql.NullInt64
	Nlinks int64
}

// IsRoot reports whether this entry is the filesystem root (the one
// tree row with parent IS NULL).
func (e *Entry) IsRoot() bool { return !e.Parent.Valid }

func splitComponents(path string) ([]string, error) {
	if len(path) > maxPathLen {
		return nil, fmt.Errorf("%q: %w", path, ErrNameTooLong)
	}
	var comps []string
	for _, c := range strings.Split(path, "/") {
		if c == "" {
			continue
		}
		if len(c) > maxNameLen {
			return nil, fmt.Errorf("%q: %w", c, ErrNameTooLong)
		}
		comps = append(comps, c)
	}
	return comps, nil
}

// dirAndBase splits a path into its parent directory and final
// component, e.g. "/a/b/c" -> ("/a/b", "c"), "/a" -> ("/", "a").
func dirAndBase(path string) (dir, base string) {
	comps, err := splitComponents(path)
	if err != nil || len(comps) == 0 {
		return "/", ""
	}
	base = comps[len(comps)-1]
	dir = "/" + strings.Join(comps[:len(comps)-1], "/")
	return dir, base
}

// resolve builds the single self-joined query SPEC_FULL.md §4.3
// describes: one extra join of tree against itself per path component,
// anchored at the row whose parent IS NULL, terminating at the row
// matching the full chain of names. Zero rows means not found. If more
// than one row matches, the first row the server returns is used; the
// duplicate is not reported.
func resolve(ctx context.Context, q querier, path string) (*Entry, error) {
	comps, err := splitComponents(path)
	if err != nil {
		return nil, err
	}

	target := "t0"
	if n := len(comps); n > 0 {
		target = fmt.Sprintf("t%d", n)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s.id, %s.inode, %s.name, %s.parent, "+
		"(SELECT COUNT(*) FROM tree WHERE inode = %s.inode) "+
		"FROM tree t0", target, target, target, target, target)

	args := make([]interface{}, 0, len(comps))
	for i, c := range comps {
		fmt.Fprintf(&b, " JOIN tree t%d ON t%d.parent = t%d.id AND t%d.name = ?", i+1, i+1, i, i+1)
		args = append(args, c)
	}
	b.WriteString(" WHERE t0.parent IS NULL")

	row := q.QueryRowContext(ctx, b.String(), args...)

	e := &Entry{}
	if err := row.Scan(&e.ID, &e.Inode, &e.Name, &e.Parent, &e.Nlinks); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%q: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}
	return e, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, so resolve can run
// inside rename's transaction as well as a plain session.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Resolve exposes resolve on a Store's session.
func (s *Store) Resolve(ctx context.Context, path string) (*Entry, error) {
	return resolve(ctx, s.DB, path)
}

// InodeOf resolves path and returns just its inode id.
func (s *Store) InodeOf(ctx context.Context, path string) (int64, error) {
	e, err := s.Resolve(ctx, path)
	if err != nil {
		return 0, err
	}
	return e.Inode, nil
}
