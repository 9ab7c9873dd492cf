package fs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MinServerVersion is the lowest database server version this schema is
// tested against, per SPEC_FULL.md §6's requirement that the floor be
// documented at build time and checked at startup.
const MinServerVersion = "5.7.0"

// Bootstrap runs the one-time setup SPEC_FULL.md §4.1 folds into the
// pool's init: confirm the server meets MinServerVersion, create the
// root directory entry if it's missing, and optionally run a full fsck.
// It is meant to be called once, against a single session, before any
// Server starts dispatching concurrent calls.
func Bootstrap(ctx context.Context, db *sql.DB, runFsck bool) error {
	if err := checkServerVersion(ctx, db); err != nil {
		return err
	}
	if err := ensureRoot(ctx, db); err != nil {
		return err
	}
	if runFsck {
		if err := (&Store{DB: db, Locks: newInodeLocks()}).Fsck(ctx); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	return nil
}

func checkServerVersion(ctx context.Context, db *sql.DB) error {
	var version string
	if err := db.QueryRowContext(ctx, `SELECT VERSION()`).Scan(&version); err != nil {
		return fmt.Errorf("bootstrap: read server version: %w", err)
	}
	if compareVersions(baseVersion(version), MinServerVersion) < 0 {
		return fmt.Errorf("bootstrap: server version %s is below the minimum supported %s", version, MinServerVersion)
	}
	return nil
}

// baseVersion strips any vendor suffix (e.g. "8.0.34-log" -> "8.0.34").
func baseVersion(v string) string {
	if i := strings.IndexAny(v, "-+ "); i >= 0 {
		return v[:i]
	}
	return v
}

// compareVersions compares two dotted-numeric version strings, padding
// missing components with zero. It returns -1, 0, or 1 the way
// strings.Compare does.
func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for len(as) < len(bs) {
		as = append(as, "0")
	}
	for len(bs) < len(as) {
		bs = append(bs, "0")
	}
	for i := range as {
		an, _ := strconv.Atoi(as[i])
		bn, _ := strconv.Atoi(bs[i])
		if an != bn {
			if an < bn {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ensureRoot creates the single tree row with parent IS NULL if it
// doesn't already exist. It bypasses Mknod, which rejects an empty
// basename and has no notion of a parentless entry.
func ensureRoot(ctx context.Context, db *sql.DB) error {
	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tree WHERE parent IS NULL`).Scan(&count); err != nil {
		return fmt.Errorf("bootstrap: check root: %w", err)
	}
	if count > 1 {
		return errors.New("bootstrap: multiple rootless tree rows, run fsck")
	}
	if count == 1 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: create root: %w", err)
	}
	defer tx.Rollback()

	t := now()
	const rootMode = 0755 | 0040000 // S_IFDIR, kept numeric to avoid an import just for this constant
	res, err := tx.ExecContext(ctx,
		`INSERT INTO inodes (mode, uid, gid, ctime, mtime, atime, size, inuse, deleted) VALUES (?, 0, 0, ?, ?, ?, 0, 0, 0)`,
		rootMode, t, t, t)
	if err != nil {
		return fmt.Errorf("bootstrap: create root inode: %w", err)
	}
	inode, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("bootstrap: create root inode: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tree (name, parent, inode) VALUES ('/', NULL, ?)`, inode); err != nil {
		return fmt.Errorf("bootstrap: create root entry: %w", err)
	}
	return tx.Commit()
}
