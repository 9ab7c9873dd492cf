package fs

import (
	"context"
	"database/sql"
	"fmt"
)

// Open implements SPEC_FULL.md §4.6's open: resolve the path and bump
// inuse. The caller stashes the returned inode as the descriptor's
// opaque handle.
func (s *Store) Open(ctx context.Context, path string) (int64, error) {
	e, err := s.Resolve(ctx, path)
	if err != nil {
		return 0, err
	}
	if _, err := s.DB.ExecContext(ctx,
		`UPDATE inodes SET inuse = inuse + 1 WHERE id = ?`, e.Inode); err != nil {
		return 0, fmt.Errorf("open %q: %w", path, err)
	}
	return e.Inode, nil
}

// Release implements SPEC_FULL.md §4.6's release: decrement inuse
// (never below zero) and attempt a purge.
func (s *Store) Release(ctx context.Context, inode int64) error {
	if _, err := s.DB.ExecContext(ctx,
		`UPDATE inodes SET inuse = inuse - 1 WHERE id = ? AND inuse > 0`, inode); err != nil {
		return fmt.Errorf("release inode %d: %w", inode, err)
	}
	return s.purge(ctx, inode)
}

func (s *Store) purge(ctx context.Context, inode int64) error {
	if _, err := s.DB.ExecContext(ctx,
		`DELETE FROM inodes WHERE id = ? AND inuse = 0 AND deleted = 1`, inode); err != nil {
		return fmt.Errorf("purge inode %d: %w", inode, err)
	}
	if _, err := s.DB.ExecContext(ctx,
		`DELETE FROM data_blocks WHERE inode = ? AND NOT EXISTS (SELECT 1 FROM inodes WHERE id = ?)`,
		inode, inode); err != nil {
		return fmt.Errorf("purge inode %d: %w", inode, err)
	}
	return nil
}

// Unlink implements SPEC_FULL.md §4.6's unlink (rmdir is the same
// operation per §6): the target directory entry must have no children,
// and the last remaining name triggers the deleted flag plus a purge
// attempt.
func (s *Store) Unlink(ctx context.Context, path string) error {
	e, err := s.Resolve(ctx, path)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unlink %q: %w", path, err)
	}
	defer tx.Rollback()

	if err := unlinkTx(ctx, tx, e); err != nil {
		return fmt.Errorf("unlink %q: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unlink %q: %w", path, err)
	}
	return s.purge(ctx, e.Inode)
}

// unlinkTx is the shared body of Unlink and Rename's destination
// removal: assert emptiness, delete the tree row, and latch deleted
// once no name references the inode any more. It leaves purging to the
// caller, since Rename's transaction must commit before a purge (a
// separate statement) is attempted.
func unlinkTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	var children int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tree WHERE parent = ?`, e.ID).Scan(&children); err != nil {
		return fmt.Errorf("check children: %w", err)
	}
	if children > 0 {
		return ErrNotEmpty
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tree WHERE id = ?`, e.ID); err != nil {
		return fmt.Errorf("delete tree row: %w", err)
	}

	if e.Nlinks <= 1 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE inodes LEFT JOIN tree ON tree.inode = inodes.id
			 SET inodes.deleted = 1
			 WHERE inodes.id = ? AND tree.name IS NULL`, e.Inode); err != nil {
			return fmt.Errorf("mark deleted: %w", err)
		}
	}
	return nil
}

// Fsck implements SPEC_FULL.md §4.6's integrity pass, run once at
// startup when configured. It assumes no live openers, so it resets
// inuse unconditionally.
func (s *Store) Fsck(ctx context.Context) error {
	stmts := []string{
		`DELETE FROM inodes WHERE deleted = 1`,
		`DELETE FROM tree WHERE inode NOT IN (SELECT id FROM inodes)`,
		`UPDATE inodes SET inuse = 0`,
		`DELETE FROM data_blocks WHERE inode NOT IN (SELECT id FROM inodes)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("fsck: %w", err)
		}
	}

	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM inodes`)
	if err != nil {
		return fmt.Errorf("fsck: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("fsck: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("fsck: %w", err)
	}

	for _, id := range ids {
		if _, err := s.DB.ExecContext(ctx,
			`UPDATE inodes SET size = COALESCE((SELECT SUM(OCTET_LENGTH(data)) FROM data_blocks WHERE inode = ?), 0) WHERE id = ?`,
			id, id); err != nil {
			return fmt.Errorf("fsck: recompute size for inode %d: %w", id, err)
		}
	}
	return nil
}
