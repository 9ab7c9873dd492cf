package fs

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samzyy/sqlfs/fuse"
)

// Getattr implements SPEC_FULL.md §4.4's getattr: resolve, then select
// the cached metadata row. st_nlink comes from the resolver's count,
// not from inodes itself.
func (s *Store) Getattr(ctx context.Context, path string) (*fuse.Attr, error) {
	e, err := s.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	a := &fuse.Attr{Ino: uint64(e.Inode), Nlink: uint32(e.Nlinks)}
	row := s.DB.QueryRowContext(ctx,
		`SELECT mode, uid, gid, atime, mtime, ctime, size FROM inodes WHERE id = ?`, e.Inode)
	var atime, mtime, ctime int64
	if err := row.Scan(&a.Mode, &a.Uid, &a.Gid, &atime, &mtime, &ctime, &a.Size); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("getattr %q: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("getattr %q: %w", path, err)
	}
	a.Atime, a.Mtime, a.Ctime = atime, mtime, ctime
	return a, nil
}

// Chmod implements SPEC_FULL.md §4.4's chmod.
func (s *Store) Chmod(ctx context.Context, path string, mode uint32) error {
	e, err := s.Resolve(ctx, path)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE inodes SET mode = ?, ctime = ? WHERE id = ?`, mode, now(), e.Inode)
	if err != nil {
		return fmt.Errorf("chmod %q: %w", path, err)
	}
	return nil
}

// Chown implements SPEC_FULL.md §4.4's chown. fuse.NoChangeID in either
// field means "leave this column alone", matching libfuse's -1
// convention; that column is simply omitted from the UPDATE.
func (s *Store) Chown(ctx context.Context, path string, uid, gid uint32) error {
	e, err := s.Resolve(ctx, path)
	if err != nil {
		return err
	}

	set := "ctime = ?"
	args := []interface{}{now()}
	if uid != fuse.NoChangeID {
		set += ", uid = ?"
		args = append(args, uid)
	}
	if gid != fuse.NoChangeID {
		set += ", gid = ?"
		args = append(args, gid)
	}
	args = append(args, e.Inode)

	_, err = s.DB.ExecContext(ctx, `UPDATE inodes SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("chown %q: %w", path, err)
	}
	return nil
}

// Utime implements SPEC_FULL.md §4.4's utime.
func (s *Store) Utime(ctx context.Context, path string, atime, mtime int64) error {
	e, err := s.Resolve(ctx, path)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE inodes SET atime = ?, mtime = ? WHERE id = ?`, atime, mtime, e.Inode)
	if err != nil {
		return fmt.Errorf("utime %q: %w", path, err)
	}
	return nil
}

// Mknod implements SPEC_FULL.md §4.4's mknod: resolve the parent
// directory, insert the inode row, then the tree row naming it.
// mkdir is mknod with S_IFDIR folded into mode by the caller.
func (s *Store) Mknod(ctx context.Context, path string, mode, rdev uint32, owner *fuse.Owner) (int64, error) {
	dir, base := dirAndBase(path)
	if base == "" {
		return 0, fmt.Errorf("mknod %q: %w", path, ErrExists)
	}
	parent, err := s.Resolve(ctx, dir)
	if err != nil {
		return 0, err
	}
	if _, err := s.Resolve(ctx, path); err == nil {
		return 0, fmt.Errorf("mknod %q: %w", path, ErrExists)
	}

	t := now()
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO inodes (mode, uid, gid, ctime, mtime, atime, size, inuse, deleted) VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0)`,
		mode, owner.Uid, owner.Gid, t, t, t)
	if err != nil {
		return 0, fmt.Errorf("mknod %q: %w", path, err)
	}
	inode, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("mknod %q: %w", path, err)
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO tree (name, parent, inode) VALUES (?, ?, ?)`, base, parent.ID, inode)
	if err != nil {
		return 0, fmt.Errorf("mknod %q: %w", path, err)
	}
	_ = rdev // not persisted: inodes has no rdev column, so Attr.Rdev reads back as zero
	return inode, nil
}

// Mkdir implements SPEC_FULL.md §4.4's mkdir.
func (s *Store) Mkdir(ctx context.Context, path string, mode uint32, owner *fuse.Owner) (int64, error) {
	return s.Mknod(ctx, path, mode|fuse.S_IFDIR, 0, owner)
}

// Link implements SPEC_FULL.md §4.4's link: resolve the source's inode,
// resolve the destination's parent, insert a new tree row pointing the
// new name at the existing inode.
func (s *Store) Link(ctx context.Context, oldPath, newPath string) error {
	src, err := s.Resolve(ctx, oldPath)
	if err != nil {
		return err
	}
	dir, base := dirAndBase(newPath)
	if base == "" {
		return fmt.Errorf("link %q: %w", newPath, ErrExists)
	}
	parent, err := s.Resolve(ctx, dir)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO tree (name, parent, inode) VALUES (?, ?, ?)`, base, parent.ID, src.Inode)
	if err != nil {
		return fmt.Errorf("link %q -> %q: %w", oldPath, newPath, err)
	}
	return nil
}

// Symlink implements SPEC_FULL.md §4.4's symlink: create a regular
// inode tagged S_IFLNK and write the target string into it as file
// content, exactly the way a symlink's data is stored everywhere else
// in this schema.
func (s *Store) Symlink(ctx context.Context, target, linkPath string, owner *fuse.Owner) error {
	inode, err := s.Mknod(ctx, linkPath, fuse.S_IFLNK|0755, 0, owner)
	if err != nil {
		return err
	}
	if _, err := s.Write(ctx, inode, []byte(target), 0); err != nil {
		return fmt.Errorf("symlink %q -> %q: %w", linkPath, target, err)
	}
	return nil
}

// Readlink implements SPEC_FULL.md §4.4's readlink: resolve, then read
// the link target back out through the data engine.
func (s *Store) Readlink(ctx context.Context, path string) (string, error) {
	e, err := s.Resolve(ctx, path)
	if err != nil {
		return "", err
	}
	buf := make([]byte, maxPathLen)
	n, err := s.Read(ctx, e.Inode, buf, 0)
	if err != nil {
		return "", fmt.Errorf("readlink %q: %w", path, err)
	}
	// Read zero-fills past the stored target, so the target ends at the
	// first NUL.
	if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
		n = i
	}
	return string(buf[:n]), nil
}

// DirEntry is one row Readdir hands to its filler.
type DirEntry struct {
	Name string
	Ino  int64
	Mode uint32
}

// ReaddirEntries implements SPEC_FULL.md §4.4's readdir. Entries carry no
// ordering guarantee; "." and ".." are not synthesized here (the
// dispatcher adds them, since it alone knows the parent's own attrs).
func (s *Store) ReaddirEntries(ctx context.Context, dirInode int64) ([]DirEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT tree.name, tree.inode, inodes.mode
		 FROM tree JOIN inodes ON inodes.id = tree.inode
		 WHERE tree.parent = (SELECT id FROM tree WHERE inode = ? LIMIT 1)`,
		dirInode)
	if err != nil {
		return nil, fmt.Errorf("readdir: %w", err)
	}
	defer rows.Close()

	var entries []DirEntry
	for rows.Next() {
		var d DirEntry
		if err := rows.Scan(&d.Name, &d.Ino, &d.Mode); err != nil {
			return nil, fmt.Errorf("readdir: %w", err)
		}
		entries = append(entries, d)
	}
	return entries, rows.Err()
}

// Rename implements SPEC_FULL.md §4.4's rename. If the destination
// exists and is a directory, it fails with ErrExists. Otherwise the
// destination (if any) is unlinked and the source entry renamed inside
// a single transaction, per §9's atomicity requirement.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rename %q -> %q: %w", oldPath, newPath, err)
	}
	defer tx.Rollback()

	src, err := resolve(ctx, tx, oldPath)
	if err != nil {
		return err
	}

	var purgeInode int64
	var needPurge bool
	if dst, err := resolve(ctx, tx, newPath); err == nil {
		var mode uint32
		if scanErr := tx.QueryRowContext(ctx, `SELECT mode FROM inodes WHERE id = ?`, dst.Inode).Scan(&mode); scanErr != nil {
			return fmt.Errorf("rename %q -> %q: %w", oldPath, newPath, scanErr)
		}
		if mode&fuse.S_IFDIR != 0 {
			return fmt.Errorf("rename %q -> %q: %w", oldPath, newPath, ErrExists)
		}
		if err := unlinkTx(ctx, tx, dst); err != nil {
			return fmt.Errorf("rename %q -> %q: unlink destination: %w", oldPath, newPath, err)
		}
		purgeInode, needPurge = dst.Inode, true
	}

	newDir, newBase := dirAndBase(newPath)
	newParent, err := resolve(ctx, tx, newDir)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tree SET name = ?, parent = ? WHERE id = ?`, newBase, newParent.ID, src.ID); err != nil {
		return fmt.Errorf("rename %q -> %q: %w", oldPath, newPath, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rename %q -> %q: %w", oldPath, newPath, err)
	}
	if needPurge {
		return s.purge(ctx, purgeInode)
	}
	return nil
}

func now() int64 { return time.Now().Unix() }
