package fs

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/samzyy/sqlfs/fuse"
	"github.com/samzyy/sqlfs/internal/logging"
	"github.com/samzyy/sqlfs/pool"
)

// Filesystem implements fuse.Operations against the database, translating
// every call into a pooled session plus a Store built on top of it. It
// owns the one inodeLocks table shared by every Store it builds, since
// per-inode exclusion must hold across separately dispatched calls.
type Filesystem struct {
	pool  *pool.Pool
	locks *inodeLocks

	fuse.Default
}

// New wraps an already-initialized pool in a Filesystem ready to be
// handed to fuse.NewServer.
func New(p *pool.Pool) *Filesystem {
	return &Filesystem{pool: p, locks: newInodeLocks()}
}

// withStore acquires a session, builds a Store sharing this Filesystem's
// lock table, runs fn, and releases the session on every exit path.
// A session that cannot be acquired is reported as EMFILE.
func (f *Filesystem) withStore(fn func(*Store) error) error {
	s, err := f.pool.Acquire()
	if err != nil {
		return syscall.EMFILE
	}
	defer f.pool.Release(s)
	return fn(&Store{DB: s.DB, Locks: f.locks})
}

// toStatus maps the fs package's sentinel errors onto fuse.Status;
// anything unrecognized falls through to fuse.ToStatus's generic
// classification, and an error that ends up as EIO is logged at ERROR.
func toStatus(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case errors.Is(err, ErrNotFound):
		return fuse.ENOENT
	case errors.Is(err, ErrNameTooLong):
		return fuse.ENAMETOOLONG
	case errors.Is(err, ErrNotEmpty):
		return fuse.ENOTEMPTY
	case errors.Is(err, ErrExists):
		return fuse.EEXIST
	case errors.Is(err, ErrIsDir):
		return fuse.EISDIR
	case errors.Is(err, ErrNotDir):
		return fuse.ENOTDIR
	case errors.Is(err, ErrNoSpace):
		return fuse.ENOSPC
	default:
		st := fuse.ToStatus(err)
		if st == fuse.EIO {
			logging.Errorf("%v", err)
		}
		return st
	}
}

func (f *Filesystem) Getattr(ctx context.Context, path string) (*fuse.Attr, fuse.Status) {
	var a *fuse.Attr
	err := f.withStore(func(s *Store) error {
		var e error
		a, e = s.Getattr(ctx, path)
		return e
	})
	return a, toStatus(err)
}

func (f *Filesystem) Chmod(ctx context.Context, path string, mode uint32) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error { return s.Chmod(ctx, path, mode) }))
}

func (f *Filesystem) Chown(ctx context.Context, path string, uid, gid uint32) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error { return s.Chown(ctx, path, uid, gid) }))
}

func (f *Filesystem) Utime(ctx context.Context, path string, atime, mtime int64) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error { return s.Utime(ctx, path, atime, mtime) }))
}

func (f *Filesystem) Mknod(ctx context.Context, path string, mode, rdev uint32) fuse.Status {
	owner := fuse.OwnerFromContext(ctx)
	return toStatus(f.withStore(func(s *Store) error {
		_, err := s.Mknod(ctx, path, mode, rdev, owner)
		return err
	}))
}

func (f *Filesystem) Mkdir(ctx context.Context, path string, mode uint32) fuse.Status {
	owner := fuse.OwnerFromContext(ctx)
	return toStatus(f.withStore(func(s *Store) error {
		_, err := s.Mkdir(ctx, path, mode, owner)
		return err
	}))
}

func (f *Filesystem) Unlink(ctx context.Context, path string) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error { return s.Unlink(ctx, path) }))
}

// Rmdir rejects a non-directory with ENOTDIR and otherwise shares
// Unlink's implementation: both delete a tree row after asserting it has
// no children, the same operation SPEC_FULL.md §4.6 describes once for
// both calls.
func (f *Filesystem) Rmdir(ctx context.Context, path string) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error {
		a, err := s.Getattr(ctx, path)
		if err != nil {
			return err
		}
		if !a.IsDir() {
			return fmt.Errorf("rmdir %q: %w", path, ErrNotDir)
		}
		return s.Unlink(ctx, path)
	}))
}

func (f *Filesystem) Rename(ctx context.Context, oldPath, newPath string) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error { return s.Rename(ctx, oldPath, newPath) }))
}

func (f *Filesystem) Link(ctx context.Context, oldPath, newPath string) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error { return s.Link(ctx, oldPath, newPath) }))
}

func (f *Filesystem) Symlink(ctx context.Context, target, linkPath string) fuse.Status {
	owner := fuse.OwnerFromContext(ctx)
	return toStatus(f.withStore(func(s *Store) error { return s.Symlink(ctx, target, linkPath, owner) }))
}

func (f *Filesystem) Readlink(ctx context.Context, path string) (string, fuse.Status) {
	var target string
	err := f.withStore(func(s *Store) error {
		var e error
		target, e = s.Readlink(ctx, path)
		return e
	})
	return target, toStatus(err)
}

// Open resolves path to an inode, bumps its inuse count, and stashes the
// inode id itself as the opaque FileInfo handle (SPEC_FULL.md §4.6): no
// separate handle table is needed since every subsequent call on this
// descriptor only ever needs the inode number.
func (f *Filesystem) Open(ctx context.Context, path string, flags uint32) (*fuse.FileInfo, fuse.Status) {
	var inode int64
	err := f.withStore(func(s *Store) error {
		var e error
		inode, e = s.Open(ctx, path)
		return e
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &fuse.FileInfo{Handle: uint64(inode), Flags: flags}, fuse.OK
}

func (f *Filesystem) Release(ctx context.Context, path string, fi *fuse.FileInfo) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error { return s.Release(ctx, int64(fi.Handle)) }))
}

func (f *Filesystem) Read(ctx context.Context, path string, buf []byte, offset int64, fi *fuse.FileInfo) (int, fuse.Status) {
	var n int
	err := f.withStore(func(s *Store) error {
		var e error
		n, e = s.Read(ctx, int64(fi.Handle), buf, offset)
		return e
	})
	return n, toStatus(err)
}

func (f *Filesystem) Write(ctx context.Context, path string, buf []byte, offset int64, fi *fuse.FileInfo) (int, fuse.Status) {
	var n int
	err := f.withStore(func(s *Store) error {
		var e error
		n, e = s.Write(ctx, int64(fi.Handle), buf, offset)
		return e
	})
	return n, toStatus(err)
}

func (f *Filesystem) Truncate(ctx context.Context, path string, size uint64) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error {
		e, err := s.Resolve(ctx, path)
		if err != nil {
			return err
		}
		return s.Truncate(ctx, e.Inode, int64(size))
	}))
}

// Readdir synthesizes "." and ".." before delegating to the store, since
// only the dispatcher knows the directory's own attrs and its parent's.
func (f *Filesystem) Readdir(ctx context.Context, path string, fill fuse.DirFiller) fuse.Status {
	return toStatus(f.withStore(func(s *Store) error {
		self, err := s.Getattr(ctx, path)
		if err != nil {
			return err
		}
		if !fill(".", self) {
			return nil
		}

		parentPath, _ := dirAndBase(path)
		parent, err := s.Getattr(ctx, parentPath)
		if err != nil {
			parent = self
		}
		if !fill("..", parent) {
			return nil
		}

		entries, err := s.ReaddirEntries(ctx, int64(self.Ino))
		if err != nil {
			return err
		}
		for _, de := range entries {
			if !fill(de.Name, &fuse.Attr{Ino: uint64(de.Ino), Mode: de.Mode}) {
				break
			}
		}
		return nil
	}))
}
