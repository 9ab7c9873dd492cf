// The fuse package is the kernel-userspace bridge: it owns the FUSE wire
// protocol and the mount lifecycle, and dispatches incoming calls to an
// Operations implementation supplied by the filesystem core. Nothing in
// this package knows about databases, inodes-as-rows, or blocks; it only
// knows how to get bytes to and from the kernel and turn them into calls
// on the table below.
package fuse

import (
	"context"
)

// FileInfo carries the per-descriptor state the kernel hands back on every
// call that follows an Open: the opaque handle returned by Open/OpenDir,
// plus the flags the file was opened with. Implementations are free to
// store anything comparable in Handle; the bridge never interprets it.
type FileInfo struct {
	Handle uint64
	Flags  uint32
}

// Attr is the subset of POSIX inode metadata the bridge needs to answer
// LOOKUP/GETATTR and to fill directory entries.
type Attr struct {
	Ino    uint64
	Mode   uint32
	Nlink  uint32
	Uid    uint32
	Gid    uint32
	Size   uint64
	Atime  int64
	Mtime  int64
	Ctime  int64
	Rdev   uint32
}

// DirFiller is passed to Readdir; the operation calls it once per entry,
// including "." and "..". Returning false means the kernel's buffer is
// full and the operation should stop producing entries.
type DirFiller func(name string, attr *Attr) bool

// NoChangeID is the sentinel accepted by Chown in place of a uid or gid
// that should be left unmodified, mirroring the libfuse convention of
// passing -1.
const NoChangeID = ^uint32(0)

// Operations is the table the bridge dispatches onto. It mirrors the
// classic path-based fuse_operations struct: every call identifies its
// target by path (plus, for descriptor-scoped calls, the FileInfo handed
// back by Open/OpenDir), rather than by kernel inode number. A core that
// implements Operations needs nothing else to be mountable.
type Operations interface {
	Getattr(ctx context.Context, path string) (*Attr, Status)
	Chmod(ctx context.Context, path string, mode uint32) Status
	Chown(ctx context.Context, path string, uid, gid uint32) Status
	Utime(ctx context.Context, path string, atime, mtime int64) Status

	Mknod(ctx context.Context, path string, mode uint32, rdev uint32) Status
	Mkdir(ctx context.Context, path string, mode uint32) Status
	Unlink(ctx context.Context, path string) Status
	Rmdir(ctx context.Context, path string) Status
	Rename(ctx context.Context, oldPath, newPath string) Status
	Link(ctx context.Context, oldPath, newPath string) Status
	Symlink(ctx context.Context, target, linkPath string) Status
	Readlink(ctx context.Context, path string) (string, Status)

	Open(ctx context.Context, path string, flags uint32) (*FileInfo, Status)
	Release(ctx context.Context, path string, fi *FileInfo) Status
	Read(ctx context.Context, path string, buf []byte, offset int64, fi *FileInfo) (int, Status)
	Write(ctx context.Context, path string, buf []byte, offset int64, fi *FileInfo) (int, Status)
	Truncate(ctx context.Context, path string, size uint64) Status

	Readdir(ctx context.Context, path string, fill DirFiller) Status
}

// Default implements Operations by returning ENOSYS for every call. Embed
// it to avoid writing out stubs for operations a given filesystem never
// supports (none, for this core, but it keeps the shape idiomatic).
type Default struct{}

func (Default) Getattr(context.Context, string) (*Attr, Status)                { return nil, ENOSYS }
func (Default) Chmod(context.Context, string, uint32) Status                  { return ENOSYS }
func (Default) Chown(context.Context, string, uint32, uint32) Status          { return ENOSYS }
func (Default) Utime(context.Context, string, int64, int64) Status            { return ENOSYS }
func (Default) Mknod(context.Context, string, uint32, uint32) Status          { return ENOSYS }
func (Default) Mkdir(context.Context, string, uint32) Status                  { return ENOSYS }
func (Default) Unlink(context.Context, string) Status                        { return ENOSYS }
func (Default) Rmdir(context.Context, string) Status                         { return ENOSYS }
func (Default) Rename(context.Context, string, string) Status                { return ENOSYS }
func (Default) Link(context.Context, string, string) Status                  { return ENOSYS }
func (Default) Symlink(context.Context, string, string) Status               { return ENOSYS }
func (Default) Readlink(context.Context, string) (string, Status)            { return "", ENOSYS }
func (Default) Open(context.Context, string, uint32) (*FileInfo, Status)     { return nil, ENOSYS }
func (Default) Release(context.Context, string, *FileInfo) Status            { return ENOSYS }
func (Default) Read(context.Context, string, []byte, int64, *FileInfo) (int, Status) {
	return 0, ENOSYS
}
func (Default) Write(context.Context, string, []byte, int64, *FileInfo) (int, Status) {
	return 0, ENOSYS
}
func (Default) Truncate(context.Context, string, uint64) Status { return ENOSYS }
func (Default) Readdir(context.Context, string, DirFiller) Status { return ENOSYS }
