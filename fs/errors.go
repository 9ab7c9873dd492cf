package fs

import "errors"

// Sentinel errors returned by the resolver, metadata, data, and
// lifecycle layers. Only the dispatcher (Filesystem, in filesystem.go)
// maps these onto fuse.Status; everything below it deals in plain
// errors so they compose with errors.Is/errors.As and %w wrapping.
var (
	ErrNotFound    = errors.New("fs: no such file or directory")
	ErrNameTooLong = errors.New("fs: name too long")
	ErrNotEmpty    = errors.New("fs: directory not empty")
	ErrExists      = errors.New("fs: already exists")
	ErrIsDir       = errors.New("fs: is a directory")
	ErrNotDir      = errors.New("fs: not a directory")
	ErrNoSpace     = errors.New("fs: exhausted pool capacity")
)

// maxNameLen is the limit SPEC_FULL.md §4.3 places on a single path
// component, matching tree.name's column width.
const maxNameLen = 255

// maxPathLen mirrors PATH_MAX.
const maxPathLen = 4096
