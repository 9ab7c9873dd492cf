// Package fs implements the translation layer SPEC_FULL.md describes:
// path resolution, metadata operations, the block-addressed data
// engine, and the open/release/unlink lifecycle, all expressed as SQL
// against the tree/inodes/data_blocks schema (§3). Filesystem lives in
// filesystem.go and is the fuse.Operations implementation the bridge
// dispatches onto; everything else in this package is the plain-Go,
// plain-error layer beneath it.
package fs

import "database/sql"

// Store is a thin receiver for every SQL-issuing method in this
// package, bound to one checked-out pool session at a time. A new
// Store is built per dispatched call (see filesystem.go), but all
// Stores built by the same Filesystem share one Locks table, since
// per-inode exclusion (§5/§9) must hold across calls, not just within
// one.
type Store struct {
	DB    *sql.DB
	Locks *inodeLocks
}
