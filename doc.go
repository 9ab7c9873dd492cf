// Copyright 2019 the Go-FUSE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqlfs mounts a FUSE filesystem whose directory tree, inode
// metadata, and file contents all live in a relational database rather
// than on local disk.
//
// The fuse package provides the kernel bridge. The fs package implements
// the Operations table against the database, through the pool and block
// subpackages. The cmd/sqlfs command wires configuration, the
// connection pool, and the mount together.
package sqlfs
