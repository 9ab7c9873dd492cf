// Random odds and ends.

package fuse

import (
	"context"
	"flag"
	"log"
	"os"
)

// PAGESIZE is the granularity BufferPool rounds allocations up to.
const PAGESIZE = 4096

// Owner identifies the user and group a request is made on behalf of.
type Owner struct {
	Uid uint32
	Gid uint32
}

// CurrentOwner returns the uid/gid of the running process, used when a
// filesystem call has no caller context to draw an owner from.
func CurrentOwner() *Owner {
	return &Owner{
		Uid: uint32(os.Getuid()),
		Gid: uint32(os.Getgid()),
	}
}

type ownerKey struct{}

// contextWithOwner attaches the caller's uid/gid, as reported by the
// kernel request header, to ctx. The server does this once per
// dispatched call so that creation operations (mknod/mkdir/symlink) can
// recover the right owner without widening Operations' signatures.
func contextWithOwner(ctx context.Context, o *Owner) context.Context {
	return context.WithValue(ctx, ownerKey{}, o)
}

// OwnerFromContext returns the uid/gid the bridge attached to ctx,
// falling back to the running process's own identity if none is set
// (e.g. in tests that call Operations methods directly).
func OwnerFromContext(ctx context.Context) *Owner {
	if o, ok := ctx.Value(ownerKey{}).(*Owner); ok {
		return o
	}
	return CurrentOwner()
}

// CheckSuccess panics on a non-nil error. It exists for the same reason
// the teacher repo keeps one: initialization code that genuinely cannot
// proceed past a failure without well-formed recovery should say so
// loudly rather than ignore the error.
func CheckSuccess(e error) {
	if e != nil {
		log.Panicf("Unexpected error: %v", e)
	}
}

// VerboseTest reports whether -test.v was passed, so test helpers can
// decide whether to log.
func VerboseTest() bool {
	f := flag.Lookup("test.v")
	return f != nil && f.Value.String() == "true"
}
