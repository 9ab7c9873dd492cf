package fuse

import "fmt"

// DirEntry is the filler-independent directory entry used internally
// while assembling a READDIR reply buffer.
type DirEntry struct {
	Mode uint32
	Name string
	Ino  uint64
}

func (d DirEntry) String() string {
	return fmt.Sprintf("%o: %q ino=%d", d.Mode, d.Name, d.Ino)
}
