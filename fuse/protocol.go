package fuse

import (
	"encoding/binary"
)

// Opcodes from the FUSE kernel ABI that this server understands. The
// wire protocol is otherwise the kernel's concern; we decode just enough
// of each message to reach an Operations call.
const (
	opLookup     = 1
	opForget     = 2
	opGetattr    = 3
	opSetattr    = 4
	opReadlink   = 5
	opSymlink    = 6
	opMknod      = 8
	opMkdir      = 9
	opUnlink     = 10
	opRmdir      = 11
	opRename     = 12
	opLink       = 13
	opOpen       = 14
	opRead       = 15
	opWrite      = 16
	opRelease    = 18
	opFsync      = 20
	opFlush      = 25
	opInit       = 26
	opOpendir    = 27
	opReaddir    = 28
	opReleasedir = 29
	opDestroy    = 38
)

const (
	inHeaderSize  = 40
	outHeaderSize = 16
)

// inHeader mirrors struct fuse_in_header.
type inHeader struct {
	Len    uint32
	Opcode uint32
	Unique uint64
	NodeID uint64
	Uid    uint32
	Gid    uint32
	Pid    uint32
	_      uint32
}

func decodeInHeader(buf []byte) inHeader {
	o := binary.LittleEndian
	return inHeader{
		Len:    o.Uint32(buf[0:4]),
		Opcode: o.Uint32(buf[4:8]),
		Unique: o.Uint64(buf[8:16]),
		NodeID: o.Uint64(buf[16:24]),
		Uid:    o.Uint32(buf[24:28]),
		Gid:    o.Uint32(buf[28:32]),
		Pid:    o.Uint32(buf[32:36]),
	}
}

func putOutHeader(buf []byte, length uint32, status Status, unique uint64) {
	o := binary.LittleEndian
	o.PutUint32(buf[0:4], length)
	o.PutUint32(buf[4:8], uint32(-int32(status)))
	o.PutUint64(buf[8:16], unique)
}

// putAttr serializes an Attr in the order Getattr/Lookup replies carry it.
func putAttr(buf []byte, a *Attr) {
	o := binary.LittleEndian
	o.PutUint64(buf[0:8], a.Ino)
	o.PutUint64(buf[8:16], a.Size)
	o.PutUint64(buf[16:24], uint64(a.Atime))
	o.PutUint64(buf[24:32], uint64(a.Mtime))
	o.PutUint64(buf[32:40], uint64(a.Ctime))
	o.PutUint32(buf[40:44], a.Mode)
	o.PutUint32(buf[44:48], a.Nlink)
	o.PutUint32(buf[48:52], a.Uid)
	o.PutUint32(buf[52:56], a.Gid)
	o.PutUint32(buf[56:60], a.Rdev)
}

const attrWireSize = 60

// cString returns the NUL-terminated name starting at buf, and the number
// of bytes (including the terminator) it occupies.
func cString(buf []byte) (string, int) {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), i + 1
		}
	}
	return string(buf), len(buf)
}
