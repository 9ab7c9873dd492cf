package fuse

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// MAX_KERNEL_WRITE is the largest single write the kernel will hand us.
const MAX_KERNEL_WRITE = 128 * 1024

// MountOptions controls how a Server attaches to the kernel.
type MountOptions struct {
	AllowOther bool
	Debug      bool
	Name       string
	MaxWrite   int
	Buffers    BufferPool
	Options    []string

	// Logger receives the server's own diagnostic output (read/write
	// errors on the mount fd, debug traces when Debug is set). A nil
	// Logger falls back to the standard library's default logger.
	Logger Logger
}

// LatencyMap may be provided to record per-operation timings.
type LatencyMap interface {
	Add(name string, dt time.Duration)
}

// Server reads requests off the kernel FUSE connection, translates nodeid
// based addressing into paths, and dispatches onto an Operations
// implementation. Everything below this type is wire-protocol plumbing;
// filesystem semantics live entirely in the Operations the caller passes
// to NewServer.
type Server struct {
	ops        Operations
	mountPoint string
	mountFd    int
	opts       *MountOptions
	latencies  LatencyMap
	started    chan struct{}
	loops      sync.WaitGroup

	mu        sync.Mutex
	nodePaths map[uint64]string
	pathNodes map[string]uint64
	nextNode  uint64

	handles    map[uint64]*FileInfo
	nextHandle uint64
}

// NewServer mounts the filesystem described by ops at mountPoint and
// returns a Server ready to Serve().
func NewServer(ops Operations, mountPoint string, opts *MountOptions) (*Server, error) {
	if opts == nil {
		opts = &MountOptions{}
	}
	o := *opts
	if o.Buffers == nil {
		o.Buffers = defaultBufferPool
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.MaxWrite <= 0 || o.MaxWrite > MAX_KERNEL_WRITE {
		o.MaxWrite = MAX_KERNEL_WRITE
	}

	optStrs := append([]string{}, o.Options...)
	if o.AllowOther {
		optStrs = append(optStrs, "allow_other")
	}
	name := o.Name
	if name == "" {
		name = "sqlfs"
	}
	optStrs = append(optStrs, "subtype="+strings.Replace(name, ",", ";", -1))

	mountPoint = filepath.Clean(mountPoint)
	if !filepath.IsAbs(mountPoint) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		mountPoint = filepath.Clean(filepath.Join(cwd, mountPoint))
	}

	fd, err := mount(mountPoint, strings.Join(optStrs, ","))
	if err != nil {
		return nil, err
	}

	return &Server{
		ops:        ops,
		mountPoint: mountPoint,
		mountFd:    fd,
		opts:       &o,
		started:    make(chan struct{}),
		nodePaths:  map[uint64]string{1: "/"},
		pathNodes:  map[string]uint64{"/": 1},
		nextNode:   2,
		handles:    map[uint64]*FileInfo{},
		nextHandle: 1,
	}, nil
}

func (ms *Server) SetDebug(dbg bool) { ms.opts.Debug = dbg }

// RecordLatencies switches on per-operation timing collection. Passing
// nil switches it back off.
func (ms *Server) RecordLatencies(l LatencyMap) { ms.latencies = l }

// WaitMount blocks until the kernel's INIT handshake has completed.
func (ms *Server) WaitMount() { <-ms.started }

// Unmount calls fusermount -u on the mount point and waits for the
// serve loop to exit.
func (ms *Server) Unmount() error {
	if ms.mountPoint == "" {
		return nil
	}
	var err error
	delay := time.Duration(0)
	for try := 0; try < 5; try++ {
		err = unmount(ms.mountPoint)
		if err == nil {
			break
		}
		delay = 2*delay + 5*time.Millisecond
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}
	ms.loops.Wait()
	ms.mountPoint = ""
	return nil
}

// nodeForPath returns the nodeid assigned to path, assigning a fresh one
// if this is the first time the path has been looked up. This is the
// bridge's only piece of kernel-inode bookkeeping: everything else in
// the server addresses the Operations table by path.
func (ms *Server) nodeForPath(path string) uint64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if id, ok := ms.pathNodes[path]; ok {
		return id
	}
	id := ms.nextNode
	ms.nextNode++
	ms.pathNodes[path] = id
	ms.nodePaths[id] = path
	return id
}

func (ms *Server) pathForNode(id uint64) string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.nodePaths[id]
}

func (ms *Server) forgetNode(id uint64) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if p, ok := ms.nodePaths[id]; ok {
		delete(ms.nodePaths, id)
		delete(ms.pathNodes, p)
	}
}

func (ms *Server) storeHandle(fi *FileInfo) uint64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	h := ms.nextHandle
	ms.nextHandle++
	ms.handles[h] = fi
	return h
}

func (ms *Server) lookupHandle(h uint64) *FileInfo {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.handles[h]
}

func (ms *Server) dropHandle(h uint64) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.handles, h)
}

func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// Serve runs the request loop until the filesystem is unmounted. Each
// request is handled synchronously by the calling goroutine's dispatch;
// callers that want concurrent request handling run Serve in a
// goroutine per reader, matching the kernel's own fan-out.
func (ms *Server) Serve() {
	ms.loops.Add(1)
	defer ms.loops.Done()

	buf := make([]byte, ms.opts.MaxWrite+PAGESIZE)
	for {
		n, err := syscall.Read(ms.mountFd, buf)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			if err != syscall.ENODEV && ms.opts.Debug {
				ms.opts.Logger.Printf("fuse: read: %v", err)
			}
			break
		}
		if n < inHeaderSize {
			continue
		}
		ms.handle(buf[:n])
	}
	syscall.Close(ms.mountFd)
}

func (ms *Server) handle(msg []byte) {
	start := time.Now()
	hdr := decodeInHeader(msg)
	body := msg[inHeaderSize:]
	ctx := contextWithOwner(context.Background(), &Owner{Uid: hdr.Uid, Gid: hdr.Gid})

	reply, status := ms.dispatch(ctx, hdr, body)
	ms.reply(hdr.Unique, status, reply)

	if ms.latencies != nil {
		ms.latencies.Add(opcodeName(hdr.Opcode), time.Since(start))
	}
	if hdr.Opcode == opInit {
		close(ms.started)
	}
}

func (ms *Server) reply(unique uint64, status Status, payload []byte) {
	out := make([]byte, outHeaderSize+len(payload))
	putOutHeader(out, uint32(len(out)), status, unique)
	copy(out[outHeaderSize:], payload)
	if _, err := syscall.Write(ms.mountFd, out); err != nil && ms.opts.Debug {
		ms.opts.Logger.Printf("fuse: write: %v", err)
	}
}

func (ms *Server) dispatch(ctx context.Context, hdr inHeader, body []byte) ([]byte, Status) {
	switch hdr.Opcode {
	case opInit:
		out := make([]byte, 24)
		o := binary.LittleEndian
		o.PutUint32(out[0:4], 7)
		o.PutUint32(out[4:8], 31)
		o.PutUint32(out[16:20], uint32(ms.opts.MaxWrite))
		return out, OK

	case opDestroy:
		return nil, OK

	case opForget:
		ms.forgetNode(hdr.NodeID)
		return nil, OK

	case opLookup:
		name, _ := cString(body)
		dir := ms.pathForNode(hdr.NodeID)
		path := childPath(dir, name)
		attr, status := ms.ops.Getattr(ctx, path)
		if !status.Ok() {
			return nil, status
		}
		id := ms.nodeForPath(path)
		out := make([]byte, 16+attrWireSize)
		binary.LittleEndian.PutUint64(out[0:8], id)
		putAttr(out[16:], attr)
		return out, OK

	case opGetattr:
		path := ms.pathForNode(hdr.NodeID)
		attr, status := ms.ops.Getattr(ctx, path)
		if !status.Ok() {
			return nil, status
		}
		out := make([]byte, attrWireSize)
		putAttr(out, attr)
		return out, OK

	case opSetattr:
		return ms.dispatchSetattr(ctx, hdr, body)

	case opMknod:
		mode := binary.LittleEndian.Uint32(body[0:4])
		rdev := binary.LittleEndian.Uint32(body[4:8])
		name, _ := cString(body[8:])
		path := childPath(ms.pathForNode(hdr.NodeID), name)
		return nil, ms.ops.Mknod(ctx, path, mode, rdev)

	case opMkdir:
		mode := binary.LittleEndian.Uint32(body[0:4])
		name, _ := cString(body[4:])
		path := childPath(ms.pathForNode(hdr.NodeID), name)
		return nil, ms.ops.Mkdir(ctx, path, mode)

	case opUnlink:
		name, _ := cString(body)
		path := childPath(ms.pathForNode(hdr.NodeID), name)
		return nil, ms.ops.Unlink(ctx, path)

	case opRmdir:
		name, _ := cString(body)
		path := childPath(ms.pathForNode(hdr.NodeID), name)
		return nil, ms.ops.Rmdir(ctx, path)

	case opRename:
		newDir := binary.LittleEndian.Uint64(body[0:8])
		oldName, n := cString(body[8:])
		newName, _ := cString(body[8+n:])
		oldPath := childPath(ms.pathForNode(hdr.NodeID), oldName)
		newPath := childPath(ms.pathForNode(newDir), newName)
		return nil, ms.ops.Rename(ctx, oldPath, newPath)

	case opLink:
		oldNode := binary.LittleEndian.Uint64(body[0:8])
		name, _ := cString(body[8:])
		oldPath := ms.pathForNode(oldNode)
		newPath := childPath(ms.pathForNode(hdr.NodeID), name)
		return nil, ms.ops.Link(ctx, oldPath, newPath)

	case opSymlink:
		linkName, n := cString(body)
		target, _ := cString(body[n:])
		path := childPath(ms.pathForNode(hdr.NodeID), linkName)
		return nil, ms.ops.Symlink(ctx, target, path)

	case opReadlink:
		path := ms.pathForNode(hdr.NodeID)
		target, status := ms.ops.Readlink(ctx, path)
		return []byte(target), status

	case opOpen:
		flags := binary.LittleEndian.Uint32(body[0:4])
		path := ms.pathForNode(hdr.NodeID)
		fi, status := ms.ops.Open(ctx, path, flags)
		if !status.Ok() {
			return nil, status
		}
		h := ms.storeHandle(fi)
		out := make([]byte, 16)
		binary.LittleEndian.PutUint64(out[0:8], h)
		return out, OK

	case opOpendir:
		flags := binary.LittleEndian.Uint32(body[0:4])
		path := ms.pathForNode(hdr.NodeID)
		fi, status := ms.ops.Open(ctx, path, flags)
		if !status.Ok() {
			return nil, status
		}
		h := ms.storeHandle(fi)
		out := make([]byte, 16)
		binary.LittleEndian.PutUint64(out[0:8], h)
		return out, OK

	case opRelease, opReleasedir:
		h := binary.LittleEndian.Uint64(body[0:8])
		fi := ms.lookupHandle(h)
		path := ms.pathForNode(hdr.NodeID)
		ms.dropHandle(h)
		if fi == nil {
			return nil, OK
		}
		return nil, ms.ops.Release(ctx, path, fi)

	case opRead:
		h := binary.LittleEndian.Uint64(body[0:8])
		offset := int64(binary.LittleEndian.Uint64(body[8:16]))
		size := binary.LittleEndian.Uint32(body[16:20])
		fi := ms.lookupHandle(h)
		path := ms.pathForNode(hdr.NodeID)
		out := ms.opts.Buffers.AllocBuffer(size)
		n, status := ms.ops.Read(ctx, path, out, offset, fi)
		if !status.Ok() {
			ms.opts.Buffers.FreeBuffer(out)
			return nil, status
		}
		return out[:n], OK

	case opWrite:
		h := binary.LittleEndian.Uint64(body[0:8])
		offset := int64(binary.LittleEndian.Uint64(body[8:16]))
		size := binary.LittleEndian.Uint32(body[16:20])
		data := body[40 : 40+size]
		fi := ms.lookupHandle(h)
		path := ms.pathForNode(hdr.NodeID)
		n, status := ms.ops.Write(ctx, path, data, offset, fi)
		if !status.Ok() {
			return nil, status
		}
		out := make([]byte, 8)
		binary.LittleEndian.PutUint32(out[0:4], uint32(n))
		return out, OK

	case opReaddir:
		h := binary.LittleEndian.Uint64(body[0:8])
		path := ms.pathForNode(hdr.NodeID)
		_ = h
		var entries []DirEntry
		status := ms.ops.Readdir(ctx, path, func(name string, attr *Attr) bool {
			var ino uint64
			var mode uint32
			if attr != nil {
				ino, mode = attr.Ino, attr.Mode
			}
			entries = append(entries, DirEntry{Name: name, Ino: ino, Mode: mode})
			return true
		})
		if !status.Ok() {
			return nil, status
		}
		var out []byte
		for _, e := range entries {
			out = append(out, []byte(fmt.Sprintf("%d:%o:%s\x00", e.Ino, e.Mode, e.Name))...)
		}
		return out, OK

	case opFlush, opFsync:
		return nil, OK

	default:
		return nil, ENOSYS
	}
}

func (ms *Server) dispatchSetattr(ctx context.Context, hdr inHeader, body []byte) ([]byte, Status) {
	const (
		setMode  = 1 << 0
		setUID   = 1 << 1
		setGID   = 1 << 2
		setSize  = 1 << 3
		setAtime = 1 << 4
		setMtime = 1 << 5
	)
	valid := binary.LittleEndian.Uint32(body[0:4])
	size := binary.LittleEndian.Uint64(body[8:16])
	atime := int64(binary.LittleEndian.Uint64(body[16:24]))
	mtime := int64(binary.LittleEndian.Uint64(body[24:32]))
	mode := binary.LittleEndian.Uint32(body[32:36])
	uid := binary.LittleEndian.Uint32(body[36:40])
	gid := binary.LittleEndian.Uint32(body[40:44])

	path := ms.pathForNode(hdr.NodeID)

	if valid&setMode != 0 {
		if status := ms.ops.Chmod(ctx, path, mode); !status.Ok() {
			return nil, status
		}
	}
	if valid&(setUID|setGID) != 0 {
		u, g := NoChangeID, NoChangeID
		if valid&setUID != 0 {
			u = uid
		}
		if valid&setGID != 0 {
			g = gid
		}
		if status := ms.ops.Chown(ctx, path, u, g); !status.Ok() {
			return nil, status
		}
	}
	if valid&setSize != 0 {
		if status := ms.ops.Truncate(ctx, path, size); !status.Ok() {
			return nil, status
		}
	}
	if valid&(setAtime|setMtime) != 0 {
		if status := ms.ops.Utime(ctx, path, atime, mtime); !status.Ok() {
			return nil, status
		}
	}

	attr, status := ms.ops.Getattr(ctx, path)
	if !status.Ok() {
		return nil, status
	}
	out := make([]byte, attrWireSize)
	putAttr(out, attr)
	return out, OK
}

func opcodeName(op uint32) string {
	switch op {
	case opLookup:
		return "LOOKUP"
	case opForget:
		return "FORGET"
	case opGetattr:
		return "GETATTR"
	case opSetattr:
		return "SETATTR"
	case opReadlink:
		return "READLINK"
	case opSymlink:
		return "SYMLINK"
	case opMknod:
		return "MKNOD"
	case opMkdir:
		return "MKDIR"
	case opUnlink:
		return "UNLINK"
	case opRmdir:
		return "RMDIR"
	case opRename:
		return "RENAME"
	case opLink:
		return "LINK"
	case opOpen:
		return "OPEN"
	case opRead:
		return "READ"
	case opWrite:
		return "WRITE"
	case opRelease:
		return "RELEASE"
	case opFsync:
		return "FSYNC"
	case opFlush:
		return "FLUSH"
	case opInit:
		return "INIT"
	case opOpendir:
		return "OPENDIR"
	case opReaddir:
		return "READDIR"
	case opReleasedir:
		return "RELEASEDIR"
	case opDestroy:
		return "DESTROY"
	}
	return "UNKNOWN"
}
