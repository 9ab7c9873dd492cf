package fuse

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

// BufferPool hands out read/write scratch buffers sized in multiples of
// PAGESIZE, so the Server's read loop and the Operations.Read/Write path
// can reuse allocations across requests instead of allocating per call.
type BufferPool interface {
	AllocBuffer(size uint32) []byte
	FreeBuffer(slice []byte)
	String() string
}

// GcBufferPool is a BufferPool that just defers to the garbage collector;
// useful for tests where allocation churn doesn't matter.
type GcBufferPool struct{}

func NewGcBufferPool() *GcBufferPool { return &GcBufferPool{} }

func (p *GcBufferPool) AllocBuffer(size uint32) []byte { return make([]byte, size) }
func (p *GcBufferPool) FreeBuffer(slice []byte)        {}
func (p *GcBufferPool) String() string                 { return "GcBufferPool" }

// BufferPoolImpl implements a pool of buffers that returns slices with
// capacity a multiple of PAGESIZE, which have possibly been used and may
// contain stale contents.
type BufferPoolImpl struct {
	lock sync.Mutex

	// For each page size multiple a list of slice pointers.
	buffersBySize [][][]byte

	// start of slice => true
	outstandingBuffers map[uintptr]bool

	// Total count of created buffers. Handy for finding leaks.
	createdBuffers int
}

func NewBufferPool() *BufferPoolImpl {
	bp := new(BufferPoolImpl)
	bp.buffersBySize = make([][][]byte, 0, 32)
	bp.outstandingBuffers = make(map[uintptr]bool)
	return bp
}

func (p *BufferPoolImpl) String() string {
	p.lock.Lock()
	defer p.lock.Unlock()

	result := []string{}
	for exp, bufs := range p.buffersBySize {
		if len(bufs) > 0 {
			result = append(result, fmt.Sprintf("%d=%d", exp, len(bufs)))
		}
	}
	return fmt.Sprintf("created: %v\noutstanding %v\n%s",
		p.createdBuffers, len(p.outstandingBuffers), strings.Join(result, ", "))
}

func (p *BufferPoolImpl) getBuffer(pageCount int) []byte {
	for ; pageCount < len(p.buffersBySize); pageCount++ {
		bufferList := p.buffersBySize[pageCount]
		if len(bufferList) > 0 {
			result := bufferList[len(bufferList)-1]
			p.buffersBySize[pageCount] = bufferList[:len(bufferList)-1]
			return result
		}
	}
	return nil
}

func (p *BufferPoolImpl) addBuffer(slice []byte, pages int) {
	for len(p.buffersBySize) <= pages {
		p.buffersBySize = append(p.buffersBySize, make([][]byte, 0))
	}
	p.buffersBySize[pages] = append(p.buffersBySize[pages], slice)
}

// AllocBuffer creates a buffer of at least the given size. After use, it
// should be returned with FreeBuffer.
func (p *BufferPoolImpl) AllocBuffer(size uint32) []byte {
	sz := int(size)
	if sz < PAGESIZE {
		sz = PAGESIZE
	}
	if sz%PAGESIZE != 0 {
		sz += PAGESIZE - sz%PAGESIZE
	}
	psz := sz / PAGESIZE

	p.lock.Lock()
	defer p.lock.Unlock()

	b := p.getBuffer(psz)
	if b == nil {
		p.createdBuffers++
		b = make([]byte, size, psz*PAGESIZE)
	} else {
		b = b[:size]
	}

	if len(b) > 0 {
		p.outstandingBuffers[uintptr(unsafe.Pointer(&b[0]))] = true
	}
	return b
}

// FreeBuffer takes back a buffer if it was allocated through AllocBuffer.
// It is not an error to call FreeBuffer on a slice obtained elsewhere.
func (p *BufferPoolImpl) FreeBuffer(slice []byte) {
	if len(slice) == 0 || cap(slice)%PAGESIZE != 0 {
		return
	}
	psz := cap(slice) / PAGESIZE
	slice = slice[:psz]
	key := uintptr(unsafe.Pointer(&slice[0]))

	p.lock.Lock()
	defer p.lock.Unlock()
	if p.outstandingBuffers[key] {
		p.addBuffer(slice, psz)
		delete(p.outstandingBuffers, key)
	}
}

var defaultBufferPool BufferPool = NewBufferPool()
