// Package ioengine implements the I/O Engine component (spec §4.5, C5):
// aligned direct I/O, adaptive per-media buffer sizing, a token-bucket
// throughput limiter, and zone-sequential writes for SMR drives. It is
// grounded on the teacher's BufferPool and ThrottledWriter (internal/wipe),
// generalized from a fixed power-of-two pool and a hand-timed sleep loop
// to the media-class-aware sizing and golang.org/x/time/rate limiting the
// engine needs to drive raw block devices rather than temp files.
package ioengine

import (
	"sync"
	"unsafe"

	"wipecore/internal/drive"
)

// defaultBufferSize returns the media-class default buffer size (spec
// §4.5): larger buffers amortize seek cost on rotating media and queue
// depth on NVMe, while SMR drives must write in zone-sized units and
// eMMC/flash-on-a-stick devices use small buffers to bound tail latency.
func defaultBufferSize(class drive.MediaClass) int {
	switch class {
	case drive.MediaRotating:
		return 4 << 20
	case drive.MediaSolidState:
		return 8 << 20
	case drive.MediaNVMe:
		return 16 << 20
	case drive.MediaSMR:
		return 256 << 20 // one conventional SMR zone
	case drive.MediaEMMC:
		return 1 << 20
	default:
		return 4 << 20
	}
}

// BufferPool is a sync.Pool-backed allocator of aligned write buffers,
// bucketed by power-of-two size so that buffers for one media class don't
// starve another under concurrent multi-drive wipes.
type BufferPool struct {
	mu    sync.RWMutex
	pools map[int]*sync.Pool
	align int
}

// NewBufferPool constructs a pool that hands out buffers aligned to
// align bytes (required for O_DIRECT; pass 0 for no alignment constraint).
func NewBufferPool(align int) *BufferPool {
	return &BufferPool{
		pools: make(map[int]*sync.Pool),
		align: align,
	}
}

// Get returns a buffer of at least size bytes, rounded up to its bucket; a
// size of zero or less selects the given media class's default size.
func (bp *BufferPool) Get(class drive.MediaClass, size int) []byte {
	if size <= 0 {
		size = defaultBufferSize(class)
	}
	poolSize := bp.bucketFor(size)

	bp.mu.RLock()
	pool, ok := bp.pools[poolSize]
	bp.mu.RUnlock()
	if !ok {
		bp.mu.Lock()
		pool, ok = bp.pools[poolSize]
		if !ok {
			sz := poolSize
			align := bp.align
			pool = &sync.Pool{
				New: func() interface{} {
					return allocAligned(sz, align)
				},
			}
			bp.pools[poolSize] = pool
		}
		bp.mu.Unlock()
	}

	buf := pool.Get().([]byte)
	return buf[:poolSize]
}

// Put returns a buffer to its bucket, zeroing it first so stale plaintext
// from a prior pass never leaks into the next buffer consumer.
func (bp *BufferPool) Put(buf []byte) {
	if len(buf) == 0 {
		return
	}
	poolSize := bp.bucketFor(len(buf))

	bp.mu.RLock()
	pool, ok := bp.pools[poolSize]
	bp.mu.RUnlock()
	if !ok {
		return
	}

	for i := range buf {
		buf[i] = 0
	}
	pool.Put(buf[:cap(buf)])
}

func (bp *BufferPool) bucketFor(size int) int {
	buckets := []int{1 << 20, 2 << 20, 4 << 20, 8 << 20, 16 << 20, 32 << 20, 64 << 20, 256 << 20}
	for _, b := range buckets {
		if size <= b {
			return b
		}
	}
	return ((size + (4 << 20) - 1) / (4 << 20)) * (4 << 20)
}

// allocAligned allocates a byte slice whose start address is a multiple of
// align, by over-allocating and slicing. align of 0 or 1 disables this.
func allocAligned(size, align int) []byte {
	if align <= 1 {
		return make([]byte, size)
	}
	buf := make([]byte, size+align)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	offset := 0
	if rem := int(addr % uintptr(align)); rem != 0 {
		offset = align - rem
	}
	return buf[offset : offset+size]
}
