package chunkfs

import (
	"sync"
	"sync/atomic"
	"weak"
)

// Chunk is one fixed-size slice of the image, held in memory while at least
// one ChunkRef is live. Byte-level mutation is serialized by mu, per
// spec.md's "per-chunk mutex" (§4.1, §5).
type Chunk struct {
	idx  uint64
	data []byte
	mu   sync.Mutex

	dev      *Device
	refcount atomic.Int32
}

// Idx returns the chunk's index on the device.
func (c *Chunk) Idx() uint64 { return c.idx }

// Lock guards byte-level access to Bytes across concurrent holders of the
// same Chunk.
func (c *Chunk) Lock()   { c.mu.Lock() }
func (c *Chunk) Unlock() { c.mu.Unlock() }

// Bytes returns the chunk's in-memory buffer. Callers must hold Lock while
// reading or writing it.
func (c *Chunk) Bytes() []byte { return c.data }

// ChunkRef is a strong reference to a live Chunk. The zero value is not
// usable; obtain one from Device.GetChunk. Exactly one Release per
// GetChunk/Acquire is required — the chunk is flushed back to the device
// when the last ChunkRef on it is released, never before.
type ChunkRef struct {
	c *Chunk
}

// Chunk returns the referenced Chunk.
func (r ChunkRef) Chunk() *Chunk { return r.c }

// Acquire returns a new ChunkRef sharing the same underlying Chunk, bumping
// its reference count. Useful when a caller needs to hand the chunk to
// another goroutine without losing its own reference.
func (r ChunkRef) Acquire() ChunkRef {
	r.c.refcount.Add(1)
	return ChunkRef{c: r.c}
}

// Release drops this reference. When the reference count reaches zero the
// chunk's bytes are written back to the device immediately (flush-on-last-
// release, spec.md §3/§4.2) — there is no deferred or GC-triggered flush.
func (r ChunkRef) Release() {
	if r.c.refcount.Add(-1) == 0 {
		r.c.mu.Lock()
		r.c.dev.back.writeChunk(r.c.idx, r.c.data)
		r.c.mu.Unlock()
	}
}

// Device mediates all reads and writes against a blockDevice through a
// weak-reference chunk cache (spec.md §4.2): as long as any ChunkRef on an
// index is live, repeated GetChunk calls for that index return the same
// Chunk object, so mutations made through one holder are visible to every
// other holder. The cache entry itself is a weak.Pointer so the Chunk can
// be collected once nothing references it — flushing is handled
// deterministically by ChunkRef.Release, not by the garbage collector.
type Device struct {
	back blockDevice

	mu    sync.Mutex
	cache map[uint64]weak.Pointer[Chunk]
	// sweepAt is the cache size, doubling from a floor of 16, at which the
	// next GetChunk that loads a chunk triggers a sweep of expired weak
	// pointers.
	sweepAt int
}

// NewDevice wraps a blockDevice backing with a chunk cache.
func NewDevice(back blockDevice) *Device {
	return &Device{
		back:    back,
		cache:   make(map[uint64]weak.Pointer[Chunk]),
		sweepAt: 16,
	}
}

func (d *Device) ChunkSize() uint64  { return d.back.ChunkSize() }
func (d *Device) ChunkCount() uint64 { return d.back.ChunkCount() }
func (d *Device) SizeBytes() uint64  { return d.back.ChunkSize() * d.back.ChunkCount() }

// Close flushes and releases the backing store. The caller must have
// already released every outstanding ChunkRef.
func (d *Device) Close() error { return d.back.Close() }

// GetChunk returns a strong reference to chunk idx, loading it from the
// backing device on first access and reusing the live in-memory copy on
// every subsequent access while a reference is held anywhere.
func (d *Device) GetChunk(idx uint64) (ChunkRef, error) {
	if idx >= d.back.ChunkCount() {
		return ChunkRef{}, errOf("get_chunk", OutOfRange)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if wp, ok := d.cache[idx]; ok {
		if c := wp.Value(); c != nil {
			c.refcount.Add(1)
			return ChunkRef{c: c}, nil
		}
	}

	c := &Chunk{
		idx:  idx,
		data: make([]byte, d.back.ChunkSize()),
		dev:  d,
	}
	d.back.readChunk(idx, c.data)
	c.refcount.Store(1)

	d.cache[idx] = weak.Make(c)
	d.maybeSweepLocked()

	return ChunkRef{c: c}, nil
}

// maybeSweepLocked drops cache entries whose weak pointer has already
// expired. Called with mu held. Mirrors the teacher cache's doubling
// threshold (minimum 16) so a long-running mount doesn't carry an
// ever-growing map of dead entries.
func (d *Device) maybeSweepLocked() {
	if len(d.cache) < d.sweepAt {
		return
	}
	for idx, wp := range d.cache {
		if wp.Value() == nil {
			delete(d.cache, idx)
		}
	}
	if n := 2 * len(d.cache); n > 16 {
		d.sweepAt = n
	} else {
		d.sweepAt = 16
	}
}
