package chunkfs

import "sync"

// BitRange is the result of a Bitmap.FindUnsetBits search: a run of
// BitCount consecutive zero bits starting at StartIdx. BitCount may be
// smaller than the request if no long-enough run exists (spec.md §4.3).
type BitRange struct {
	StartIdx uint64
	BitCount uint64
}

// Bitmap is a persistent bit array, stored as a prefix of contiguous
// chunks starting at a known chunk offset (spec.md §3, §4.3). It backs
// both the superblock's free-chunk allocator and the inode table's
// occupancy tracker.
type Bitmap struct {
	dev        *Device
	offset     uint64 // chunk index the bitmap starts at
	sizeChunks uint64
	bitCount   uint64

	// mu spans bit-search and bit-set for a single allocation so two
	// concurrent allocators can never return the same index (spec.md §5).
	// Callers that need a combined find+set (AllocateChunk, AllocInode)
	// use AllocateOne, which holds it across both steps; Get/Set/Clr/
	// FindUnsetBits lock it themselves for standalone use.
	mu sync.Mutex
}

// bitmapSizeChunks returns ceil(bitCount/8/chunkSize), the number of whole
// chunks needed to hold bitCount bits.
func bitmapSizeChunks(bitCount, chunkSize uint64) uint64 {
	bytes := (bitCount + 7) / 8
	return (bytes + chunkSize - 1) / chunkSize
}

// newBitmap constructs a Bitmap view over already-reserved chunks; it does
// not itself allocate or zero anything (callers format it with ClearAll
// when initializing a fresh image).
func newBitmap(dev *Device, offsetChunks, bitCount uint64) *Bitmap {
	return &Bitmap{
		dev:        dev,
		offset:     offsetChunks,
		sizeChunks: bitmapSizeChunks(bitCount, dev.ChunkSize()),
		bitCount:   bitCount,
	}
}

// NewBitmap is newBitmap, exported for direct testing of the allocation
// primitives against a standalone device.
func NewBitmap(dev *Device, offsetChunks, bitCount uint64) *Bitmap {
	return newBitmap(dev, offsetChunks, bitCount)
}

// SizeChunks returns the number of chunks this bitmap occupies.
func (b *Bitmap) SizeChunks() uint64 { return b.sizeChunks }

func (b *Bitmap) byteLocation(i uint64) (chunkIdx uint64, byteInChunk uint64) {
	byteOffset := i / 8
	cs := b.dev.ChunkSize()
	return b.offset + byteOffset/cs, byteOffset % cs
}

// Lock/Unlock expose the bitmap's allocation mutex. Every other exported
// Bitmap method takes the same mutex itself, so none of them may be called
// while it is held this way.
func (b *Bitmap) Lock()   { b.mu.Lock() }
func (b *Bitmap) Unlock() { b.mu.Unlock() }

// Get returns bit i (little-endian within its byte).
func (b *Bitmap) Get(i uint64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getLocked(i)
}

func (b *Bitmap) getLocked(i uint64) (bool, error) {
	chunkIdx, byteInChunk := b.byteLocation(i)
	ref, err := b.dev.GetChunk(chunkIdx)
	if err != nil {
		return false, err
	}
	defer ref.Release()
	c := ref.Chunk()
	c.Lock()
	defer c.Unlock()
	return c.Bytes()[byteInChunk]&(1<<(i%8)) != 0, nil
}

// Set sets bit i.
func (b *Bitmap) Set(i uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setLocked(i)
}

func (b *Bitmap) setLocked(i uint64) error {
	return b.writeBitLocked(i, true)
}

// Clr clears bit i.
func (b *Bitmap) Clr(i uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeBitLocked(i, false)
}

func (b *Bitmap) writeBitLocked(i uint64, v bool) error {
	chunkIdx, byteInChunk := b.byteLocation(i)
	ref, err := b.dev.GetChunk(chunkIdx)
	if err != nil {
		return err
	}
	defer ref.Release()
	c := ref.Chunk()
	c.Lock()
	defer c.Unlock()
	mask := byte(1) << (i % 8)
	if v {
		c.Bytes()[byteInChunk] |= mask
	} else {
		c.Bytes()[byteInChunk] &^= mask
	}
	return nil
}

// ClearAll zeroes every backing chunk of the bitmap.
func (b *Bitmap) ClearAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := uint64(0); c < b.sizeChunks; c++ {
		ref, err := b.dev.GetChunk(b.offset + c)
		if err != nil {
			return err
		}
		chunk := ref.Chunk()
		chunk.Lock()
		data := chunk.Bytes()
		for i := range data {
			data[i] = 0
		}
		chunk.Unlock()
		ref.Release()
	}
	return nil
}

// FindUnsetBits returns the first run of min(k, largest available run) zero
// bits at the lowest start index, never crossing into the bitCount..
// capacity tail padding. Callers must check BitCount == k to know whether
// the request was fully satisfied (spec.md §4.3, §8).
func (b *Bitmap) FindUnsetBits(k uint64) (BitRange, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.findUnsetBitsLocked(k)
}

// AllocateOne finds a single free bit and sets it before releasing the
// bitmap's lock, so two concurrent callers can never be handed the same
// index (spec.md §5). When no bit is free it returns ok=false with a nil
// error; callers map that to their own error kind (OutOfSpace, OutOfInodes).
func (b *Bitmap) AllocateOne() (uint64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.findUnsetBitsLocked(1)
	if err != nil {
		return 0, false, err
	}
	if r.BitCount != 1 {
		return 0, false, nil
	}
	if err := b.setLocked(r.StartIdx); err != nil {
		return 0, false, err
	}
	return r.StartIdx, true, nil
}

func (b *Bitmap) findUnsetBitsLocked(k uint64) (BitRange, error) {
	var bestStart, bestLen uint64
	var runStart, runLen uint64
	haveRun := false

	flush := func(end uint64) (BitRange, bool) {
		if runLen == 0 {
			return BitRange{}, false
		}
		if runLen >= k {
			return BitRange{StartIdx: runStart, BitCount: k}, true
		}
		if runLen > bestLen {
			bestStart, bestLen = runStart, runLen
		}
		return BitRange{}, false
	}

	for i := uint64(0); i < b.bitCount; i++ {
		set, err := b.getLocked(i)
		if err != nil {
			return BitRange{}, err
		}
		if set {
			if r, ok := flush(i); ok {
				return r, nil
			}
			runLen = 0
			haveRun = false
			continue
		}
		if !haveRun {
			runStart = i
			haveRun = true
		}
		runLen++
	}
	if r, ok := flush(b.bitCount); ok {
		return r, nil
	}

	return BitRange{StartIdx: bestStart, BitCount: bestLen}, nil
}
