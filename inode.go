package chunkfs

import (
	"bytes"
	"encoding/binary"
)

// directAddressCount is D in spec.md §4.6: the number of direct chunk
// pointers an inode carries before it needs indirection.
const directAddressCount = 8

// addressCount is D direct + 1 single-indirect + 1 double-indirect + 1
// triple-indirect.
const addressCount = directAddressCount + 3

// Inode type bits, stored in inodeRecord.Type.
const (
	TypeFile = 1
	TypeDir  = 2
)

// inodeRecord is the fixed-size on-disk inode layout (spec.md §6). It has
// no unexported or pointer fields, so encoding/binary can read/write it
// directly without the reflection dance Superblock needs.
type inodeRecord struct {
	UID            uint64
	GID            uint64
	LastAccessed   uint64
	LastModified   uint64
	FileSize       uint64
	ReferenceCount uint64
	Permissions    uint32
	Type           uint32
	Addresses      [addressCount]uint64
}

func (r *inodeRecord) marshalBinary() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(inodeRecordSize)
	binary.Write(buf, binary.LittleEndian, r)
	return buf.Bytes()
}

func (r *inodeRecord) unmarshalBinary(data []byte) error {
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, r); err != nil {
		return errOf("load", Corrupt)
	}
	return nil
}

// Inode is a value type (spec.md §3): callers obtain a copy from an
// InodeTable, mutate it, and call InodeTable.SetInode to write it back
// explicitly. It maps byte offsets to chunks through the direct/single/
// double/triple indirect address regions (spec.md §4.6).
type Inode struct {
	Idx uint64 // slot index in the inode table; not part of the on-disk record

	inodeRecord

	sb *Superblock
}

// IsDir reports whether this inode is a directory.
func (ino *Inode) IsDir() bool { return ino.Type == TypeDir }

// pow64 computes base^exp for small, non-negative exp (indirection depth
// never exceeds 3).
func pow64(base uint64, exp int) uint64 {
	r := uint64(1)
	for i := 0; i < exp; i++ {
		r *= base
	}
	return r
}

// resolvedRef is resolve's internal "chunk or hole" result.
type resolvedRef struct {
	ref   ChunkRef
	valid bool
}

// fetchOrAlloc loads the chunk at ptr, or — if ptr is the 0 sentinel and
// createIfAbsent is set — allocates a fresh zero-filled chunk through the
// superblock and reports its index back to the caller via store, so the
// caller can wire it into whichever address slot or pointer table entry
// was pointing at the hole.
func (ino *Inode) fetchOrAlloc(ptr uint64, createIfAbsent bool, store func(uint64)) (resolvedRef, error) {
	if ptr == 0 {
		if !createIfAbsent {
			return resolvedRef{}, nil
		}
		ref, err := ino.sb.AllocateChunk()
		if err != nil {
			return resolvedRef{}, err
		}
		c := ref.Chunk()
		c.Lock()
		data := c.Bytes()
		for i := range data {
			data[i] = 0
		}
		c.Unlock()
		store(c.Idx())
		return resolvedRef{ref: ref, valid: true}, nil
	}
	ref, err := ino.sb.Device().GetChunk(ptr)
	if err != nil {
		return resolvedRef{}, err
	}
	return resolvedRef{ref: ref, valid: true}, nil
}

func readPtr(buf []byte, i uint64) uint64 {
	return binary.LittleEndian.Uint64(buf[i*8:])
}

func writePtr(buf []byte, i uint64, v uint64) {
	binary.LittleEndian.PutUint64(buf[i*8:], v)
}

// resolve walks the address regions [D, 1, 1, 1] to find the chunk holding
// byte offset chunkNumber*chunkSize (spec.md §4.6). If the path crosses an
// unallocated (zero) pointer: createIfAbsent=false returns (zero, false,
// nil) — a hole; createIfAbsent=true allocates and zero-fills a fresh
// chunk via the superblock, wires it into the inode's address table (or
// an intermediate pointer chunk), and continues the descent.
func (ino *Inode) resolve(chunkNumber uint64, createIfAbsent bool) (ChunkRef, bool, error) {
	dev := ino.sb.Device()
	p := dev.ChunkSize() / 8

	addrIdx := uint64(0)
	for level := 0; level < 4; level++ {
		regionCount := uint64(1)
		if level == 0 {
			regionCount = directAddressCount
		}
		stride := pow64(p, level)
		capacity := regionCount * stride

		if chunkNumber >= capacity {
			chunkNumber -= capacity
			addrIdx += regionCount
			continue
		}

		slot := addrIdx + chunkNumber/stride
		ptr := ino.Addresses[slot]
		ref, err := ino.fetchOrAlloc(ptr, createIfAbsent, func(newIdx uint64) {
			ino.Addresses[slot] = newIdx
		})
		if err != nil {
			return ChunkRef{}, false, err
		}
		if !ref.valid {
			return ChunkRef{}, false, nil
		}

		remaining := chunkNumber % stride
		cur := ref.ref
		curStride := stride
		for d := level; d > 0; d-- {
			curStride /= p
			idx := remaining / curStride
			remaining %= curStride

			table := cur.Chunk()
			table.Lock()
			next := readPtr(table.Bytes(), idx)
			table.Unlock()

			nextRef, err := ino.fetchOrAlloc(next, createIfAbsent, func(newIdx uint64) {
				table.Lock()
				writePtr(table.Bytes(), idx, newIdx)
				table.Unlock()
			})
			cur.Release()
			if err != nil {
				return ChunkRef{}, false, err
			}
			if !nextRef.valid {
				return ChunkRef{}, false, nil
			}
			cur = nextRef.ref
		}
		return cur, true, nil
	}
	return ChunkRef{}, false, errOf("resolve", OutOfRange)
}

// Read copies up to n bytes starting at offset into buf, clamping to
// FileSize and zero-filling any hole chunks it crosses (spec.md §4.6,
// §8). Returns the number of bytes actually copied.
func (ino *Inode) Read(offset uint64, buf []byte, n uint64) (uint64, error) {
	if offset >= ino.FileSize {
		return 0, nil
	}
	if offset+n > ino.FileSize {
		n = ino.FileSize - offset
	}
	if n == 0 {
		return 0, nil
	}

	chunkSize := ino.sb.Device().ChunkSize()
	remaining := n
	pos := offset
	out := buf

	for remaining > 0 {
		chunkNumber := pos / chunkSize
		within := pos % chunkSize
		want := chunkSize - within
		if want > remaining {
			want = remaining
		}

		ref, ok, err := ino.resolve(chunkNumber, false)
		if err != nil {
			return n - remaining, err
		}
		if !ok {
			for i := uint64(0); i < want; i++ {
				out[i] = 0
			}
		} else {
			c := ref.Chunk()
			c.Lock()
			copy(out[:want], c.Bytes()[within:within+want])
			c.Unlock()
			ref.Release()
		}

		out = out[want:]
		pos += want
		remaining -= want
	}
	return n, nil
}

// Write copies n bytes from buf to offset, growing FileSize and lazily
// allocating chunks on the way through resolve as needed (spec.md §4.6).
// Returns the number of bytes written.
func (ino *Inode) Write(offset uint64, buf []byte, n uint64) (uint64, error) {
	if offset+n > ino.FileSize {
		ino.FileSize = offset + n
	}

	chunkSize := ino.sb.Device().ChunkSize()
	remaining := n
	pos := offset
	in := buf

	for remaining > 0 {
		chunkNumber := pos / chunkSize
		within := pos % chunkSize
		want := chunkSize - within
		if want > remaining {
			want = remaining
		}

		ref, ok, err := ino.resolve(chunkNumber, true)
		if err != nil {
			return n - remaining, err
		}
		if !ok {
			// resolve only reports a hole when createIfAbsent is false.
			return n - remaining, errOf("write", Corrupt)
		}
		c := ref.Chunk()
		c.Lock()
		copy(c.Bytes()[within:within+want], in[:want])
		c.Unlock()
		ref.Release()

		in = in[want:]
		pos += want
		remaining -= want
	}
	return n, nil
}
