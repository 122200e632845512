package chunkfs

import "sync"

// InodeTable is the fixed-size array of inode slots (spec.md §3, §4.5): an
// occupancy bitmap followed by a packed array of inodeRecords. Every
// exported method takes mu itself and calls only private, already-locked
// helpers — no exported method calls another exported one while holding
// the lock — so a plain sync.Mutex suffices where the original design
// would otherwise need a reentrant lock.
type InodeTable struct {
	sb             *Superblock
	occupancy      *Bitmap
	ilistOffset    uint64 // chunk index the packed record array starts at
	inodeCount     uint64
	inodesPerChunk uint64

	mu sync.Mutex
}

func inodesPerChunk(chunkSize uint64) uint64 {
	return chunkSize / inodeRecordSize
}

func newInodeTable(sb *Superblock, offsetChunks, inodeCount uint64) (*InodeTable, error) {
	occupancy := newBitmap(sb.Device(), offsetChunks, inodeCount)
	return &InodeTable{
		sb:             sb,
		occupancy:      occupancy,
		ilistOffset:    offsetChunks + occupancy.SizeChunks(),
		inodeCount:     inodeCount,
		inodesPerChunk: inodesPerChunk(sb.Device().ChunkSize()),
	}, nil
}

func loadInodeTable(sb *Superblock, offsetChunks, inodeCount uint64) (*InodeTable, error) {
	return newInodeTable(sb, offsetChunks, inodeCount)
}

// sizeChunks returns the total chunk footprint of the occupancy bitmap
// plus the packed record array.
func (t *InodeTable) sizeChunks() uint64 {
	recordChunks := (t.inodeCount + t.inodesPerChunk - 1) / t.inodesPerChunk
	return t.occupancy.SizeChunks() + recordChunks
}

// format zeroes the occupancy bitmap, marking every slot free.
func (t *InodeTable) format() error {
	return t.occupancy.ClearAll()
}

func (t *InodeTable) recordLocation(idx uint64) (chunkIdx, byteOffset uint64) {
	chunkIdx = t.ilistOffset + idx/t.inodesPerChunk
	byteOffset = (idx % t.inodesPerChunk) * inodeRecordSize
	return
}

func (t *InodeTable) readRecordLocked(idx uint64) (inodeRecord, error) {
	chunkIdx, byteOffset := t.recordLocation(idx)
	ref, err := t.sb.Device().GetChunk(chunkIdx)
	if err != nil {
		return inodeRecord{}, err
	}
	defer ref.Release()
	c := ref.Chunk()
	c.Lock()
	defer c.Unlock()

	var rec inodeRecord
	if err := rec.unmarshalBinary(c.Bytes()[byteOffset : byteOffset+inodeRecordSize]); err != nil {
		return inodeRecord{}, err
	}
	return rec, nil
}

func (t *InodeTable) writeRecordLocked(idx uint64, rec inodeRecord) error {
	chunkIdx, byteOffset := t.recordLocation(idx)
	ref, err := t.sb.Device().GetChunk(chunkIdx)
	if err != nil {
		return err
	}
	defer ref.Release()
	c := ref.Chunk()
	c.Lock()
	defer c.Unlock()
	copy(c.Bytes()[byteOffset:byteOffset+inodeRecordSize], rec.marshalBinary())
	return nil
}

// AllocInode finds a free slot, marks it used, writes a fresh record (all
// fields zero except ReferenceCount, which is 1), and
// returns the corresponding Inode value ready for the caller to populate
// and persist with SetInode.
func (t *InodeTable) AllocInode() (Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok, err := t.occupancy.AllocateOne()
	if err != nil {
		return Inode{}, err
	}
	if !ok {
		return Inode{}, errOf("alloc_inode", OutOfInodes)
	}

	rec := inodeRecord{ReferenceCount: 1}
	if err := t.writeRecordLocked(idx, rec); err != nil {
		return Inode{}, err
	}
	return Inode{Idx: idx, inodeRecord: rec, sb: t.sb}, nil
}

// GetInode returns a copy of the inode at idx. Returns NotAllocated if the
// slot's occupancy bit is clear.
func (t *InodeTable) GetInode(idx uint64) (Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx >= t.inodeCount {
		return Inode{}, errOf("get_inode", OutOfRange)
	}
	used, err := t.occupancy.Get(idx)
	if err != nil {
		return Inode{}, err
	}
	if !used {
		return Inode{}, errOf("get_inode", NotAllocated)
	}

	rec, err := t.readRecordLocked(idx)
	if err != nil {
		return Inode{}, err
	}
	return Inode{Idx: idx, inodeRecord: rec, sb: t.sb}, nil
}

// SetInode persists node back to its slot. The slot must already be
// allocated.
func (t *InodeTable) SetInode(node Inode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if node.Idx >= t.inodeCount {
		return errOf("set_inode", OutOfRange)
	}
	used, err := t.occupancy.Get(node.Idx)
	if err != nil {
		return err
	}
	if !used {
		return errOf("set_inode", NotAllocated)
	}
	return t.writeRecordLocked(node.Idx, node.inodeRecord)
}

// FreeInode clears idx's occupancy bit, returning the slot to the free
// pool. It does not zero the record; AllocInode overwrites it on reuse.
func (t *InodeTable) FreeInode(idx uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx >= t.inodeCount {
		return errOf("free_inode", OutOfRange)
	}
	return t.occupancy.Clr(idx)
}
