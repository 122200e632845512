package chunkfs

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// inodeRecordSize is the on-disk size, in bytes, of an inodeRecord (see
// inode.go): 6 u64 metadata fields + 2 u32 fields + (directAddressCount+3)
// u64 address slots.
const inodeRecordSize = 6*8 + 2*4 + (directAddressCount+3)*8

// Superblock is the single-chunk header at chunk 0 (spec.md §3, §4.4,
// §6). Its exported fields are, in order, exactly the on-disk layout;
// marshalBinary/unmarshalBinary walk them by reflection the same way the
// teacher's squashfs header does, generalized to also support writing.
type Superblock struct {
	SuperblockSizeChunks uint64 // always 1
	DiskSizeBytes        uint64
	DiskSizeChunks       uint64
	ChunkSize            uint64
	BlockMapOffset       uint64
	BlockMapSizeChunks   uint64
	InodeTableOffset     uint64
	InodeTableSizeChunks uint64
	InodeCount           uint64
	DataOffset           uint64

	dev        *Device
	freeBitmap *Bitmap
	inodeTable *InodeTable
}

// binarySize returns the on-disk header size in bytes: one u64 per
// exported field, in declaration order.
func (s *Superblock) binarySize() int {
	v := reflect.ValueOf(s).Elem()
	n := 0
	for i := 0; i < v.NumField(); i++ {
		if !v.Type().Field(i).IsExported() {
			continue
		}
		n += 8
	}
	return n
}

func (s *Superblock) marshalBinary() []byte {
	buf := make([]byte, s.binarySize())
	w := bytes.NewBuffer(buf[:0])
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		if !v.Type().Field(i).IsExported() {
			continue
		}
		binary.Write(w, binary.LittleEndian, v.Field(i).Interface())
	}
	return buf
}

func (s *Superblock) unmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if !f.IsExported() {
			continue
		}
		if err := binary.Read(r, binary.LittleEndian, v.Field(i).Addr().Interface()); err != nil {
			return errOf("load", Corrupt)
		}
	}
	return nil
}

// InitSuperblock formats dev as a fresh image: chunk 0 reserved for this
// header, the free-chunk bitmap placed immediately after it, the inode
// table placed after that sized so InodeCount is approximately
// frac*ChunkCount*inodesPerChunk, every reserved chunk marked used, and the
// header written out (spec.md §4.4).
func InitSuperblock(dev *Device, frac float64) (*Superblock, error) {
	if dev.ChunkCount() < 16 {
		return nil, errOf("init", Corrupt)
	}

	sb := &Superblock{
		SuperblockSizeChunks: 1,
		DiskSizeBytes:        dev.SizeBytes(),
		DiskSizeChunks:       dev.ChunkCount(),
		ChunkSize:            dev.ChunkSize(),
		dev:                  dev,
	}

	offset := sb.SuperblockSizeChunks

	sb.freeBitmap = newBitmap(dev, offset, dev.ChunkCount())
	sb.BlockMapOffset = offset
	sb.BlockMapSizeChunks = sb.freeBitmap.SizeChunks()
	offset += sb.BlockMapSizeChunks

	inodesPerChunk := dev.ChunkSize() / inodeRecordSize
	if inodesPerChunk == 0 {
		return nil, errOf("init", Corrupt)
	}
	inodeCount := uint64(frac * float64(dev.ChunkCount()) * float64(inodesPerChunk))
	if inodeCount == 0 {
		inodeCount = 1
	}

	table, err := newInodeTable(sb, offset, inodeCount)
	if err != nil {
		return nil, err
	}
	sb.inodeTable = table
	sb.InodeTableOffset = offset
	sb.InodeTableSizeChunks = table.sizeChunks()
	sb.InodeCount = inodeCount
	offset += sb.InodeTableSizeChunks

	if offset >= dev.ChunkCount() {
		return nil, errOf("init", Corrupt)
	}
	sb.DataOffset = offset

	if err := sb.freeBitmap.ClearAll(); err != nil {
		return nil, err
	}
	for i := uint64(0); i < sb.DataOffset; i++ {
		if err := sb.freeBitmap.Set(i); err != nil {
			return nil, err
		}
	}
	if err := table.format(); err != nil {
		return nil, err
	}

	if err := sb.writeHeader(); err != nil {
		return nil, err
	}
	return sb, nil
}

// LoadSuperblock reads the header from chunk 0, reconstructs the bitmap
// and inode table at the recorded offsets, and verifies every stored
// constant against the device (spec.md §4.4).
func LoadSuperblock(dev *Device) (*Superblock, error) {
	sb := &Superblock{dev: dev}

	ref, err := dev.GetChunk(0)
	if err != nil {
		return nil, err
	}
	chunk := ref.Chunk()
	chunk.Lock()
	hdr := make([]byte, sb.binarySize())
	copy(hdr, chunk.Bytes())
	chunk.Unlock()
	ref.Release()

	if err := sb.unmarshalBinary(hdr); err != nil {
		return nil, err
	}

	if sb.SuperblockSizeChunks != 1 ||
		sb.DiskSizeBytes != dev.SizeBytes() ||
		sb.DiskSizeChunks != dev.ChunkCount() ||
		sb.ChunkSize != dev.ChunkSize() {
		return nil, errOf("load", Corrupt)
	}

	sb.freeBitmap = newBitmap(dev, sb.BlockMapOffset, dev.ChunkCount())
	if sb.freeBitmap.SizeChunks() != sb.BlockMapSizeChunks {
		return nil, errOf("load", Corrupt)
	}

	table, err := loadInodeTable(sb, sb.InodeTableOffset, sb.InodeCount)
	if err != nil {
		return nil, err
	}
	if table.sizeChunks() != sb.InodeTableSizeChunks {
		return nil, errOf("load", Corrupt)
	}
	sb.inodeTable = table

	if sb.InodeTableOffset+sb.InodeTableSizeChunks != sb.DataOffset {
		return nil, errOf("load", Corrupt)
	}

	for i := uint64(0); i < sb.DataOffset; i++ {
		used, err := sb.freeBitmap.Get(i)
		if err != nil {
			return nil, err
		}
		if !used {
			return nil, errOf("load", Corrupt)
		}
	}

	return sb, nil
}

func (sb *Superblock) writeHeader() error {
	ref, err := sb.dev.GetChunk(0)
	if err != nil {
		return err
	}
	defer ref.Release()
	chunk := ref.Chunk()
	chunk.Lock()
	defer chunk.Unlock()
	copy(chunk.Bytes(), sb.marshalBinary())
	return nil
}

// AllocateChunk finds a single free chunk, marks it used, and returns a
// reference to it (spec.md §4.4).
func (sb *Superblock) AllocateChunk() (ChunkRef, error) {
	idx, ok, err := sb.freeBitmap.AllocateOne()
	if err != nil {
		return ChunkRef{}, err
	}
	if !ok {
		return ChunkRef{}, errOf("allocate_chunk", OutOfSpace)
	}
	return sb.dev.GetChunk(idx)
}

// FreeChunk clears idx's bit in the free-chunk bitmap. Chunks below
// DataOffset are metadata and must never be freed (spec.md §4.4).
func (sb *Superblock) FreeChunk(idx uint64) error {
	if idx < sb.DataOffset {
		return errOf("free_chunk", OutOfRange)
	}
	return sb.freeBitmap.Clr(idx)
}

// InodeTable returns the superblock's inode allocator.
func (sb *Superblock) InodeTable() *InodeTable { return sb.inodeTable }

// Device returns the device backing this superblock.
func (sb *Superblock) Device() *Device { return sb.dev }
