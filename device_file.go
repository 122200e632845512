package chunkfs

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ProbeFileDeviceLayout reads disk_size_chunks and chunk_size directly out
// of an image's superblock header (chunk 0's 3rd and 4th u64 fields) so
// callers can size the mmap before constructing a Device — LoadSuperblock
// itself needs an already-mapped Device to read the rest of the header.
func ProbeFileDeviceLayout(path string) (chunkCount, chunkSize uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	hdr := make([]byte, 32)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return 0, 0, err
	}
	chunkCount = binary.LittleEndian.Uint64(hdr[16:24])
	chunkSize = binary.LittleEndian.Uint64(hdr[24:32])
	return chunkCount, chunkSize, nil
}

// FileDevice is a blockDevice backed by a memory-mapped regular file. The
// file is grown to exactly chunkCount*chunkSize bytes and mapped
// PROT_READ|PROT_WRITE, MAP_SHARED, so writeChunk's copy lands directly in
// the page cache and is visible to anything else mapping the same file.
type FileDevice struct {
	chunkSize  uint64
	chunkCount uint64
	f          *os.File
	mapped     []byte
}

// OpenFileDevice mmaps path, which must already be sized to
// chunkCount*chunkSize bytes (see CreateFileDevice for new images).
func OpenFileDevice(path string, chunkCount, chunkSize uint64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return mapFileDevice(f, chunkCount, chunkSize)
}

// CreateFileDevice creates (or truncates) path to chunkCount*chunkSize bytes
// and mmaps it, ready for InitSuperblock.
func CreateFileDevice(path string, chunkCount, chunkSize uint64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	size := int64(chunkCount * chunkSize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return mapFileDevice(f, chunkCount, chunkSize)
}

func mapFileDevice(f *os.File, chunkCount, chunkSize uint64) (*FileDevice, error) {
	size := int64(chunkCount * chunkSize)
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != size {
		f.Close()
		return nil, fmt.Errorf("chunkfs: image %s is %d bytes, expected %d", f.Name(), fi.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileDevice{
		chunkSize:  chunkSize,
		chunkCount: chunkCount,
		f:          f,
		mapped:     data,
	}, nil
}

func (d *FileDevice) ChunkSize() uint64  { return d.chunkSize }
func (d *FileDevice) ChunkCount() uint64 { return d.chunkCount }

func (d *FileDevice) readChunk(idx uint64, dst []byte) {
	off := idx * d.chunkSize
	copy(dst, d.mapped[off:off+d.chunkSize])
}

func (d *FileDevice) writeChunk(idx uint64, src []byte) {
	off := idx * d.chunkSize
	copy(d.mapped[off:off+d.chunkSize], src)
}

// Close flushes dirty pages, unmaps the image and closes the file.
func (d *FileDevice) Close() error {
	if err := unix.Msync(d.mapped, unix.MS_SYNC); err != nil {
		return err
	}
	if err := unix.Munmap(d.mapped); err != nil {
		return err
	}
	return d.f.Close()
}
