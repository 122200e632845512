package chunkfs

import (
	"bytes"
	"encoding/binary"
)

// dirHeaderSize is sizeof(header): record_count, deleted_record_count,
// head, tail, each a u64 (spec.md §4.7).
const dirHeaderSize = 32

type dirHeader struct {
	RecordCount        uint64
	DeletedRecordCount uint64
	Head               uint64
	Tail               uint64
}

func (h *dirHeader) marshalBinary() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(dirHeaderSize)
	binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

func (h *dirHeader) unmarshalBinary(data []byte) error {
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, h); err != nil {
		return errOf("dir_header", Corrupt)
	}
	return nil
}

// dirRecordHeaderSize is the fixed portion of a directory record, before
// its variable-length filename: next_entry_ptr, filename_length,
// inode_idx, each a u64 (spec.md §4.7).
const dirRecordHeaderSize = 24

type dirRecordHeader struct {
	NextEntryPtr   uint64
	FilenameLength uint64
	InodeIdx       uint64
}

func (r *dirRecordHeader) marshalBinary() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(dirRecordHeaderSize)
	binary.Write(buf, binary.LittleEndian, r)
	return buf.Bytes()
}

func (r *dirRecordHeader) unmarshalBinary(data []byte) error {
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, r); err != nil {
		return errOf("dir_record", Corrupt)
	}
	return nil
}

// Directory is a transient view over a directory inode's byte content
// (spec.md §4.7): a header followed by a singly-linked list of records.
// Every method re-reads the header at the start, and every successful
// AddFile/RemoveFile writes it back before returning, so concurrent
// Directory values over the same inode observe
// each other's committed state through the inode's own chunk cache.
//
// Directory mutates Ino in place (FileSize and Addresses grow as records
// are appended); callers are responsible for persisting the inode back
// through InodeTable.SetInode once they're done with a batch of directory
// operations.
type Directory struct {
	Ino *Inode
	hdr dirHeader
}

// NewDirectory constructs a view over ino's byte content. It does not
// itself read or write anything; call InitializeEmpty for a freshly
// allocated directory inode, or any other method to read the existing
// header.
func NewDirectory(ino *Inode) *Directory {
	return &Directory{Ino: ino}
}

// InitializeEmpty writes a zeroed header, establishing ino as an empty
// directory.
func (d *Directory) InitializeEmpty() error {
	d.hdr = dirHeader{}
	return d.flush()
}

func (d *Directory) readHeader() error {
	buf := make([]byte, dirHeaderSize)
	n, err := d.Ino.Read(0, buf, dirHeaderSize)
	if err != nil {
		return err
	}
	if n < dirHeaderSize {
		return errOf("dir_header", Corrupt)
	}
	return d.hdr.unmarshalBinary(buf)
}

func (d *Directory) flush() error {
	_, err := d.Ino.Write(0, d.hdr.marshalBinary(), dirHeaderSize)
	return err
}

func (d *Directory) readRecordHeader(offset uint64) (dirRecordHeader, error) {
	buf := make([]byte, dirRecordHeaderSize)
	n, err := d.Ino.Read(offset, buf, dirRecordHeaderSize)
	if err != nil {
		return dirRecordHeader{}, err
	}
	if n < dirRecordHeaderSize {
		return dirRecordHeader{}, errOf("dir_record", Corrupt)
	}
	var rec dirRecordHeader
	if err := rec.unmarshalBinary(buf); err != nil {
		return dirRecordHeader{}, err
	}
	return rec, nil
}

func (d *Directory) writeRecordHeader(offset uint64, rec dirRecordHeader) error {
	_, err := d.Ino.Write(offset, rec.marshalBinary(), dirRecordHeaderSize)
	return err
}

func (d *Directory) readName(offset, length uint64) (string, error) {
	buf := make([]byte, length)
	n, err := d.Ino.Read(offset, buf, length)
	if err != nil {
		return "", err
	}
	if n < length {
		return "", errOf("dir_record", Corrupt)
	}
	return string(buf), nil
}

// GetFile searches the record chain for name, returning its inode index.
func (d *Directory) GetFile(name string) (uint64, bool, error) {
	if err := d.readHeader(); err != nil {
		return 0, false, err
	}
	return d.findLocked(name)
}

func (d *Directory) findLocked(name string) (uint64, bool, error) {
	cur := d.hdr.Head
	for cur != 0 {
		rec, err := d.readRecordHeader(cur)
		if err != nil {
			return 0, false, err
		}
		fname, err := d.readName(cur+dirRecordHeaderSize, rec.FilenameLength)
		if err != nil {
			return 0, false, err
		}
		if fname == name {
			return rec.InodeIdx, true, nil
		}
		cur = rec.NextEntryPtr
	}
	return 0, false, nil
}

// AddFile appends a new record mapping name to childIdx, maintaining the
// head/tail pointers (spec.md §4.7). Returns Duplicate if name already
// exists.
func (d *Directory) AddFile(name string, childIdx uint64) error {
	if err := d.readHeader(); err != nil {
		return err
	}
	if _, found, err := d.findLocked(name); err != nil {
		return err
	} else if found {
		return errOf("add_file", Duplicate)
	}

	rec := dirRecordHeader{FilenameLength: uint64(len(name)), InodeIdx: childIdx}
	payload := append(rec.marshalBinary(), []byte(name)...)

	if d.hdr.Head == 0 {
		offset := uint64(dirHeaderSize)
		if _, err := d.Ino.Write(offset, payload, uint64(len(payload))); err != nil {
			return err
		}
		d.hdr.Head = offset
		d.hdr.Tail = offset
	} else {
		tailRec, err := d.readRecordHeader(d.hdr.Tail)
		if err != nil {
			return err
		}
		newOffset := d.hdr.Tail + dirRecordHeaderSize + tailRec.FilenameLength
		tailRec.NextEntryPtr = newOffset
		if err := d.writeRecordHeader(d.hdr.Tail, tailRec); err != nil {
			return err
		}
		if _, err := d.Ino.Write(newOffset, payload, uint64(len(payload))); err != nil {
			return err
		}
		d.hdr.Tail = newOffset
	}

	d.hdr.RecordCount++
	return d.flush()
}

// RemoveFile unlinks the record for name from the chain. The record's
// bytes remain in the file; compaction is out of scope (spec.md §4.7).
func (d *Directory) RemoveFile(name string) error {
	if err := d.readHeader(); err != nil {
		return err
	}

	var prevOffset uint64
	cur := d.hdr.Head
	for cur != 0 {
		rec, err := d.readRecordHeader(cur)
		if err != nil {
			return err
		}
		fname, err := d.readName(cur+dirRecordHeaderSize, rec.FilenameLength)
		if err != nil {
			return err
		}
		if fname != name {
			prevOffset = cur
			cur = rec.NextEntryPtr
			continue
		}

		if prevOffset == 0 {
			d.hdr.Head = rec.NextEntryPtr
			if d.hdr.Head == 0 {
				d.hdr.Tail = 0
			}
		} else {
			prevRec, err := d.readRecordHeader(prevOffset)
			if err != nil {
				return err
			}
			prevRec.NextEntryPtr = rec.NextEntryPtr
			if err := d.writeRecordHeader(prevOffset, prevRec); err != nil {
				return err
			}
			if rec.NextEntryPtr == 0 {
				d.hdr.Tail = prevOffset
			}
		}

		d.hdr.DeletedRecordCount++
		d.hdr.RecordCount--
		return d.flush()
	}
	return errOf("remove_file", NotFound)
}

// ReadDir returns the record following cursor (cursor 0 means "start at
// head"), along with its own offset as the next cursor to pass back in.
// ok is false once the chain ends or the directory is empty.
func (d *Directory) ReadDir(cursor uint64) (name string, childIdx uint64, next uint64, ok bool, err error) {
	if err = d.readHeader(); err != nil {
		return "", 0, 0, false, err
	}

	var offset uint64
	if cursor == 0 {
		offset = d.hdr.Head
	} else {
		rec, err := d.readRecordHeader(cursor)
		if err != nil {
			return "", 0, 0, false, err
		}
		offset = rec.NextEntryPtr
	}
	if offset == 0 {
		return "", 0, 0, false, nil
	}

	rec, err := d.readRecordHeader(offset)
	if err != nil {
		return "", 0, 0, false, err
	}
	name, err = d.readName(offset+dirRecordHeaderSize, rec.FilenameLength)
	if err != nil {
		return "", 0, 0, false, err
	}
	return name, rec.InodeIdx, offset, true, nil
}
