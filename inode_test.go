package chunkfs_test

import (
	"testing"

	"github.com/KarpelesLab/chunkfs"
)

func newTestSuperblock(t *testing.T, chunks, chunkSize uint64, frac float64) *chunkfs.Superblock {
	t.Helper()
	dev := newTestDevice(t, chunks, chunkSize)
	sb, err := chunkfs.InitSuperblock(dev, frac)
	if err != nil {
		t.Fatalf("InitSuperblock: %s", err)
	}
	return sb
}

// Scenario 1: N=1024, C=512, frac=0.1. Write 'X' at offset 0, read it back.
func TestInodeReadWriteSingleByte(t *testing.T) {
	sb := newTestSuperblock(t, 1024, 512, 0.1)
	table := sb.InodeTable()

	ino, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode: %s", err)
	}

	if _, err := ino.Write(0, []byte("X"), 1); err != nil {
		t.Fatalf("Write: %s", err)
	}

	buf := make([]byte, 1)
	n, err := ino.Read(0, buf, 1)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != 1 || string(buf) != "X" {
		t.Errorf("got %q (n=%d), want \"X\"", buf, n)
	}
}

// Scenario 2: write "ab" at 0, then "cd" at 1; reading 3 bytes from 0 gives "acd".
func TestInodeOverlappingWrites(t *testing.T) {
	sb := newTestSuperblock(t, 1024, 512, 0.1)
	table := sb.InodeTable()

	ino, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode: %s", err)
	}

	if _, err := ino.Write(0, []byte("ab"), 2); err != nil {
		t.Fatalf("Write: %s", err)
	}
	if _, err := ino.Write(1, []byte("cd"), 2); err != nil {
		t.Fatalf("Write: %s", err)
	}

	buf := make([]byte, 3)
	n, err := ino.Read(0, buf, 3)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != 3 || string(buf) != "acd" {
		t.Errorf("got %q (n=%d), want \"acd\"", buf, n)
	}
}

// Scenario 3: write "abcd" at 1022, then "efgh" at 1023 (straddles a chunk
// boundary at chunk size 512). Read 5 bytes at 1022: "aefgh".
func TestInodeWriteStraddlesChunkBoundary(t *testing.T) {
	sb := newTestSuperblock(t, 1024, 512, 0.1)
	table := sb.InodeTable()

	ino, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode: %s", err)
	}

	if _, err := ino.Write(1022, []byte("abcd"), 4); err != nil {
		t.Fatalf("Write: %s", err)
	}
	if _, err := ino.Write(1023, []byte("efgh"), 4); err != nil {
		t.Fatalf("Write: %s", err)
	}

	buf := make([]byte, 5)
	n, err := ino.Read(1022, buf, 5)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != 5 || string(buf) != "aefgh" {
		t.Errorf("got %q (n=%d), want \"aefgh\"", buf, n)
	}
}

// Scenario 4: write "hello" far enough out to force indirect-chunk
// allocation on C=1024 (offset 10 MiB is chunk 10240, inside the
// double-indirect region 136..16520); reads below file_size at unwritten
// offsets are zero-filled.
func TestInodeDoubleIndirectAllocationAndHoles(t *testing.T) {
	sb := newTestSuperblock(t, 1<<20, 1024, 0.05)
	table := sb.InodeTable()

	ino, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode: %s", err)
	}

	offset := uint64(10 * 1024 * 1024)
	if _, err := ino.Write(offset, []byte("hello"), 5); err != nil {
		t.Fatalf("Write: %s", err)
	}

	buf := make([]byte, 5)
	n, err := ino.Read(offset, buf, 5)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Errorf("got %q (n=%d), want \"hello\"", buf, n)
	}

	hole := make([]byte, 4)
	n, err = ino.Read(offset-4, hole, 4)
	if err != nil {
		t.Fatalf("Read hole: %s", err)
	}
	for i, b := range hole[:n] {
		if b != 0 {
			t.Errorf("hole byte %d = %#x, want 0", i, b)
		}
	}
}

func TestInodeReadClampsToFileSize(t *testing.T) {
	sb := newTestSuperblock(t, 1024, 512, 0.1)
	table := sb.InodeTable()

	ino, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode: %s", err)
	}
	if _, err := ino.Write(0, []byte("abc"), 3); err != nil {
		t.Fatalf("Write: %s", err)
	}

	buf := make([]byte, 10)
	n, err := ino.Read(0, buf, 10)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != 3 {
		t.Errorf("Read past file_size returned n=%d, want 3", n)
	}
}
