package chunkfs_test

import (
	"bytes"
	"testing"

	"github.com/KarpelesLab/chunkfs"
)

func TestFilesystemMknodAndLookup(t *testing.T) {
	back := chunkfs.NewMemDevice(1024, 512)
	dev := chunkfs.NewDevice(back)

	fsys, err := chunkfs.InitFilesystem(dev, 0.1, 0755)
	if err != nil {
		t.Fatalf("InitFilesystem: %s", err)
	}

	root, err := fsys.Lookup("/")
	if err != nil {
		t.Fatalf("Lookup(/): %s", err)
	}

	ino, err := fsys.Mknod(root, "hello.txt", 0644, 1000, 1000)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}

	got, err := fsys.Lookup("/hello.txt")
	if err != nil {
		t.Fatalf("Lookup(/hello.txt): %s", err)
	}
	if got != ino {
		t.Errorf("Lookup returned %d, want %d", got, ino)
	}

	if _, err := fsys.Lookup("/missing.txt"); err == nil {
		t.Errorf("expected error looking up a missing path")
	}
}

func TestFilesystemMkdirNestedLookup(t *testing.T) {
	back := chunkfs.NewMemDevice(1024, 512)
	dev := chunkfs.NewDevice(back)

	fsys, err := chunkfs.InitFilesystem(dev, 0.1, 0755)
	if err != nil {
		t.Fatalf("InitFilesystem: %s", err)
	}

	root, err := fsys.Lookup("/")
	if err != nil {
		t.Fatalf("Lookup(/): %s", err)
	}
	sub, err := fsys.Mkdir(root, "sub", 0755, 0, 0)
	if err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	file, err := fsys.Mknod(sub, "a.txt", 0644, 0, 0)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}

	got, err := fsys.Lookup("/sub/a.txt")
	if err != nil {
		t.Fatalf("Lookup(/sub/a.txt): %s", err)
	}
	if got != file {
		t.Errorf("Lookup returned %d, want %d", got, file)
	}

	entries, err := fsys.Readdir(root)
	if err != nil {
		t.Fatalf("Readdir: %s", err)
	}
	if len(entries) != 1 || entries[0].Name != "sub" {
		t.Errorf("Readdir(root) = %v, want one entry named sub", entries)
	}
}

func TestFilesystemReadWriteAttr(t *testing.T) {
	back := chunkfs.NewMemDevice(1024, 512)
	dev := chunkfs.NewDevice(back)

	fsys, err := chunkfs.InitFilesystem(dev, 0.1, 0755)
	if err != nil {
		t.Fatalf("InitFilesystem: %s", err)
	}

	root, _ := fsys.Lookup("/")
	ino, err := fsys.Mknod(root, "data.bin", 0644, 42, 42)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}

	payload := []byte("some file contents")
	if _, err := fsys.Write(ino, 0, payload); err != nil {
		t.Fatalf("Write: %s", err)
	}

	buf := make([]byte, len(payload))
	n, err := fsys.Read(ino, 0, buf)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != len(payload) || !bytes.Equal(buf, payload) {
		t.Errorf("got %q, want %q", buf[:n], payload)
	}

	attr, err := fsys.Getattr(ino)
	if err != nil {
		t.Fatalf("Getattr: %s", err)
	}
	if attr.Size != uint64(len(payload)) {
		t.Errorf("Getattr size = %d, want %d", attr.Size, len(payload))
	}
	if attr.UID != 42 || attr.GID != 42 {
		t.Errorf("Getattr uid/gid = %d/%d, want 42/42", attr.UID, attr.GID)
	}
}

// Scenario 6: initialize an image, write "ping" at offset 0 in a fresh
// inode, drop the filesystem; construct a new filesystem on the same
// device, load from disk, read 4 bytes at offset 0 of the same inode
// index: "ping".
func TestFilesystemPersistsAcrossReopen(t *testing.T) {
	back := chunkfs.NewMemDevice(1024, 512)
	dev := chunkfs.NewDevice(back)

	fsys, err := chunkfs.InitFilesystem(dev, 0.1, 0755)
	if err != nil {
		t.Fatalf("InitFilesystem: %s", err)
	}
	root, _ := fsys.Lookup("/")
	ino, err := fsys.Mknod(root, "ping.txt", 0644, 0, 0)
	if err != nil {
		t.Fatalf("Mknod: %s", err)
	}
	if _, err := fsys.Write(ino, 0, []byte("ping")); err != nil {
		t.Fatalf("Write: %s", err)
	}
	fsys = nil

	dev2 := chunkfs.NewDevice(back)
	fsys2, err := chunkfs.OpenFilesystem(dev2)
	if err != nil {
		t.Fatalf("OpenFilesystem: %s", err)
	}

	buf := make([]byte, 4)
	n, err := fsys2.Read(ino, 0, buf)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != 4 || string(buf) != "ping" {
		t.Errorf("got %q (n=%d), want \"ping\"", buf, n)
	}
}

func TestFilesystemMkdirDuplicateRollsBackInode(t *testing.T) {
	back := chunkfs.NewMemDevice(1024, 512)
	dev := chunkfs.NewDevice(back)

	fsys, err := chunkfs.InitFilesystem(dev, 0.1, 0755)
	if err != nil {
		t.Fatalf("InitFilesystem: %s", err)
	}
	root, _ := fsys.Lookup("/")
	first, err := fsys.Mkdir(root, "dup", 0755, 0, 0)
	if err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	if _, err := fsys.Mkdir(root, "dup", 0755, 0, 0); err == nil {
		t.Errorf("expected Duplicate error on second Mkdir with same name")
	}

	// The failed Mkdir's inode slot was freed, so first-fit hands it out again.
	next, err := fsys.Mkdir(root, "other", 0755, 0, 0)
	if err != nil {
		t.Fatalf("Mkdir(other): %s", err)
	}
	if next != first+1 {
		t.Errorf("Mkdir(other) got inode %d, want %d (slot freed by the failed Mkdir)", next, first+1)
	}
}
