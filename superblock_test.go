package chunkfs_test

import (
	"testing"

	"github.com/KarpelesLab/chunkfs"
)

func TestSuperblockInitAndLoad(t *testing.T) {
	back := chunkfs.NewMemDevice(1024, 512)
	dev := chunkfs.NewDevice(back)

	sb, err := chunkfs.InitSuperblock(dev, 0.1)
	if err != nil {
		t.Fatalf("InitSuperblock: %s", err)
	}
	if sb.InodeCount == 0 {
		t.Errorf("expected a nonzero inode count")
	}
	if sb.DataOffset <= sb.InodeTableOffset {
		t.Errorf("DataOffset %d should be past InodeTableOffset %d", sb.DataOffset, sb.InodeTableOffset)
	}

	dev2 := chunkfs.NewDevice(back)
	sb2, err := chunkfs.LoadSuperblock(dev2)
	if err != nil {
		t.Fatalf("LoadSuperblock: %s", err)
	}
	if sb2.InodeCount != sb.InodeCount || sb2.DataOffset != sb.DataOffset {
		t.Errorf("reloaded superblock disagrees with original: %+v vs %+v", sb2, sb)
	}
}

func TestSuperblockAllocateAndFreeChunk(t *testing.T) {
	back := chunkfs.NewMemDevice(1024, 512)
	dev := chunkfs.NewDevice(back)

	sb, err := chunkfs.InitSuperblock(dev, 0.1)
	if err != nil {
		t.Fatalf("InitSuperblock: %s", err)
	}

	ref, err := sb.AllocateChunk()
	if err != nil {
		t.Fatalf("AllocateChunk: %s", err)
	}
	idx := ref.Chunk().Idx()
	ref.Release()

	if idx < sb.DataOffset {
		t.Errorf("allocated chunk %d is below data offset %d", idx, sb.DataOffset)
	}

	if err := sb.FreeChunk(idx); err != nil {
		t.Fatalf("FreeChunk: %s", err)
	}
	if err := sb.FreeChunk(0); err == nil {
		t.Errorf("expected error freeing a metadata chunk")
	}
}

func TestSuperblockTooSmallDevice(t *testing.T) {
	back := chunkfs.NewMemDevice(4, 64)
	dev := chunkfs.NewDevice(back)
	if _, err := chunkfs.InitSuperblock(dev, 0.1); err == nil {
		t.Errorf("expected error initializing a too-small device")
	}
}
