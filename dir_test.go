package chunkfs_test

import (
	"testing"

	"github.com/KarpelesLab/chunkfs"
)

// Scenario 5: D.add_file("a", F1); D.add_file("b", F2); iteration yields
// ("a", idx(F1)), ("b", idx(F2)) in order. D.remove_file("a") leaves
// iteration yielding only "b". The header's record_count is unexported and
// is not checked here.
func TestDirectoryAddIterateRemove(t *testing.T) {
	sb := newTestSuperblock(t, 1024, 512, 0.1)
	table := sb.InodeTable()

	dirIno, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(dir): %s", err)
	}
	f1, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(f1): %s", err)
	}
	f2, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(f2): %s", err)
	}

	d := chunkfs.NewDirectory(&dirIno)
	if err := d.InitializeEmpty(); err != nil {
		t.Fatalf("InitializeEmpty: %s", err)
	}
	if err := d.AddFile("a", f1.Idx); err != nil {
		t.Fatalf("AddFile(a): %s", err)
	}
	if err := d.AddFile("b", f2.Idx); err != nil {
		t.Fatalf("AddFile(b): %s", err)
	}

	var names []string
	var idxs []uint64
	cursor := uint64(0)
	for {
		name, childIdx, next, ok, err := d.ReadDir(cursor)
		if err != nil {
			t.Fatalf("ReadDir: %s", err)
		}
		if !ok {
			break
		}
		names = append(names, name)
		idxs = append(idxs, childIdx)
		cursor = next
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("got names %v, want [a b]", names)
	}
	if idxs[0] != f1.Idx || idxs[1] != f2.Idx {
		t.Fatalf("got idxs %v, want [%d %d]", idxs, f1.Idx, f2.Idx)
	}

	if err := d.RemoveFile("a"); err != nil {
		t.Fatalf("RemoveFile(a): %s", err)
	}

	names = nil
	cursor = 0
	for {
		name, _, next, ok, err := d.ReadDir(cursor)
		if err != nil {
			t.Fatalf("ReadDir: %s", err)
		}
		if !ok {
			break
		}
		names = append(names, name)
		cursor = next
	}
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("got names %v after remove, want [b]", names)
	}
}

func TestDirectoryAddDuplicateFails(t *testing.T) {
	sb := newTestSuperblock(t, 1024, 512, 0.1)
	table := sb.InodeTable()

	dirIno, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(dir): %s", err)
	}
	f1, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(f1): %s", err)
	}

	d := chunkfs.NewDirectory(&dirIno)
	if err := d.InitializeEmpty(); err != nil {
		t.Fatalf("InitializeEmpty: %s", err)
	}
	if err := d.AddFile("x", f1.Idx); err != nil {
		t.Fatalf("AddFile: %s", err)
	}
	if err := d.AddFile("x", f1.Idx); err == nil {
		t.Errorf("expected Duplicate error adding the same name twice")
	}
}

func TestDirectoryRemoveMissingFails(t *testing.T) {
	sb := newTestSuperblock(t, 1024, 512, 0.1)
	table := sb.InodeTable()

	dirIno, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(dir): %s", err)
	}
	d := chunkfs.NewDirectory(&dirIno)
	if err := d.InitializeEmpty(); err != nil {
		t.Fatalf("InitializeEmpty: %s", err)
	}
	if err := d.RemoveFile("nope"); err == nil {
		t.Errorf("expected NotFound error removing an absent name")
	}
}

func TestDirectoryAddRemoveIdempotence(t *testing.T) {
	sb := newTestSuperblock(t, 1024, 512, 0.1)
	table := sb.InodeTable()

	dirIno, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(dir): %s", err)
	}
	f1, err := table.AllocInode()
	if err != nil {
		t.Fatalf("AllocInode(f1): %s", err)
	}

	d := chunkfs.NewDirectory(&dirIno)
	if err := d.InitializeEmpty(); err != nil {
		t.Fatalf("InitializeEmpty: %s", err)
	}

	_, before, _ := d.GetFile("x")
	if before {
		t.Fatalf("file x should not exist yet")
	}

	if err := d.AddFile("x", f1.Idx); err != nil {
		t.Fatalf("AddFile: %s", err)
	}
	if err := d.RemoveFile("x"); err != nil {
		t.Fatalf("RemoveFile: %s", err)
	}
	if err := d.AddFile("x", f1.Idx); err != nil {
		t.Fatalf("AddFile after remove: %s", err)
	}
	if err := d.RemoveFile("x"); err != nil {
		t.Fatalf("RemoveFile again: %s", err)
	}
}
