package chunkfs

import (
	"io/fs"
	"strings"
	"time"
)

// Attr is the metadata Filesystem.Getattr returns, shaped for a FUSE-style
// Getattr callback (spec.md §6).
type Attr struct {
	UID   uint32
	GID   uint32
	Mode  fs.FileMode
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Nlink uint32
}

// DirEntry is one materialized entry of Filesystem.Readdir.
type DirEntry struct {
	Name string
	Ino  uint64
}

// rootIno is the inode index Init always assigns the root directory.
const rootIno = 0

// Filesystem is the thin protocol surface spec.md §6 calls an "external
// collaborator": path resolution, attribute and directory-entry shaping,
// and node creation on top of the core Superblock/InodeTable/
// Directory/Inode layers. Permission checks (spec.md §9's open question)
// live here, at the boundary — resolve and the directory layer stay
// permission-agnostic.
type Filesystem struct {
	sb *Superblock
}

// InitFilesystem formats dev as a fresh image and creates the root
// directory inode, which AllocInode's first-fit scan always hands back as
// index 0 on an empty occupancy bitmap.
func InitFilesystem(dev *Device, inodeFraction float64, rootMode uint32) (*Filesystem, error) {
	sb, err := InitSuperblock(dev, inodeFraction)
	if err != nil {
		return nil, err
	}

	table := sb.InodeTable()
	root, err := table.AllocInode()
	if err != nil {
		return nil, err
	}
	if root.Idx != rootIno {
		return nil, errOf("init_filesystem", Corrupt)
	}
	root.Type = TypeDir
	root.Permissions = rootMode & 0777
	root.ReferenceCount = 1

	if err := NewDirectory(&root).InitializeEmpty(); err != nil {
		return nil, err
	}
	if err := table.SetInode(root); err != nil {
		return nil, err
	}

	return &Filesystem{sb: sb}, nil
}

// OpenFilesystem loads an existing image.
func OpenFilesystem(dev *Device) (*Filesystem, error) {
	sb, err := LoadSuperblock(dev)
	if err != nil {
		return nil, err
	}
	return &Filesystem{sb: sb}, nil
}

// Close flushes and releases the backing device.
func (f *Filesystem) Close() error { return f.sb.Device().Close() }

func permBits(node *Inode, uid, gid uint32) uint32 {
	if uid == 0 {
		return 0o7
	}
	perm := node.Permissions
	switch {
	case uint32(node.UID) == uid:
		return (perm >> 6) & 0o7
	case uint32(node.GID) == gid:
		return (perm >> 3) & 0o7
	default:
		return perm & 0o7
	}
}

// checkPerm reports whether uid/gid has every bit in want against node's
// mode. The closed error taxonomy (spec.md §7) has no permission-denied
// kind; failures here are reported as NotAllocated, the closest existing
// meaning ("this slot may not be treated as accessible by you").
func checkPerm(node *Inode, uid, gid uint32, want uint32) error {
	if permBits(node, uid, gid)&want != want {
		return errOf("permission", NotAllocated)
	}
	return nil
}

// Lookup walks path's '/'-separated segments from the root inode, reading
// each intermediate inode's directory stream for the next segment.
func (f *Filesystem) Lookup(path string) (uint64, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return rootIno, nil
	}

	table := f.sb.InodeTable()
	ino := uint64(rootIno)
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		node, err := table.GetInode(ino)
		if err != nil {
			return 0, err
		}
		if !node.IsDir() {
			return 0, errOf("lookup", NotFound)
		}
		childIdx, found, err := NewDirectory(&node).GetFile(seg)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, errOf("lookup", NotFound)
		}
		ino = childIdx
	}
	return ino, nil
}

// Getattr copies an inode record's metadata into an Attr.
func (f *Filesystem) Getattr(ino uint64) (Attr, error) {
	node, err := f.sb.InodeTable().GetInode(ino)
	if err != nil {
		return Attr{}, err
	}
	mode := UnixToMode(node.Permissions)
	if node.IsDir() {
		mode |= fs.ModeDir
	}
	return Attr{
		UID:   uint32(node.UID),
		GID:   uint32(node.GID),
		Mode:  mode,
		Size:  node.FileSize,
		Atime: time.Unix(int64(node.LastAccessed), 0),
		Mtime: time.Unix(int64(node.LastModified), 0),
		Nlink: uint32(node.ReferenceCount),
	}, nil
}

// Readdir materializes ino's directory stream into a slice.
func (f *Filesystem) Readdir(ino uint64) ([]DirEntry, error) {
	node, err := f.sb.InodeTable().GetInode(ino)
	if err != nil {
		return nil, err
	}
	if !node.IsDir() {
		return nil, errOf("readdir", NotFound)
	}

	d := NewDirectory(&node)
	var entries []DirEntry
	cursor := uint64(0)
	for {
		name, childIdx, next, ok, err := d.ReadDir(cursor)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		entries = append(entries, DirEntry{Name: name, Ino: childIdx})
		cursor = next
	}
	return entries, nil
}

// createChild allocates a fresh inode of the given type, links it into
// parent's directory stream under name, and rolls the allocation back if
// linking fails — including on Duplicate, the rollback spec.md §7 assigns
// to the path layer.
func (f *Filesystem) createChild(parent uint64, name string, mode, uid, gid uint32, typ uint32) (uint64, error) {
	table := f.sb.InodeTable()

	parentNode, err := table.GetInode(parent)
	if err != nil {
		return 0, err
	}
	if !parentNode.IsDir() {
		return 0, errOf("create", NotFound)
	}
	if err := checkPerm(&parentNode, uid, gid, 0o3); err != nil { // write+execute
		return 0, err
	}

	child, err := table.AllocInode()
	if err != nil {
		return 0, err
	}
	child.Type = typ
	child.Permissions = mode & 0777
	child.UID = uint64(uid)
	child.GID = uint64(gid)
	child.ReferenceCount = 1

	if typ == TypeDir {
		if err := NewDirectory(&child).InitializeEmpty(); err != nil {
			table.FreeInode(child.Idx)
			return 0, err
		}
	}
	if err := table.SetInode(child); err != nil {
		table.FreeInode(child.Idx)
		return 0, err
	}

	if err := NewDirectory(&parentNode).AddFile(name, child.Idx); err != nil {
		table.FreeInode(child.Idx)
		return 0, err
	}
	if err := table.SetInode(parentNode); err != nil {
		return 0, err
	}

	return child.Idx, nil
}

// Mknod creates a regular file named name inside parent.
func (f *Filesystem) Mknod(parent uint64, name string, mode, uid, gid uint32) (uint64, error) {
	return f.createChild(parent, name, mode, uid, gid, TypeFile)
}

// Mkdir creates a subdirectory named name inside parent.
func (f *Filesystem) Mkdir(parent uint64, name string, mode, uid, gid uint32) (uint64, error) {
	return f.createChild(parent, name, mode, uid, gid, TypeDir)
}

// Open validates that ino is allocated and readable by uid/gid. chunkfs
// has no file-handle table of its own — every Read/Write is already
// addressed by inode index plus offset — so Open is an existence and
// permission check only.
func (f *Filesystem) Open(ino uint64, uid, gid uint32) error {
	node, err := f.sb.InodeTable().GetInode(ino)
	if err != nil {
		return err
	}
	return checkPerm(&node, uid, gid, 0o4)
}

// Read loads ino and delegates to Inode.Read.
func (f *Filesystem) Read(ino uint64, offset int64, buf []byte) (int, error) {
	node, err := f.sb.InodeTable().GetInode(ino)
	if err != nil {
		return 0, err
	}
	n, err := node.Read(uint64(offset), buf, uint64(len(buf)))
	return int(n), err
}

// Write loads ino, delegates to Inode.Write, and stores the inode back
// since Write may have grown file_size or allocated chunks.
func (f *Filesystem) Write(ino uint64, offset int64, buf []byte) (int, error) {
	table := f.sb.InodeTable()
	node, err := table.GetInode(ino)
	if err != nil {
		return 0, err
	}
	n, err := node.Write(uint64(offset), buf, uint64(len(buf)))
	if err != nil {
		return int(n), err
	}
	if err := table.SetInode(node); err != nil {
		return int(n), err
	}
	return int(n), nil
}

// Utimens updates ino's stored access and modification timestamps.
func (f *Filesystem) Utimens(ino uint64, atime, mtime time.Time) error {
	table := f.sb.InodeTable()
	node, err := table.GetInode(ino)
	if err != nil {
		return err
	}
	node.LastAccessed = uint64(atime.Unix())
	node.LastModified = uint64(mtime.Unix())
	return table.SetInode(node)
}
