//go:build fuse

package chunkfs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FuseNode bridges a Filesystem inode index to go-fuse/v2/fs's
// InodeEmbedder. It holds no cache and no novel logic of its own — every
// callback turns around and calls straight into Filesystem, the same
// thin-bridge shape as the teacher's inode_fuse.go.
type FuseNode struct {
	fs.Inode
	owner *Filesystem
	ino   uint64
}

// NewFuseNode constructs the root FuseNode for owner, addressing
// rootIno. Child nodes are created internally by Lookup/Mkdir/Create.
func NewFuseNode(owner *Filesystem) *FuseNode {
	return &FuseNode{owner: owner, ino: rootIno}
}

var (
	_ fs.InodeEmbedder = (*FuseNode)(nil)
	_ fs.NodeGetattrer = (*FuseNode)(nil)
	_ fs.NodeLookuper  = (*FuseNode)(nil)
	_ fs.NodeReaddirer = (*FuseNode)(nil)
	_ fs.NodeMkdirer   = (*FuseNode)(nil)
	_ fs.NodeCreater   = (*FuseNode)(nil)
	_ fs.NodeOpener    = (*FuseNode)(nil)
	_ fs.NodeReader    = (*FuseNode)(nil)
	_ fs.NodeWriter    = (*FuseNode)(nil)
	_ fs.NodeSetattrer = (*FuseNode)(nil)
)

func callerIDs(ctx context.Context) (uid, gid uint32) {
	if caller, ok := fuse.FromContext(ctx); ok {
		return caller.Uid, caller.Gid
	}
	return 0, 0
}

func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var kerr *Error
	if e, ok := err.(*Error); ok {
		kerr = e
	} else {
		return syscall.EIO
	}
	switch kerr.Kind {
	case OutOfSpace, OutOfInodes:
		return syscall.ENOSPC
	case NotFound:
		return syscall.ENOENT
	case Duplicate:
		return syscall.EEXIST
	case NotAllocated, Corrupt:
		return syscall.EIO
	case OutOfRange:
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

func (n *FuseNode) childNode(ino uint64) *FuseNode {
	return &FuseNode{owner: n.owner, ino: ino}
}

func attrToFuse(a Attr, out *fuse.Attr) {
	out.Mode = uint32(a.Mode.Perm())
	if a.Mode.IsDir() {
		out.Mode |= syscall.S_IFDIR
	} else {
		out.Mode |= syscall.S_IFREG
	}
	out.Size = a.Size
	out.Uid = a.UID
	out.Gid = a.GID
	out.Nlink = a.Nlink
	out.SetTimes(&a.Atime, &a.Mtime, nil)
}

func (n *FuseNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	a, err := n.owner.Getattr(n.ino)
	if err != nil {
		return errnoOf(err)
	}
	attrToFuse(a, &out.Attr)
	return 0
}

func (n *FuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	entries, err := n.owner.Readdir(n.ino)
	if err != nil {
		return nil, errnoOf(err)
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		a, err := n.owner.Getattr(e.Ino)
		if err != nil {
			return nil, errnoOf(err)
		}
		attrToFuse(a, &out.Attr)
		mode := uint32(syscall.S_IFREG)
		if a.Mode.IsDir() {
			mode = syscall.S_IFDIR
		}
		child := n.NewInode(ctx, n.childNode(e.Ino), fs.StableAttr{Mode: mode, Ino: e.Ino})
		return child, 0
	}
	return nil, syscall.ENOENT
}

func (n *FuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.owner.Readdir(n.ino)
	if err != nil {
		return nil, errnoOf(err)
	}
	list := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		list = append(list, fuse.DirEntry{Name: e.Name, Ino: e.Ino})
	}
	return fs.NewListDirStream(list), 0
}

func (n *FuseNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	uid, gid := callerIDs(ctx)
	ino, err := n.owner.Mkdir(n.ino, name, mode, uid, gid)
	if err != nil {
		return nil, errnoOf(err)
	}
	a, err := n.owner.Getattr(ino)
	if err != nil {
		return nil, errnoOf(err)
	}
	attrToFuse(a, &out.Attr)
	child := n.NewInode(ctx, n.childNode(ino), fs.StableAttr{Mode: syscall.S_IFDIR, Ino: ino})
	return child, 0
}

func (n *FuseNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	uid, gid := callerIDs(ctx)
	ino, err := n.owner.Mknod(n.ino, name, mode, uid, gid)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	a, err := n.owner.Getattr(ino)
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	attrToFuse(a, &out.Attr)
	child := n.NewInode(ctx, n.childNode(ino), fs.StableAttr{Mode: syscall.S_IFREG, Ino: ino})
	return child, nil, 0, 0
}

func (n *FuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	uid, gid := callerIDs(ctx)
	if err := n.owner.Open(n.ino, uid, gid); err != nil {
		return nil, 0, errnoOf(err)
	}
	return nil, 0, 0
}

func (n *FuseNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nr, err := n.owner.Read(n.ino, off, dest)
	if err != nil {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:nr]), 0
}

func (n *FuseNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	nw, err := n.owner.Write(n.ino, off, data)
	if err != nil {
		return uint32(nw), errnoOf(err)
	}
	return uint32(nw), 0
}

func (n *FuseNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if in.Valid&(fuse.FATTR_ATIME|fuse.FATTR_MTIME) != 0 {
		cur, err := n.owner.Getattr(n.ino)
		if err != nil {
			return errnoOf(err)
		}
		atime, mtime := cur.Atime, cur.Mtime
		if in.Valid&fuse.FATTR_ATIME != 0 {
			atime = time.Unix(int64(in.Atime), int64(in.Atimensec))
		}
		if in.Valid&fuse.FATTR_MTIME != 0 {
			mtime = time.Unix(int64(in.Mtime), int64(in.Mtimensec))
		}
		if err := n.owner.Utimens(n.ino, atime, mtime); err != nil {
			return errnoOf(err)
		}
	}
	a, err := n.owner.Getattr(n.ino)
	if err != nil {
		return errnoOf(err)
	}
	attrToFuse(a, &out.Attr)
	return 0
}
