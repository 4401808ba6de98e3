package oncefs

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FSNode is the go-fuse tree adapter over an Engine. Mount creates the
// root FSNode; Lookup, Create, Mkdir and Symlink create one per child,
// holding only its path. Attributes and contents are resolved through the
// Engine on every call rather than cached in the FSNode, since the
// Engine's tables are already the tree's source of truth.
type FSNode struct {
	fs.Inode

	eng  *Engine
	path string // path of this node relative to the mount root, "/" for the root
}

var (
	_ fs.InodeEmbedder  = (*FSNode)(nil)
	_ fs.NodeLookuper   = (*FSNode)(nil)
	_ fs.NodeGetattrer  = (*FSNode)(nil)
	_ fs.NodeSetattrer  = (*FSNode)(nil)
	_ fs.NodeReaddirer  = (*FSNode)(nil)
	_ fs.NodeOpener     = (*FSNode)(nil)
	_ fs.NodeReader     = (*FSNode)(nil)
	_ fs.NodeWriter     = (*FSNode)(nil)
	_ fs.NodeCreater    = (*FSNode)(nil)
	_ fs.NodeMkdirer    = (*FSNode)(nil)
	_ fs.NodeSymlinker  = (*FSNode)(nil)
	_ fs.NodeReadlinker = (*FSNode)(nil)
	_ fs.NodeUnlinker   = (*FSNode)(nil)
	_ fs.NodeRmdirer    = (*FSNode)(nil)
	_ fs.NodeRenamer    = (*FSNode)(nil)
	_ fs.NodeFsyncer    = (*FSNode)(nil)
	_ fs.NodeStatfser   = (*FSNode)(nil)
)

// Mount mounts eng at mountpoint and blocks, serving requests, until the
// filesystem is unmounted or ctx is cancelled.
func Mount(ctx context.Context, mountpoint string, eng *Engine, debug bool) error {
	root := &FSNode{eng: eng, path: "/"}

	server, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{
			SingleThreaded: true,
			Debug:          debug,
			FsName:         "oncefs",
			Name:           "oncefs",
		},
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		server.Unmount()
	}()

	server.Wait()
	return nil
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrExists):
		return syscall.EEXIST
	case errors.Is(err, ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, ErrOverflow):
		return syscall.EFBIG
	case errors.Is(err, ErrOutOfMemory):
		return syscall.ENOMEM
	case errors.Is(err, ErrNotSupported):
		return syscall.ENOTSUP
	default:
		return syscall.EIO
	}
}

// blocksFor reports the st_blocks value for a file of the given byte size,
// rounding up to whole 512-byte sectors as stat(2) defines.
func blocksFor(size uint64) uint64 {
	return (size + 511) / 512
}

func fillAttr(out *fuse.Attr, st Stat) {
	out.Size = st.Size
	out.Blocks = blocksFor(st.Size)
	out.Atime = st.LastAccess
	out.Mtime = st.LastModification
	out.Ctime = st.LastModification
	out.Mode = uint32(st.Mode)
	switch {
	case st.IsDir:
		out.Mode |= syscall.S_IFDIR
	case st.IsLink:
		out.Mode |= syscall.S_IFLNK
	default:
		out.Mode |= syscall.S_IFREG
	}
	if out.Mode&07777 == 0 {
		if st.IsDir {
			out.Mode |= 0755
		} else {
			out.Mode |= 0644
		}
	}
}

func (n *FSNode) child(name string) *FSNode {
	return &FSNode{eng: n.eng, path: childPath(n.path, name)}
}

func (n *FSNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	st, err := n.eng.GetNode(child.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttr(&out.Attr, st)
	out.Attr.Ino = uint64(st.Node)
	mode := uint32(syscall.S_IFREG)
	switch {
	case st.IsDir:
		mode = syscall.S_IFDIR
	case st.IsLink:
		mode = syscall.S_IFLNK
	}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode, Ino: uint64(st.Node)}), 0
}

func (n *FSNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := n.eng.GetNode(n.path)
	if err != nil {
		return errnoFor(err)
	}
	fillAttr(&out.Attr, st)
	out.Attr.Ino = uint64(st.Node)
	return 0
}

func (n *FSNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		st, err := n.eng.GetNode(n.path)
		if err != nil {
			return errnoFor(err)
		}
		if err := n.eng.DelData(st.Node, size); err != nil {
			return errnoFor(err)
		}
	}

	atime, hasAtime := in.GetATime()
	mtime, hasMtime := in.GetMTime()
	if hasAtime || hasMtime {
		var a, m time.Time
		if hasAtime {
			a = atime
		}
		if hasMtime {
			m = mtime
		} else {
			m = a
		}
		if err := n.eng.SetTime(n.path, a.Unix(), m.Unix()); err != nil {
			return errnoFor(err)
		}
	}

	st, err := n.eng.GetNode(n.path)
	if err != nil {
		return errnoFor(err)
	}
	fillAttr(&out.Attr, st)
	out.Attr.Ino = uint64(st.Node)
	return 0
}

func (n *FSNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	err := n.eng.GetDir(n.path, func(child Node) {
		mode := uint32(syscall.S_IFREG)
		switch child.Type {
		case TypeDir:
			mode = syscall.S_IFDIR
		case TypeLink:
			mode = syscall.S_IFLNK
		}
		entries = append(entries, fuse.DirEntry{Name: child.Name, Ino: uint64(child.Node), Mode: mode})
	})
	if err != nil {
		return nil, errnoFor(err)
	}
	return fs.NewListDirStream(entries), 0
}

func (n *FSNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if _, err := n.eng.GetNode(n.path); err != nil {
		return nil, 0, errnoFor(err)
	}
	return nil, 0, 0
}

func (n *FSNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	st, err := n.eng.GetNode(n.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	got, err := n.eng.GetData(st.Node, dest, uint64(off))
	if err != nil {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:got]), 0
}

func (n *FSNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	st, err := n.eng.GetNode(n.path)
	if err != nil {
		return 0, errnoFor(err)
	}
	if err := n.eng.SetData(st.Node, data, uint64(off)); err != nil {
		return 0, errnoFor(err)
	}
	return uint32(len(data)), 0
}

func (n *FSNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child := n.child(name)
	if err := n.eng.SetFile(child.path); err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	st, err := n.eng.GetNode(child.path)
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	fillAttr(&out.Attr, st)
	out.Attr.Ino = uint64(st.Node)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG, Ino: uint64(st.Node)}), nil, 0, 0
}

func (n *FSNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	if err := n.eng.SetDir(child.path); err != nil {
		return nil, errnoFor(err)
	}
	st, err := n.eng.GetNode(child.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttr(&out.Attr, st)
	out.Attr.Ino = uint64(st.Node)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR, Ino: uint64(st.Node)}), 0
}

func (n *FSNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	if err := n.eng.SetLink(child.path, target); err != nil {
		return nil, errnoFor(err)
	}
	st, err := n.eng.GetNode(child.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttr(&out.Attr, st)
	out.Attr.Ino = uint64(st.Node)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFLNK, Ino: uint64(st.Node)}), 0
}

func (n *FSNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := n.eng.GetLink(n.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	return []byte(target), 0
}

func (n *FSNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoFor(n.eng.DelNode(childPath(n.path, name)))
}

func (n *FSNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoFor(n.eng.DelNode(childPath(n.path, name)))
}

func (n *FSNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.EINVAL
	}
	newParentNode, ok := newParent.(*FSNode)
	if !ok {
		return syscall.EXDEV
	}
	from := childPath(n.path, name)
	to := childPath(newParentNode.path, newName)
	return errnoFor(n.eng.MoveNode(from, to))
}

func (n *FSNode) Fsync(ctx context.Context, f fs.FileHandle, flags uint32) syscall.Errno {
	return errnoFor(n.eng.Sync())
}

func (n *FSNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	status := n.eng.GetStatus()
	out.Bsize = uint32(status.BlockSize)
	out.Blocks = uint64(status.TotalBlocks)
	out.Bfree = uint64(status.FreeBlocks)
	out.Bavail = uint64(status.FreeBlocks)
	out.NameLen = uint32(status.NameMaxSize)
	return 0
}
