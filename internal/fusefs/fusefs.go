// Package fusefs binds the engine to the kernel FUSE interface. It
// translates between OS-native operation shapes and the engine's
// path-based contract, and maps internal errors onto errnos.
package fusefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/SmitBdangar/AegisFS/internal/crypto"
	"github.com/SmitBdangar/AegisFS/internal/engine"
	"github.com/SmitBdangar/AegisFS/internal/logging"
	"github.com/SmitBdangar/AegisFS/internal/namespace"
	"github.com/SmitBdangar/AegisFS/internal/store"
)

// Node represents one file or directory in the mounted tree. Its path is
// derived from its position under the root, so renames handled through
// the kernel keep nodes and engine paths consistent.
type Node struct {
	fs.Inode

	eng *engine.Engine
}

// Handle is one open file.
type Handle struct {
	node *Node
	id   uint64
}

// Ensure the kernel-facing interfaces are implemented.
var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)
var _ fs.NodeWriter = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)
var _ fs.NodeFlusher = (*Node)(nil)
var _ fs.NodeReleaser = (*Node)(nil)

var _ fs.FileHandle = (*Handle)(nil)

// Mount mounts the engine at mountPoint and returns the FUSE server.
func Mount(eng *engine.Engine, mountPoint string, debug bool) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	root := &Node{eng: eng}

	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: false,
			Debug:      debug,
			FsName:     "aegisfs",
			Name:       "aegisfs",
		},
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
	}

	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return server, nil
}

// path returns the node's absolute engine path.
func (n *Node) path() string {
	return "/" + n.Path(n.Root())
}

// errno maps engine and store errors to errnos.
func errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, namespace.ErrNotFound), errors.Is(err, store.ErrNotFound),
		errors.Is(err, namespace.ErrParentNotFound):
		return syscall.ENOENT
	case errors.Is(err, namespace.ErrExists):
		return syscall.EEXIST
	case errors.Is(err, namespace.ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, namespace.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, namespace.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, namespace.ErrInvalidRename):
		return syscall.EINVAL
	case errors.Is(err, engine.ErrBadHandle):
		return syscall.EBADF
	case errors.Is(err, crypto.ErrAuthentication):
		// Tampered or corrupt ciphertext is a hard I/O error, never
		// zeros or stale data.
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

func fillAttr(attr namespace.Attr, out *gofuse.Attr) {
	if attr.Kind == namespace.Dir {
		out.Mode = 0755 | syscall.S_IFDIR
	} else {
		out.Mode = 0644 | syscall.S_IFREG
	}
	out.Size = uint64(attr.Size)
	out.Mtime = uint64(attr.ModTime.Unix())
	out.Atime = out.Mtime
	out.Ctime = out.Mtime
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
}

// Getattr returns file attributes.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	attr, err := n.eng.Getattr(n.path())
	if err != nil {
		return errno(err)
	}
	fillAttr(attr, &out.Attr)
	return 0
}

// Lookup finds a child by name.
func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := namespace.Join(n.path(), name)
	attr, err := n.eng.Getattr(childPath)
	if err != nil {
		return nil, errno(err)
	}
	fillAttr(attr, &out.Attr)

	child := &Node{eng: n.eng}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode}), 0
}

// Readdir lists directory contents.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children, err := n.eng.Readdir(n.path())
	if err != nil {
		return nil, errno(err)
	}

	entries := make([]gofuse.DirEntry, 0, len(children))
	for _, child := range children {
		mode := uint32(syscall.S_IFREG)
		if child.Kind == namespace.Dir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, gofuse.DirEntry{Name: child.Name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

// Open allocates an engine handle for an existing file.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	path := n.path()

	id, err := n.eng.Open(path)
	if err != nil {
		return nil, 0, errno(err)
	}
	if flags&syscall.O_TRUNC != 0 {
		if err := n.eng.Truncate(ctx, path, 0); err != nil {
			n.eng.Discard(id)
			return nil, 0, errno(err)
		}
	}
	return &Handle{node: n, id: id}, 0, 0
}

// Create adds a file and opens it.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := namespace.Join(n.path(), name)

	id, err := n.eng.Create(childPath)
	if err != nil {
		return nil, nil, 0, errno(err)
	}

	attr, err := n.eng.Getattr(childPath)
	if err != nil {
		n.eng.Discard(id)
		return nil, nil, 0, errno(err)
	}
	fillAttr(attr, &out.Attr)

	child := &Node{eng: n.eng}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode})
	return inode, &Handle{node: child, id: id}, 0, 0
}

// Read serves file content through the engine.
func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	h, ok := fh.(*Handle)
	if !ok {
		return nil, syscall.EIO
	}

	data, err := n.eng.Read(ctx, h.id, off, int64(len(dest)))
	if err != nil {
		logging.Error("read failed", zap.String("path", n.path()), zap.Error(err))
		return nil, errno(err)
	}
	return gofuse.ReadResultData(data), 0
}

// Write stores data through the engine.
func (n *Node) Write(ctx context.Context, fh fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	h, ok := fh.(*Handle)
	if !ok {
		return 0, syscall.EIO
	}

	written, err := n.eng.Write(ctx, h.id, off, data)
	if err != nil {
		logging.Error("write failed", zap.String("path", n.path()), zap.Error(err))
		return uint32(written), errno(err)
	}
	return uint32(written), 0
}

// Flush persists the handle's dirty chunks.
func (n *Node) Flush(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	h, ok := fh.(*Handle)
	if !ok {
		return syscall.EIO
	}
	if err := n.eng.Flush(ctx, h.id); err != nil {
		logging.Error("flush failed", zap.String("path", n.path()), zap.Error(err))
		return errno(err)
	}
	return 0
}

// Release flushes and destroys the handle.
func (n *Node) Release(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	h, ok := fh.(*Handle)
	if !ok {
		return syscall.EIO
	}
	if err := n.eng.Release(ctx, h.id); err != nil {
		logging.Error("release flush failed", zap.String("path", n.path()), zap.Error(err))
		// The kernel will not retry release; drop the handle rather
		// than leak it.
		n.eng.Discard(h.id)
		return errno(err)
	}
	return 0
}

// Mkdir creates a directory.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := namespace.Join(n.path(), name)

	if err := n.eng.Mkdir(ctx, childPath); err != nil {
		return nil, errno(err)
	}

	attr, err := n.eng.Getattr(childPath)
	if err != nil {
		return nil, errno(err)
	}
	fillAttr(attr, &out.Attr)

	child := &Node{eng: n.eng}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: out.Attr.Mode}), 0
}

// Unlink removes a file.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errno(n.eng.Unlink(ctx, namespace.Join(n.path(), name)))
}

// Rmdir removes an empty directory.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errno(n.eng.Rmdir(ctx, namespace.Join(n.path(), name)))
}

// Setattr handles truncate and mtime changes.
func (n *Node) Setattr(ctx context.Context, fh fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	path := n.path()

	if sz, ok := in.GetSize(); ok {
		if err := n.eng.Truncate(ctx, path, int64(sz)); err != nil {
			return errno(err)
		}
	}
	if mtime, ok := in.GetMTime(); ok {
		if err := n.eng.Touch(path, mtime); err != nil {
			return errno(err)
		}
	} else if _, ok := in.GetSize(); ok {
		n.eng.Touch(path, time.Now())
	}

	return n.Getattr(ctx, fh, out)
}

// Rename moves a file or directory.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*Node)
	if !ok {
		return syscall.EIO
	}

	from := namespace.Join(n.path(), name)
	to := namespace.Join(np.path(), newName)
	return errno(n.eng.Rename(ctx, from, to))
}
