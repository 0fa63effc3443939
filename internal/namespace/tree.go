// Package namespace holds the in-memory model of the directory hierarchy:
// the single source of truth for resolve/readdir/rename semantics. The
// tree is acyclic and connected from one root by construction; structural
// mutations take the write lock, lookups share the read lock.
package namespace

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound reports an absent path.
	ErrNotFound = errors.New("path not found")
	// ErrExists reports a sibling name collision on create or rename.
	ErrExists = errors.New("path already exists")
	// ErrNotEmpty reports removal of a directory with children.
	ErrNotEmpty = errors.New("directory not empty")
	// ErrParentNotFound reports a create under a missing directory.
	ErrParentNotFound = errors.New("parent directory not found")
	// ErrNotDirectory reports a directory operation on a file.
	ErrNotDirectory = errors.New("not a directory")
	// ErrIsDirectory reports a file operation on a directory.
	ErrIsDirectory = errors.New("is a directory")
	// ErrInvalidRename reports a rename that would detach or cycle the tree.
	ErrInvalidRename = errors.New("invalid rename")
)

// Kind discriminates files from directories.
type Kind int

const (
	// File is a regular file node.
	File Kind = iota
	// Dir is a directory node.
	Dir
)

// Attr is a point-in-time snapshot of a node's attributes.
type Attr struct {
	Kind    Kind
	Size    int64 // logical plaintext size, files only
	ModTime time.Time
}

// DirEntry is one readdir result.
type DirEntry struct {
	Name string
	Kind Kind
}

type node struct {
	name     string
	kind     Kind
	size     int64
	mtime    time.Time
	parent   *node
	children []*node // insertion order
}

// Tree is the namespace model.
type Tree struct {
	mu     sync.RWMutex
	root   *node
	byPath map[string]*node
}

// NewTree creates a tree holding only the root directory.
func NewTree() *Tree {
	root := &node{name: "", kind: Dir, mtime: time.Now()}
	return &Tree{
		root:   root,
		byPath: map[string]*node{"/": root},
	}
}

// Stat resolves a path to its attributes.
func (t *Tree) Stat(path string) (Attr, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byPath[path]
	if !ok {
		return Attr{}, ErrNotFound
	}
	return Attr{Kind: n.kind, Size: n.size, ModTime: n.mtime}, nil
}

// Exists reports whether path resolves.
func (t *Tree) Exists(path string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byPath[path]
	return ok
}

// Create adds a file or directory node under its parent directory.
func (t *Tree) Create(path string, kind Kind) error {
	parentPath, name := Split(path)
	if name == "" {
		return ErrExists // the root always exists
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.byPath[parentPath]
	if !ok {
		return ErrParentNotFound
	}
	if parent.kind != Dir {
		return ErrNotDirectory
	}
	if _, ok := t.byPath[path]; ok {
		return ErrExists
	}

	n := &node{name: name, kind: kind, mtime: time.Now(), parent: parent}
	parent.children = append(parent.children, n)
	t.byPath[path] = n
	return nil
}

// Remove deletes a node. Directories must be empty.
func (t *Tree) Remove(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byPath[path]
	if !ok {
		return ErrNotFound
	}
	if n == t.root {
		return ErrNotEmpty
	}
	if n.kind == Dir && len(n.children) > 0 {
		return ErrNotEmpty
	}

	detach(n)
	delete(t.byPath, path)
	return nil
}

/// Rename moves a node to a new parent/name. It mutates only the tree:
// re-keying the remote chunk objects is the caller's job and must be
// durable before Rename is called.
func (t *Tree) Rename(from, to string) error {
	if from == to {
		return nil
	}
	if from == "/" || strings.HasPrefix(to, from+"/") {
		// moving the root, or moving a directory under itself
		return ErrInvalidRename
	}

	toParentPath, toName := Split(to)

	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byPath[from]
	if !ok {
		return ErrNotFound
	}
	if _, ok := t.byPath[to]; ok {
		return ErrExists
	}
	newParent, ok := t.byPath[toParentPath]
	if !ok {
		return ErrParentNotFound
	}
	if newParent.kind != Dir {
		return ErrNotDirectory
	}

	detach(n)
	n.name = toName
	n.parent = newParent
	n.mtime = time.Now()
	newParent.children = append(newParent.children, n)

	delete(t.byPath, from)
	for p := range t.byPath {
		if strings.HasPrefix(p, from+"/") {
			delete(t.byPath, p)
		}
	}
	t.reindex(n, to)
	return nil
}

// Children lists a directory's entries in insertion order.
func (t *Tree) Children(path string) ([]DirEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byPath[path]
	if !ok {
		return nil, ErrNotFound
	}
	if n.kind != Dir {
		return nil, ErrNotDirectory
	}

	entries := make([]DirEntry, 0, len(n.children))
	for _, child := range n.children {
		entries = append(entries, DirEntry{Name: child.name, Kind: child.kind})
	}
	return entries, nil
}

// SetSize updates a file's logical size and modification time.
func (t *Tree) SetSize(path string, size int64, mtime time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byPath[path]
	if !ok {
		return ErrNotFound
	}
	if n.kind != File {
		return ErrIsDirectory
	}
	n.size = size
	n.mtime = mtime
	return nil
}

// Touch updates a node's modification time.
func (t *Tree) Touch(path string, mtime time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byPath[path]
	if !ok {
		return ErrNotFound
	}
	n.mtime = mtime
	return nil
}

// EnsureDir creates a directory and any missing ancestors. Used when
// rebuilding the tree from a store listing, where marker objects may
// arrive in any order.
func (t *Tree) EnsureDir(path string) {
	if path == "/" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureDirLocked(path)
}

// EnsureFile creates a file node (and missing ancestor directories) with
// the given size. Repeat calls keep the larger size, so chunk listing
// entries can be applied in any order.
func (t *Tree) EnsureFile(path string, size int64, mtime time.Time) {
	parentPath, name := Split(path)
	if name == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n, ok := t.byPath[path]; ok {
		if n.kind == File && size > n.size {
			n.size = size
		}
		return
	}

	parent := t.ensureDirLocked(parentPath)
	n := &node{name: name, kind: File, size: size, mtime: mtime, parent: parent}
	parent.children = append(parent.children, n)
	t.byPath[path] = n
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byPath)
}

// Walk visits every path in the tree. The callback must not mutate the tree.
func (t *Tree) Walk(fn func(path string, attr Attr)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for path, n := range t.byPath {
		fn(path, Attr{Kind: n.kind, Size: n.size, ModTime: n.mtime})
	}
}

func (t *Tree) ensureDirLocked(path string) *node {
	if path == "/" {
		return t.root
	}
	if n, ok := t.byPath[path]; ok {
		return n
	}
	parentPath, name := Split(path)
	parent := t.ensureDirLocked(parentPath)
	n := &node{name: name, kind: Dir, mtime: time.Now(), parent: parent}
	parent.children = append(parent.children, n)
	t.byPath[path] = n
	return n
}

// reindex inserts byPath entries for a moved subtree.
func (t *Tree) reindex(n *node, path string) {
	t.byPath[path] = n
	for _, child := range n.children {
		t.reindex(child, Join(path, child.name))
	}
}

func detach(n *node) {
	siblings := n.parent.children
	for i, s := range siblings {
		if s == n {
			n.parent.children = append(siblings[:i], siblings[i+1:]...)
			return
		}
	}
}

// Split returns a path's parent directory and final name.
// Split("/a/b") = ("/a", "b"); Split("/a") = ("/", "a"); Split("/") = ("/", "").
func Split(path string) (parent, name string) {
	if path == "/" {
		return "/", ""
	}
	i := strings.LastIndex(path, "/")
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

// Join builds a child path from parent + name.
func Join(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
