// Package engine dispatches filesystem operations: it validates them
// against the namespace tree and orchestrates chunk cache calls to
// satisfy reads, writes, and structural changes. It owns the open-handle
// table and the per-path locking discipline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SmitBdangar/AegisFS/internal/chunkcache"
	"github.com/SmitBdangar/AegisFS/internal/crypto"
	"github.com/SmitBdangar/AegisFS/internal/keymap"
	"github.com/SmitBdangar/AegisFS/internal/logging"
	"github.com/SmitBdangar/AegisFS/internal/metrics"
	"github.com/SmitBdangar/AegisFS/internal/namespace"
	"github.com/SmitBdangar/AegisFS/internal/store"
)

// ErrBadHandle reports an operation on an unknown handle ID.
var ErrBadHandle = errors.New("invalid file handle")

// Engine is the filesystem operation dispatcher for one mount session.
type Engine struct {
	tree      *namespace.Tree
	cache     *chunkcache.Cache
	keys      *keymap.Mapper
	chunkSize int64

	locks pathLocks

	hmu     sync.Mutex
	handles map[uint64]string // handle ID -> path
	nextID  uint64
}

// New creates an engine over an empty namespace. Call Bootstrap to
// populate the tree from the store.
func New(cache *chunkcache.Cache, keys *keymap.Mapper, chunkSize int) *Engine {
	return &Engine{
		tree:      namespace.NewTree(),
		cache:     cache,
		keys:      keys,
		chunkSize: int64(chunkSize),
		locks:     pathLocks{m: make(map[string]*pathLock)},
		handles:   make(map[uint64]string),
	}
}

// Bootstrap rebuilds the namespace tree from a full store listing.
// Marker objects become directories; chunk objects become files whose
// size is recovered from the highest chunk index and the last record's
// stored length. Keys that parse to neither shape are skipped.
func (e *Engine) Bootstrap(ctx context.Context) error {
	infos, err := e.cache.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap listing: %w", err)
	}

	type fileState struct {
		lastIndex      uint32
		lastRecordSize int64
	}
	files := make(map[string]*fileState)

	for _, info := range infos {
		entry, ok := e.keys.Parse(info.Key)
		if !ok {
			logging.Debug("skipping unrecognized key", zap.String("key", info.Key))
			continue
		}
		switch entry.Kind {
		case keymap.KindMarker:
			e.tree.EnsureDir(entry.Path)
		case keymap.KindChunk:
			st, ok := files[entry.Path]
			if !ok {
				st = &fileState{}
				files[entry.Path] = st
			}
			if entry.Index >= st.lastIndex {
				st.lastIndex = entry.Index
				st.lastRecordSize = info.Size
			}
		}
	}

	now := time.Now()
	for path, st := range files {
		size := int64(st.lastIndex)*e.chunkSize + crypto.PlaintextLen(st.lastRecordSize)
		e.tree.EnsureFile(path, size, now)
	}

	logging.Info("namespace rebuilt from store",
		zap.Int("objects", len(infos)),
		zap.Int("nodes", e.tree.Len()))
	return nil
}

// Getattr resolves a path to its attributes.
func (e *Engine) Getattr(path string) (namespace.Attr, error) {
	return e.tree.Stat(path)
}

// Readdir lists a directory's entries.
func (e *Engine) Readdir(path string) ([]namespace.DirEntry, error) {
	return e.tree.Children(path)
}

// Open allocates a handle for an existing file.
func (e *Engine) Open(path string) (uint64, error) {
	attr, err := e.tree.Stat(path)
	if err != nil {
		return 0, err
	}
	if attr.Kind != namespace.File {
		return 0, namespace.ErrIsDirectory
	}
	return e.newHandle(path), nil
}

// Create adds a file node and allocates a handle for it. An empty chunk
// record is staged so the file survives a remount even if never written.
func (e *Engine) Create(path string) (uint64, error) {
	if err := e.tree.Create(path, namespace.File); err != nil {
		return 0, err
	}
	e.cache.Put(path, 0, nil)
	metrics.RecordFSOperation("create", true)
	return e.newHandle(path), nil
}

// Read returns up to length bytes at offset. Fewer bytes come back only
// at end of file. Chunks absent from the store within the file's size
// are holes and read as zeros.
func (e *Engine) Read(ctx context.Context, handle uint64, offset, length int64) ([]byte, error) {
	path, err := e.handlePath(handle)
	if err != nil {
		return nil, err
	}

	unlock := e.locks.lock(path)
	defer unlock()

	attr, err := e.tree.Stat(path)
	if err != nil {
		return nil, err
	}
	if offset >= attr.Size || length <= 0 {
		return nil, nil
	}
	if offset+length > attr.Size {
		length = attr.Size - offset
	}

	out := make([]byte, length)
	for filled := int64(0); filled < length; {
		pos := offset + filled
		index := uint32(pos / e.chunkSize)
		within := pos % e.chunkSize
		n := e.chunkSize - within
		if n > length-filled {
			n = length - filled
		}

		data, err := e.cache.Get(ctx, path, index)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			metrics.RecordFSOperation("read", false)
			return nil, err
		}
		// Holes and short final chunks both zero-fill: out is already zeroed.
		if within < int64(len(data)) {
			copy(out[filled:filled+n], data[within:])
		}
		filled += n
	}

	metrics.RecordFSOperation("read", true)
	metrics.RecordBytesRead(len(out))
	return out, nil
}

// Write merges data into the covered chunks at offset, extending the
// file's logical size if it writes past the current end. A write beyond
// the end zero-fills the gap implicitly: unwritten chunks stay holes and
// read as zeros.
func (e *Engine) Write(ctx context.Context, handle uint64, offset int64, data []byte) (int, error) {
	path, err := e.handlePath(handle)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	unlock := e.locks.lock(path)
	defer unlock()

	attr, err := e.tree.Stat(path)
	if err != nil {
		return 0, err
	}

	for written := 0; written < len(data); {
		pos := offset + int64(written)
		index := uint32(pos / e.chunkSize)
		within := pos % e.chunkSize
		n := e.chunkSize - within
		if n > int64(len(data)-written) {
			n = int64(len(data) - written)
		}

		merged, err := e.mergeChunk(ctx, path, index, within, data[written:written+int(n)])
		if err != nil {
			metrics.RecordFSOperation("write", false)
			return written, err
		}
		e.cache.Put(path, index, merged)
		written += int(n)
	}

	newSize := attr.Size
	if end := offset + int64(len(data)); end > newSize {
		newSize = end
	}
	if err := e.tree.SetSize(path, newSize, time.Now()); err != nil {
		return len(data), err
	}

	metrics.RecordFSOperation("write", true)
	metrics.RecordBytesWritten(len(data))
	return len(data), nil
}

// mergeChunk builds the new plaintext of one chunk: existing content
// (zeros where absent or short), with data spliced in at within.
func (e *Engine) mergeChunk(ctx context.Context, path string, index uint32, within int64, data []byte) ([]byte, error) {
	base, err := e.cache.Get(ctx, path, index)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	end := within + int64(len(data))
	if int64(len(base)) > end {
		end = int64(len(base))
	}
	merged := make([]byte, end)
	copy(merged, base)
	copy(merged[within:], data)
	return merged, nil
}

// Truncate changes a file's logical size. The final retained chunk is
// rewritten at exactly its new in-chunk length, trimming on shrink and
// zero-padding over holes and growth, so the size is always recoverable
// from a store listing. Shrinking additionally drops the trailing chunk
// objects; chunks before the last are untouched and absent ones keep
// reading as zeros.
func (e *Engine) Truncate(ctx context.Context, path string, size int64) error {
	unlock := e.locks.lock(path)
	defer unlock()

	attr, err := e.tree.Stat(path)
	if err != nil {
		return err
	}
	if attr.Kind != namespace.File {
		return namespace.ErrIsDirectory
	}

	if size != attr.Size {
		var lastIndex uint32
		if size > 0 {
			lastIndex = uint32((size - 1) / e.chunkSize)
		}
		keep := size - int64(lastIndex)*e.chunkSize

		data, err := e.cache.Get(ctx, path, lastIndex)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			metrics.RecordFSOperation("truncate", false)
			return err
		}
		final := make([]byte, keep)
		copy(final, data)
		e.cache.Put(path, lastIndex, final)

		if size < attr.Size {
			if err := e.cache.DropTail(ctx, path, lastIndex+1); err != nil {
				metrics.RecordFSOperation("truncate", false)
				return err
			}
		}
	}

	if err := e.tree.SetSize(path, size, time.Now()); err != nil {
		return err
	}
	metrics.RecordFSOperation("truncate", true)
	return nil
}

// Touch updates a node's modification time.
func (e *Engine) Touch(path string, mtime time.Time) error {
	return e.tree.Touch(path, mtime)
}

// Flush persists all dirty chunks of a handle's path.
func (e *Engine) Flush(ctx context.Context, handle uint64) error {
	path, err := e.handlePath(handle)
	if err != nil {
		return err
	}

	unlock := e.locks.lock(path)
	defer unlock()

	if err := e.cache.Flush(ctx, path); err != nil {
		metrics.RecordFSOperation("flush", false)
		return err
	}
	metrics.RecordFSOperation("flush", true)
	return nil
}

// Release flushes and destroys a handle. On flush failure the handle
// survives so the caller can retry or Discard.
func (e *Engine) Release(ctx context.Context, handle uint64) error {
	if err := e.Flush(ctx, handle); err != nil {
		return err
	}
	e.dropHandle(handle)
	return nil
}

// Discard destroys a handle without flushing. Chunks already uploaded
// stay valid; unflushed writes are lost.
func (e *Engine) Discard(handle uint64) {
	e.dropHandle(handle)
}

// Mkdir creates a directory node and its marker object. The marker is
// made durable before the operation returns; if the upload fails, the
// node is rolled back.
func (e *Engine) Mkdir(ctx context.Context, path string) error {
	if err := e.tree.Create(path, namespace.Dir); err != nil {
		return err
	}
	if err := e.cache.PutMarker(ctx, path); err != nil {
		e.tree.Remove(path)
		metrics.RecordFSOperation("mkdir", false)
		return err
	}
	metrics.RecordFSOperation("mkdir", true)
	return nil
}

// Rmdir removes an empty directory and its marker object. The tree
// removal goes first: its not-empty guard is atomic, so a create racing
// in cannot be left pointing at a directory whose marker is already
// gone. If the marker delete then fails, the node is restored; the
// remaining crash window leaves only a stale marker, which harmlessly
// resurrects the empty directory on remount.
func (e *Engine) Rmdir(ctx context.Context, path string) error {
	attr, err := e.tree.Stat(path)
	if err != nil {
		return err
	}
	if attr.Kind != namespace.Dir {
		return namespace.ErrNotDirectory
	}

	if err := e.tree.Remove(path); err != nil {
		return err
	}
	if err := e.cache.DeleteMarker(ctx, path); err != nil {
		e.tree.Create(path, namespace.Dir)
		metrics.RecordFSOperation("rmdir", false)
		return err
	}
	metrics.RecordFSOperation("rmdir", true)
	return nil
}

// Unlink deletes a file: every chunk object, then the node.
func (e *Engine) Unlink(ctx context.Context, path string) error {
	attr, err := e.tree.Stat(path)
	if err != nil {
		return err
	}
	if attr.Kind != namespace.File {
		return namespace.ErrIsDirectory
	}

	unlock := e.locks.lock(path)
	defer unlock()

	if err := e.cache.Remove(ctx, path); err != nil {
		metrics.RecordFSOperation("unlink", false)
		return err
	}
	if err := e.tree.Remove(path); err != nil {
		return err
	}
	metrics.RecordFSOperation("unlink", true)
	return nil
}

// Rename moves a node. Ciphertext is bound to its path, so every chunk
// under the source is re-encrypted at the destination key before the
// tree mutation commits; the source objects are deleted last. An
// interrupted rename leaves the source fully intact; destination keys
// already written are orphans, overwritten or collected by a later
// rename to the same name.
func (e *Engine) Rename(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}

	if from == "/" || strings.HasPrefix(to, from+"/") {
		return namespace.ErrInvalidRename
	}
	attr, err := e.tree.Stat(from)
	if err != nil {
		return err
	}
	if e.tree.Exists(to) {
		return namespace.ErrExists
	}
	toParent, _ := namespace.Split(to)
	parentAttr, err := e.tree.Stat(toParent)
	if err != nil {
		return namespace.ErrParentNotFound
	}
	if parentAttr.Kind != namespace.Dir {
		return namespace.ErrNotDirectory
	}

	// Collect the affected paths up front: the node itself, plus the
	// whole subtree for a directory.
	type move struct {
		from, to string
		attr     namespace.Attr
	}
	moves := []move{{from, to, attr}}
	if attr.Kind == namespace.Dir {
		prefix := from + "/"
		e.tree.Walk(func(p string, a namespace.Attr) {
			if strings.HasPrefix(p, prefix) {
				moves = append(moves, move{p, to + p[len(from):], a})
			}
		})
		sort.Slice(moves, func(i, j int) bool { return moves[i].from < moves[j].from })
	}

	// Every source path and the destination stay locked for the whole
	// copy and commit, so writes to a descendant wait instead of racing
	// the flush and re-key below.
	locked := make([]string, 0, len(moves)+1)
	locked = append(locked, to)
	for _, m := range moves {
		locked = append(locked, m.from)
	}
	unlock := e.locks.lockAll(locked)
	defer unlock()

	// Sizes may have advanced while the locks were being acquired.
	for i := range moves {
		a, err := e.tree.Stat(moves[i].from)
		if err != nil {
			return err
		}
		moves[i].attr = a
	}

	// Phase 1: make the destination durable.
	for _, m := range moves {
		switch m.attr.Kind {
		case namespace.Dir:
			if err := e.cache.PutMarker(ctx, m.to); err != nil {
				metrics.RecordFSOperation("rename", false)
				return err
			}
		case namespace.File:
			if err := e.cache.Flush(ctx, m.from); err != nil {
				metrics.RecordFSOperation("rename", false)
				return err
			}
			if err := e.cache.Rekey(ctx, m.from, m.to, e.chunkCount(m.attr.Size)); err != nil {
				metrics.RecordFSOperation("rename", false)
				return err
			}
		}
	}

	// Phase 2: commit the tree mutation.
	if err := e.tree.Rename(from, to); err != nil {
		metrics.RecordFSOperation("rename", false)
		return err
	}

	// Phase 3: drop the source objects. Failures here leave harmless
	// stale keys; the destination is already complete.
	for _, m := range moves {
		switch m.attr.Kind {
		case namespace.Dir:
			if err := e.cache.DeleteMarker(ctx, m.from); err != nil {
				logging.Warn("stale marker left after rename",
					zap.String("path", m.from), zap.Error(err))
			}
		case namespace.File:
			if err := e.cache.Remove(ctx, m.from); err != nil {
				logging.Warn("stale chunks left after rename",
					zap.String("path", m.from), zap.Error(err))
			}
		}
	}

	metrics.RecordFSOperation("rename", true)
	return nil
}

// Close flushes every path with dirty chunks. Called at unmount.
func (e *Engine) Close(ctx context.Context) error {
	var firstErr error
	for _, path := range e.cache.DirtyPaths() {
		unlock := e.locks.lock(path)
		err := e.cache.Flush(ctx, path)
		unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// chunkCount returns how many chunk slots a file of the given size may
// occupy. Empty files still hold their zero-length chunk 0 record.
func (e *Engine) chunkCount(size int64) uint32 {
	if size == 0 {
		return 1
	}
	return uint32((size + e.chunkSize - 1) / e.chunkSize)
}

func (e *Engine) newHandle(path string) uint64 {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.nextID++
	e.handles[e.nextID] = path
	return e.nextID
}

func (e *Engine) handlePath(handle uint64) (string, error) {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	path, ok := e.handles[handle]
	if !ok {
		return "", ErrBadHandle
	}
	return path, nil
}

func (e *Engine) dropHandle(handle uint64) {
	e.hmu.Lock()
	delete(e.handles, handle)
	e.hmu.Unlock()
}

// pathLocks hands out one mutex per active path. Entries are reference
// counted and removed when the last holder unlocks.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func (l *pathLocks) lock(path string) (unlock func()) {
	l.mu.Lock()
	pl, ok := l.m[path]
	if !ok {
		pl = &pathLock{}
		l.m[path] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.m, path)
		}
		l.mu.Unlock()
	}
}

// lockAll acquires the given path locks in one global order so
// concurrent multi-path holders cannot deadlock each other. Duplicates
// are collapsed.
func (l *pathLocks) lockAll(paths []string) (unlock func()) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for i, p := range sorted {
		if i > 0 && p == sorted[i-1] {
			continue
		}
		unlocks = append(unlocks, l.lock(p))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
