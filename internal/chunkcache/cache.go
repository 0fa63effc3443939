// Package chunkcache holds decrypted file chunks in a bounded in-memory
// cache with dirty tracking and least-recently-used eviction. It is the
// only component that talks to the object store: every network call goes
// through here, wrapped in bounded-backoff retry. The cache lock guards
// bookkeeping only and is never held across a network call.
package chunkcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SmitBdangar/AegisFS/internal/crypto"
	"github.com/SmitBdangar/AegisFS/internal/keymap"
	"github.com/SmitBdangar/AegisFS/internal/logging"
	"github.com/SmitBdangar/AegisFS/internal/metrics"
	"github.com/SmitBdangar/AegisFS/internal/retry"
	"github.com/SmitBdangar/AegisFS/internal/store"
)

type chunkID struct {
	path  string
	index uint32
}

type chunk struct {
	data       []byte
	dirty      bool
	gen        uint64 // write generation of the last persisted record
	lastAccess time.Time
}

// Cache is the bounded chunk cache.
type Cache struct {
	store    store.Client
	codec    *crypto.Codec
	keys     *keymap.Mapper
	budget   int64
	retryCfg retry.Config

	mu     sync.Mutex
	chunks map[chunkID]*chunk
	size   int64
}

// New creates a cache with the given plaintext byte budget.
func New(client store.Client, codec *crypto.Codec, keys *keymap.Mapper, budget int64, retryCfg retry.Config) *Cache {
	return &Cache{
		store:    client,
		codec:    codec,
		keys:     keys,
		budget:   budget,
		retryCfg: retryCfg,
		chunks:   make(map[chunkID]*chunk),
	}
}

// Get returns the plaintext of one chunk, fetching and decrypting it on a
// miss. store.ErrNotFound means no object exists for this index (a hole
// or end of file); crypto.ErrAuthentication is surfaced as-is and must be
// treated as a hard I/O error by callers. The returned slice is owned by
// the cache and must not be modified.
func (c *Cache) Get(ctx context.Context, path string, index uint32) ([]byte, error) {
	data, _, err := c.getWithGen(ctx, path, index)
	return data, err
}

// getWithGen is Get plus the chunk's write generation, read in the same
// critical section as the data so eviction between the two cannot hand
// back a stale generation.
func (c *Cache) getWithGen(ctx context.Context, path string, index uint32) ([]byte, uint64, error) {
	id := chunkID{path, index}

	c.mu.Lock()
	if ch, ok := c.chunks[id]; ok {
		ch.lastAccess = time.Now()
		data, gen := ch.data, ch.gen
		c.mu.Unlock()
		metrics.RecordCacheHit()
		return data, gen, nil
	}
	c.mu.Unlock()
	metrics.RecordCacheMiss()

	key := c.keys.ChunkKey(path, index)
	record, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]byte, error) {
		return c.store.Get(ctx, key)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, fmt.Errorf("fetch chunk %s[%d]: %w", path, index, err)
	}

	data, gen, err := c.codec.Decrypt(path, index, record)
	if err != nil {
		metrics.RecordAuthFailure()
		return nil, 0, fmt.Errorf("decrypt chunk %s[%d]: %w", path, index, err)
	}
	metrics.RecordDecrypt()

	c.mu.Lock()
	if ch, ok := c.chunks[id]; ok {
		// lost a benign race with another fetch of the same chunk
		ch.lastAccess = time.Now()
		data, gen = ch.data, ch.gen
		c.mu.Unlock()
		return data, gen, nil
	}
	c.chunks[id] = &chunk{data: data, gen: gen, lastAccess: time.Now()}
	c.size += int64(len(data))
	c.evictLocked()
	metrics.SetCacheBytes(c.size)
	c.mu.Unlock()

	return data, gen, nil
}

// Put replaces a chunk's plaintext and marks it dirty. The write
// generation carries over from any prior fetched state of the same
// chunk, so the next flush encrypts under a fresh generation.
func (c *Cache) Put(path string, index uint32, data []byte) {
	id := chunkID{path, index}
	copied := append([]byte(nil), data...)

	c.mu.Lock()
	if ch, ok := c.chunks[id]; ok {
		c.size += int64(len(copied)) - int64(len(ch.data))
		ch.data = copied
		ch.dirty = true
		ch.lastAccess = time.Now()
	} else {
		c.chunks[id] = &chunk{data: copied, dirty: true, lastAccess: time.Now()}
		c.size += int64(len(copied))
	}
	c.evictLocked()
	metrics.SetCacheBytes(c.size)
	c.mu.Unlock()
}

// Flush encrypts and uploads all dirty chunks of one path in ascending
// index order, then clears their dirty flags. The caller must hold the
// path's lock so no write lands between snapshot and acknowledgement.
func (c *Cache) Flush(ctx context.Context, path string) error {
	type pending struct {
		index uint32
		data  []byte
		gen   uint64
	}

	c.mu.Lock()
	var dirty []pending
	for id, ch := range c.chunks {
		if id.path == path && ch.dirty {
			dirty = append(dirty, pending{index: id.index, data: ch.data, gen: ch.gen})
		}
	}
	c.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].index < dirty[j].index })

	for _, p := range dirty {
		gen := p.gen + 1
		record, err := c.codec.Encrypt(path, p.index, gen, p.data)
		if err != nil {
			return fmt.Errorf("encrypt chunk %s[%d]: %w", path, p.index, err)
		}
		metrics.RecordEncrypt()

		key := c.keys.ChunkKey(path, p.index)
		err = retry.Do(ctx, c.retryCfg, func() error {
			return c.store.Put(ctx, key, record)
		})
		if err != nil {
			return fmt.Errorf("upload chunk %s[%d]: %w", path, p.index, err)
		}

		c.mu.Lock()
		if ch, ok := c.chunks[chunkID{path, p.index}]; ok {
			ch.gen = gen
			ch.dirty = false
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.evictLocked()
	metrics.SetCacheBytes(c.size)
	c.mu.Unlock()

	logging.Debug("flushed dirty chunks", zap.String("path", path), zap.Int("chunks", len(dirty)))
	return nil
}

// DirtyPaths returns every path with at least one dirty chunk.
func (c *Cache) DirtyPaths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{})
	for id, ch := range c.chunks {
		if ch.dirty {
			seen[id.path] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// EvictOverBudget removes clean least-recently-used chunks until the
// cached byte total is within budget. Dirty chunks are never evicted.
func (c *Cache) EvictOverBudget() {
	c.mu.Lock()
	c.evictLocked()
	metrics.SetCacheBytes(c.size)
	c.mu.Unlock()
}

// evictLocked implements the eviction policy. Must be called with the
// lock held.
func (c *Cache) evictLocked() {
	for c.size > c.budget {
		var oldest *chunk
		var oldestID chunkID
		for id, ch := range c.chunks {
			if ch.dirty {
				continue
			}
			if oldest == nil || ch.lastAccess.Before(oldest.lastAccess) {
				oldest = ch
				oldestID = id
			}
		}
		if oldest == nil {
			return // everything dirty; flush will make room
		}
		c.size -= int64(len(oldest.data))
		delete(c.chunks, oldestID)
		metrics.RecordCacheEviction()
	}
}

// Forget drops all in-memory chunks of one path without touching the
// store.
func (c *Cache) Forget(path string) {
	c.mu.Lock()
	for id, ch := range c.chunks {
		if id.path == path {
			c.size -= int64(len(ch.data))
			delete(c.chunks, id)
		}
	}
	metrics.SetCacheBytes(c.size)
	c.mu.Unlock()
}

// DropTail deletes chunk objects with index >= from, both remotely and
// in memory. Used by truncate.
func (c *Cache) DropTail(ctx context.Context, path string, from uint32) error {
	prefix := c.keys.FilePrefix(path)
	infos, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]store.ObjectInfo, error) {
		return c.store.List(ctx, prefix)
	})
	if err != nil {
		return fmt.Errorf("list chunks %s: %w", path, err)
	}

	for _, info := range infos {
		entry, ok := c.keys.Parse(info.Key)
		if !ok || entry.Kind != keymap.KindChunk || entry.Index < from {
			continue
		}
		key := info.Key
		err := retry.Do(ctx, c.retryCfg, func() error {
			return c.store.Delete(ctx, key)
		})
		if err != nil {
			return fmt.Errorf("delete chunk %s[%d]: %w", path, entry.Index, err)
		}
	}

	c.mu.Lock()
	for id, ch := range c.chunks {
		if id.path == path && id.index >= from {
			c.size -= int64(len(ch.data))
			delete(c.chunks, id)
		}
	}
	metrics.SetCacheBytes(c.size)
	c.mu.Unlock()
	return nil
}

// Remove deletes every chunk object of a path. Used by unlink.
func (c *Cache) Remove(ctx context.Context, path string) error {
	if err := c.DropTail(ctx, path, 0); err != nil {
		return err
	}
	c.Forget(path)
	return nil
}

// Rekey re-encrypts every chunk of a file under a new path and uploads
// the result. Ciphertext is bound to its path, so a rename cannot use a
// server-side copy: each chunk is fetched, decrypted, and sealed again
// under the destination identity. The source objects are left intact;
// the caller deletes them only after the whole re-key succeeds. The
// caller must have flushed the source path first.
func (c *Cache) Rekey(ctx context.Context, from, to string, count uint32) error {
	for index := uint32(0); index < count; index++ {
		data, gen, err := c.getWithGen(ctx, from, index)
		if errors.Is(err, store.ErrNotFound) {
			continue // hole
		}
		if err != nil {
			return err
		}

		// Bump past the source generation in case an interrupted earlier
		// rename left an orphan record at the destination key.
		newGen := gen + 1
		record, err := c.codec.Encrypt(to, index, newGen, data)
		if err != nil {
			return fmt.Errorf("re-encrypt chunk %s[%d]: %w", to, index, err)
		}
		metrics.RecordEncrypt()

		key := c.keys.ChunkKey(to, index)
		err = retry.Do(ctx, c.retryCfg, func() error {
			return c.store.Put(ctx, key, record)
		})
		if err != nil {
			return fmt.Errorf("upload re-keyed chunk %s[%d]: %w", to, index, err)
		}

		c.mu.Lock()
		if ch, ok := c.chunks[chunkID{from, index}]; ok && !ch.dirty {
			delete(c.chunks, chunkID{from, index})
			c.chunks[chunkID{to, index}] = &chunk{
				data:       ch.data,
				gen:        newGen,
				lastAccess: time.Now(),
			}
		}
		c.mu.Unlock()
	}
	return nil
}

// PutMarker uploads the zero-length directory marker object.
func (c *Cache) PutMarker(ctx context.Context, dir string) error {
	key := c.keys.MarkerKey(dir)
	err := retry.Do(ctx, c.retryCfg, func() error {
		return c.store.Put(ctx, key, nil)
	})
	if err != nil {
		return fmt.Errorf("put directory marker %s: %w", dir, err)
	}
	return nil
}

// DeleteMarker removes the directory marker object.
func (c *Cache) DeleteMarker(ctx context.Context, dir string) error {
	key := c.keys.MarkerKey(dir)
	err := retry.Do(ctx, c.retryCfg, func() error {
		return c.store.Delete(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("delete directory marker %s: %w", dir, err)
	}
	return nil
}

// ListAll lists every object under the configured prefix, for mount-time
// tree construction.
func (c *Cache) ListAll(ctx context.Context) ([]store.ObjectInfo, error) {
	infos, err := retry.DoWithResult(ctx, c.retryCfg, func() ([]store.ObjectInfo, error) {
		return c.store.List(ctx, c.keys.Prefix())
	})
	if err != nil {
		return nil, fmt.Errorf("list store: %w", err)
	}
	return infos, nil
}

// Stats returns current cached bytes, the budget, and the chunk count.
func (c *Cache) Stats() (size, budget int64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size, c.budget, len(c.chunks)
}
