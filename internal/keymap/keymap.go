// Package keymap maps hierarchical filesystem paths onto the flat key
// space of the object store. The mapping is a pure function of path plus
// a configured prefix, and is reversible so a store listing can be parsed
// back into a namespace tree.
package keymap

import (
	"fmt"
	"strings"
)

const (
	chunkSuffix  = ".chunk."
	chunkDigits  = 6
	markerSuffix = "/.dir"
)

// EntryKind discriminates parsed listing entries.
type EntryKind int

const (
	// KindChunk is an encrypted chunk object of a file.
	KindChunk EntryKind = iota
	// KindMarker is a zero-length directory marker object.
	KindMarker
)

// Entry is one store key parsed back to its logical identity.
type Entry struct {
	Kind  EntryKind
	Path  string // absolute filesystem path ("/docs/a.txt")
	Index uint32 // chunk index, chunks only
}

// Mapper derives object keys from paths.
type Mapper struct {
	prefix string
}

// New creates a Mapper. A non-empty prefix is normalized to end with "/".
func New(prefix string) *Mapper {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Mapper{prefix: prefix}
}

// Prefix returns the normalized key prefix, the argument for store listings.
func (m *Mapper) Prefix() string {
	return m.prefix
}

// ChunkKey returns the object key holding the given chunk of a file.
// Indices are zero-padded so lexical key order equals index order.
func (m *Mapper) ChunkKey(path string, index uint32) string {
	return fmt.Sprintf("%s%s%s%0*d", m.prefix, rel(path), chunkSuffix, chunkDigits, index)
}

// MarkerKey returns the zero-length object key that stands in for a
// directory, since the store has no native directory concept.
func (m *Mapper) MarkerKey(path string) string {
	return m.prefix + rel(path) + markerSuffix
}

// FilePrefix returns the listing prefix covering all chunk objects of one
// file.
func (m *Mapper) FilePrefix(path string) string {
	return m.prefix + rel(path) + chunkSuffix
}

// TreePrefix returns the listing prefix covering every object under a
// directory, including its own marker.
func (m *Mapper) TreePrefix(dir string) string {
	r := rel(dir)
	if r == "" {
		return m.prefix
	}
	return m.prefix + r + "/"
}

// Parse inverts ChunkKey/MarkerKey. Keys that are not under the prefix or
// do not match either shape are reported as not ok and should be skipped.
func (m *Mapper) Parse(key string) (Entry, bool) {
	if !strings.HasPrefix(key, m.prefix) {
		return Entry{}, false
	}
	k := key[len(m.prefix):]

	if strings.HasSuffix(k, markerSuffix) {
		dir := strings.TrimSuffix(k, markerSuffix)
		if dir == "" || strings.HasPrefix(dir, "/") || strings.HasSuffix(dir, "/") {
			return Entry{}, false
		}
		return Entry{Kind: KindMarker, Path: "/" + dir}, true
	}

	i := strings.LastIndex(k, chunkSuffix)
	if i <= 0 {
		return Entry{}, false
	}
	path, digits := k[:i], k[i+len(chunkSuffix):]
	if len(digits) != chunkDigits || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return Entry{}, false
	}
	var index uint32
	for _, d := range digits {
		if d < '0' || d > '9' {
			return Entry{}, false
		}
		index = index*10 + uint32(d-'0')
	}
	return Entry{Kind: KindChunk, Path: "/" + path, Index: index}, true
}

func rel(path string) string {
	return strings.TrimPrefix(path, "/")
}
