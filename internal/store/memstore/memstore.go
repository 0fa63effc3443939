// Package memstore is an in-memory store.Client used by tests and as a
// reference for the client contract.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/SmitBdangar/AegisFS/internal/store"
)

// Store is a map-backed object store.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte

	// Fail, when set, is consulted before every operation and its error
	// returned verbatim. Tests use it to inject transient failures.
	Fail func(op, key string) error
}

// New creates an empty store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// Get implements store.Client.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		if err := s.Fail("get", key); err != nil {
			return nil, err
		}
	}

	data, ok := s.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Put implements store.Client.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		if err := s.Fail("put", key); err != nil {
			return err
		}
	}

	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Delete implements store.Client.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		if err := s.Fail("delete", key); err != nil {
			return err
		}
	}

	delete(s.objects, key)
	return nil
}

// List implements store.Client.
func (s *Store) List(ctx context.Context, prefix string) ([]store.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		if err := s.Fail("list", prefix); err != nil {
			return nil, err
		}
	}

	var infos []store.ObjectInfo
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, store.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Keys returns all stored keys in lexical order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
