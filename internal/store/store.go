// Package store defines the object store client boundary. Implementations
// speak to a flat key space: GET/PUT/DELETE plus prefix listing. Transient
// failures are wrapped with retry.Transient by implementations so the
// chunk cache can apply its backoff policy; ErrNotFound is never transient.
package store

import (
	"context"
	"errors"
)

// ErrNotFound reports that an object key is absent. It is a normal
// negative result, not a fault.
var ErrNotFound = errors.New("object not found")

// ObjectInfo is one listing entry. Size is the stored (ciphertext) size,
// which the engine uses to recover plaintext lengths at mount time.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Client is the object store client.
type Client interface {
	// Get returns the full object body, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the object body under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all objects under prefix in lexical key order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
