// Package objstore implements the two-tier storage model: a pluggable
// Storage Backend (S3, local filesystem, or cache-only) fronted by a
// filesystem Cache, combined behind a single Object Storage facade.
package objstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by a Backend or the facade when a key has no
// backing object. The cache-only backend returns it unconditionally, per
// the cache-miss policy resolved in SPEC_FULL.md §4.1.
var ErrNotFound = errors.New("objstore: object not found")

// Backend is the polymorphic capability set every Storage Backend variant
// implements: put a local file, put raw bytes, fetch a reader, and delete.
// All three concrete variants (S3, filesystem, cache-only) satisfy this one
// interface so the rest of the module never branches on backend type.
type Backend interface {
	// PutFile uploads the file at localPath under key.
	PutFile(ctx context.Context, key, localPath string) error

	// PutBytes uploads the given bytes under key.
	PutBytes(ctx context.Context, key string, data []byte) error

	// GetObject returns a reader for the object at key. Callers must Close it.
	// Returns ErrNotFound if the key has no backing object.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// DeleteObject removes the object at key. Deleting a missing key is not
	// an error.
	DeleteObject(ctx context.Context, key string) error

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Name identifies the backend for metrics/logging labels.
	Name() string
}
