package objstore

import (
	"bytes"
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/FyraLabs/subatomic-ng/pkg/observability"
)

// Store is the Object Storage facade: a read-through, write-through
// combination of a Backend and a local Cache. All package and signed-rpm
// I/O in the rest of the module goes through this type rather than talking
// to a Backend or Cache directly.
type Store struct {
	backend Backend
	cache   *Cache
	logger  *observability.Logger

	// noUpload mirrors the original NO_UPLOAD escape hatch: writes still
	// land in the local cache, but the backend PUT is skipped.
	noUpload bool

	// pathHits is an optional in-process LRU of key -> cached local path,
	// avoiding a stat syscall on repeat resolution of hot keys.
	pathHits *lru.Cache[string, string]
}

// StoreOption configures optional behavior on a Store.
type StoreOption func(*Store)

// WithNoUpload skips backend uploads on Put/PutBytes, keeping writes local
// to the cache only. Used for disconnected development.
func WithNoUpload(enabled bool) StoreOption {
	return func(s *Store) { s.noUpload = enabled }
}

// WithPathLRU enables an in-process LRU cache of up to size resolved cache
// paths, grounded on the teacher's Redis-cache-in-front-of-storage pattern
// but scoped to a single process with hashicorp/golang-lru instead of Redis.
func WithPathLRU(size int) StoreOption {
	return func(s *Store) {
		if size <= 0 {
			return
		}
		c, err := lru.New[string, string](size)
		if err == nil {
			s.pathHits = c
		}
	}
}

// NewStore constructs the Object Storage facade over backend and cache.
func NewStore(backend Backend, cache *Cache, logger *observability.Logger, opts ...StoreOption) *Store {
	s := &Store{backend: backend, cache: cache, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get resolves key to a local file path, downloading through the backend
// and populating the cache on a miss.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.pathHits != nil {
		if path, ok := s.pathHits.Get(key); ok {
			return path, nil
		}
	}

	if path := s.cache.Get(key); path != "" {
		s.rememberPath(key, path)
		return path, nil
	}

	reader, err := s.backend.GetObject(ctx, key)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	path, err := s.cache.PutReader(key, reader)
	if err != nil {
		return "", err
	}
	s.rememberPath(key, path)
	return path, nil
}

// Put uploads the file at localPath under key (unless NoUpload is set) and
// caches it locally, consuming localPath in the process.
func (s *Store) Put(ctx context.Context, key, localPath string) error {
	if !s.noUpload {
		if err := s.backend.PutFile(ctx, key, localPath); err != nil {
			return fmt.Errorf("objstore: upload %s: %w", key, err)
		}
	}
	path, err := s.cache.Put(key, localPath)
	if err != nil {
		return err
	}
	s.rememberPath(key, path)
	return nil
}

// PutBytes uploads data under key (unless NoUpload is set) and caches it.
func (s *Store) PutBytes(ctx context.Context, key string, data []byte) error {
	if !s.noUpload {
		if err := s.backend.PutBytes(ctx, key, data); err != nil {
			return fmt.Errorf("objstore: upload bytes %s: %w", key, err)
		}
	}
	path, err := s.cache.PutReader(key, bytes.NewReader(data))
	if err != nil {
		return err
	}
	s.rememberPath(key, path)
	return nil
}

// Remove deletes key from both backend and cache.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.backend.DeleteObject(ctx, key); err != nil {
		return fmt.Errorf("objstore: delete upstream %s: %w", key, err)
	}
	if err := s.cache.Remove(key); err != nil {
		return err
	}
	s.forgetPath(key)
	return nil
}

// Refresh forces a re-download of key from the backend into the cache,
// discarding any stale local copy.
func (s *Store) Refresh(ctx context.Context, key string) (string, error) {
	reader, err := s.backend.GetObject(ctx, key)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	path, err := s.cache.PutReader(key, reader)
	if err != nil {
		return "", err
	}
	s.rememberPath(key, path)
	return path, nil
}

// HealthCheck reports backend reachability.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

// BackendName identifies the configured backend, for metrics labels.
func (s *Store) BackendName() string {
	return s.backend.Name()
}

func (s *Store) rememberPath(key, path string) {
	if s.pathHits != nil {
		s.pathHits.Add(key, path)
	}
}

func (s *Store) forgetPath(key string) {
	if s.pathHits != nil {
		s.pathHits.Remove(key)
	}
}

