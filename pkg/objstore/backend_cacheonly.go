package objstore

import (
	"context"
	"io"
)

// CacheOnlyBackend is a no-op Storage Backend: every write is discarded and
// every read misses, per the cache-miss policy resolved in SPEC_FULL.md
// §4.1. Objects live only in the local Cache mirror. Intended for
// single-node test or throwaway deployments where durability beyond the
// local disk is not required.
type CacheOnlyBackend struct{}

var _ Backend = (*CacheOnlyBackend)(nil)

// NewCacheOnlyBackend constructs a CacheOnlyBackend.
func NewCacheOnlyBackend() *CacheOnlyBackend {
	return &CacheOnlyBackend{}
}

func (b *CacheOnlyBackend) Name() string { return "cacheonly" }

func (b *CacheOnlyBackend) PutFile(ctx context.Context, key, localPath string) error {
	return nil
}

func (b *CacheOnlyBackend) PutBytes(ctx context.Context, key string, data []byte) error {
	return nil
}

func (b *CacheOnlyBackend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, ErrNotFound
}

func (b *CacheOnlyBackend) DeleteObject(ctx context.Context, key string) error {
	return nil
}

func (b *CacheOnlyBackend) HealthCheck(ctx context.Context) error {
	return nil
}
