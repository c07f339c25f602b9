package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/FyraLabs/subatomic-ng/pkg/observability"
)

// memBackend is a fake Backend for exercising the Store facade without
// touching the filesystem or network, in the spirit of the teacher's
// in-memory fakes for its storage interfaces.
type memBackend struct {
	mu      sync.Mutex
	objects map[string][]byte
	deletes int
}

func newMemBackend() *memBackend {
	return &memBackend{objects: make(map[string][]byte)}
}

func (b *memBackend) Name() string { return "mem" }

func (b *memBackend) PutFile(ctx context.Context, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[key] = data
	b.mu.Unlock()
	return nil
}

func (b *memBackend) PutBytes(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	b.objects[key] = append([]byte(nil), data...)
	b.mu.Unlock()
	return nil
}

func (b *memBackend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	data, ok := b.objects[key]
	b.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBackend) DeleteObject(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.deletes++
	b.mu.Unlock()
	return nil
}

func (b *memBackend) HealthCheck(ctx context.Context) error { return nil }

func newTestLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestStore_PutThenGet(t *testing.T) {
	backend := newMemBackend()
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	store := NewStore(backend, cache, newTestLogger())

	staged := filepath.Join(t.TempDir(), "foo.rpm")
	if err := os.WriteFile(staged, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write staged: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "rpm/aa/foo.rpm", staged); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, ok := backend.objects["rpm/aa/foo.rpm"]; !ok {
		t.Error("expected object to reach backend")
	}

	path, err := store.Get(ctx, "rpm/aa/foo.rpm")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read resolved path: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("expected %q, got %q", "payload", string(data))
	}
}

func TestStore_GetFallsBackToBackendOnCacheMiss(t *testing.T) {
	backend := newMemBackend()
	backend.objects["repodata/repomd.xml"] = []byte("<repomd/>")

	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	store := NewStore(backend, cache, newTestLogger())

	path, err := store.Get(context.Background(), "repodata/repomd.xml")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "<repomd/>" {
		t.Errorf("expected %q, got %q", "<repomd/>", string(data))
	}

	if cache.Get("repodata/repomd.xml") == "" {
		t.Error("expected cache to be populated after backend fetch")
	}
}

func TestStore_GetMissingKeyReturnsErrNotFound(t *testing.T) {
	backend := newMemBackend()
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	store := NewStore(backend, cache, newTestLogger())

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_WithNoUpload_SkipsBackendWrite(t *testing.T) {
	backend := newMemBackend()
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	store := NewStore(backend, cache, newTestLogger(), WithNoUpload(true))

	if err := store.PutBytes(context.Background(), "key", []byte("data")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	if _, ok := backend.objects["key"]; ok {
		t.Error("expected backend write to be skipped under NoUpload")
	}
	if cache.Get("key") == "" {
		t.Error("expected cache to still be populated under NoUpload")
	}
}

func TestStore_Remove(t *testing.T) {
	backend := newMemBackend()
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	store := NewStore(backend, cache, newTestLogger())

	ctx := context.Background()
	if err := store.PutBytes(ctx, "key", []byte("data")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}
	if err := store.Remove(ctx, "key"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if backend.deletes != 1 {
		t.Errorf("expected 1 backend delete, got %d", backend.deletes)
	}
	if cache.Get("key") != "" {
		t.Error("expected cache entry removed")
	}
}

func TestStore_PathLRU_AvoidsRepeatCacheStat(t *testing.T) {
	backend := newMemBackend()
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	store := NewStore(backend, cache, newTestLogger(), WithPathLRU(16))

	ctx := context.Background()
	if err := store.PutBytes(ctx, "key", []byte("data")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	first, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := cache.Remove("key"); err != nil {
		t.Fatalf("Remove from cache: %v", err)
	}

	second, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get after cache removal: %v", err)
	}
	if first != second {
		t.Errorf("expected LRU-remembered path %q, got %q", first, second)
	}
}
