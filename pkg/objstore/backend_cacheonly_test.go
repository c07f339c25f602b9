package objstore

import (
	"context"
	"errors"
	"testing"
)

func TestCacheOnlyBackend(t *testing.T) {
	backend := NewCacheOnlyBackend()
	ctx := context.Background()

	if err := backend.PutBytes(ctx, "k", []byte("v")); err != nil {
		t.Errorf("PutBytes should be a no-op, got %v", err)
	}
	if err := backend.PutFile(ctx, "k", "/nonexistent"); err != nil {
		t.Errorf("PutFile should be a no-op, got %v", err)
	}
	if _, err := backend.GetObject(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetObject should always miss, got %v", err)
	}
	if err := backend.DeleteObject(ctx, "k"); err != nil {
		t.Errorf("DeleteObject should be a no-op, got %v", err)
	}
	if err := backend.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck should always pass, got %v", err)
	}
	if backend.Name() != "cacheonly" {
		t.Errorf("expected name cacheonly, got %s", backend.Name())
	}
}
