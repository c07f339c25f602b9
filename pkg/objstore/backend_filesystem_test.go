package objstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFilesystemBackend_PutAndGet(t *testing.T) {
	t.Run("round trips a file", func(t *testing.T) {
		root := t.TempDir()
		backend, err := NewFilesystemBackend(root)
		if err != nil {
			t.Fatalf("NewFilesystemBackend: %v", err)
		}

		src := filepath.Join(t.TempDir(), "rpm-blob")
		if err := os.WriteFile(src, []byte("rpm payload"), 0o644); err != nil {
			t.Fatalf("write source file: %v", err)
		}

		ctx := context.Background()
		if err := backend.PutFile(ctx, "rpm/aa/01/foo-1.0-1.x86_64.rpm", src); err != nil {
			t.Fatalf("PutFile: %v", err)
		}

		reader, err := backend.GetObject(ctx, "rpm/aa/01/foo-1.0-1.x86_64.rpm")
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		defer reader.Close()

		data, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("read object: %v", err)
		}
		if string(data) != "rpm payload" {
			t.Errorf("expected %q, got %q", "rpm payload", string(data))
		}
	})

	t.Run("returns ErrNotFound for missing key", func(t *testing.T) {
		backend, err := NewFilesystemBackend(t.TempDir())
		if err != nil {
			t.Fatalf("NewFilesystemBackend: %v", err)
		}

		_, err = backend.GetObject(context.Background(), "missing/key.rpm")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestFilesystemBackend_PutBytes(t *testing.T) {
	backend, err := NewFilesystemBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemBackend: %v", err)
	}

	ctx := context.Background()
	if err := backend.PutBytes(ctx, "repodata/repomd.xml", []byte("<repomd/>")); err != nil {
		t.Fatalf("PutBytes: %v", err)
	}

	reader, err := backend.GetObject(ctx, "repodata/repomd.xml")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "<repomd/>" {
		t.Errorf("expected %q, got %q", "<repomd/>", string(data))
	}
}

func TestFilesystemBackend_DeleteObject(t *testing.T) {
	t.Run("removes object and prunes empty parents", func(t *testing.T) {
		root := t.TempDir()
		backend, err := NewFilesystemBackend(root)
		if err != nil {
			t.Fatalf("NewFilesystemBackend: %v", err)
		}

		ctx := context.Background()
		key := "rpm/aa/01/foo-1.0-1.x86_64.rpm"
		if err := backend.PutBytes(ctx, key, []byte("data")); err != nil {
			t.Fatalf("PutBytes: %v", err)
		}

		if err := backend.DeleteObject(ctx, key); err != nil {
			t.Fatalf("DeleteObject: %v", err)
		}

		if _, err := backend.GetObject(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}

		if _, err := os.Stat(filepath.Join(root, "rpm", "aa", "01")); !os.IsNotExist(err) {
			t.Errorf("expected empty parent dirs to be pruned, stat err: %v", err)
		}
	})

	t.Run("deleting a missing key is not an error", func(t *testing.T) {
		backend, err := NewFilesystemBackend(t.TempDir())
		if err != nil {
			t.Fatalf("NewFilesystemBackend: %v", err)
		}
		if err := backend.DeleteObject(context.Background(), "nope"); err != nil {
			t.Errorf("expected nil error deleting missing key, got %v", err)
		}
	})
}

func TestFilesystemBackend_HealthCheck(t *testing.T) {
	t.Run("healthy when root exists", func(t *testing.T) {
		backend, err := NewFilesystemBackend(t.TempDir())
		if err != nil {
			t.Fatalf("NewFilesystemBackend: %v", err)
		}
		if err := backend.HealthCheck(context.Background()); err != nil {
			t.Errorf("expected healthy, got %v", err)
		}
	})

	t.Run("unhealthy when root removed", func(t *testing.T) {
		root := t.TempDir()
		backend, err := NewFilesystemBackend(root)
		if err != nil {
			t.Fatalf("NewFilesystemBackend: %v", err)
		}
		if err := os.RemoveAll(root); err != nil {
			t.Fatalf("remove root: %v", err)
		}
		if err := backend.HealthCheck(context.Background()); err == nil {
			t.Error("expected error after root removed")
		}
	})
}
