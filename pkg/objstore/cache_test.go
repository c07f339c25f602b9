package objstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCache_PutAndGet(t *testing.T) {
	t.Run("caches a staged file and returns its path", func(t *testing.T) {
		cache, err := NewCache(t.TempDir())
		if err != nil {
			t.Fatalf("NewCache: %v", err)
		}

		stageDir := t.TempDir()
		staged := filepath.Join(stageDir, "foo-1.0-1.x86_64.rpm")
		if err := os.WriteFile(staged, []byte("rpm bytes"), 0o644); err != nil {
			t.Fatalf("write staged file: %v", err)
		}

		path, err := cache.Put("rpm/aa/01/foo-1.0-1.x86_64.rpm", staged)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read cached file: %v", err)
		}
		if string(data) != "rpm bytes" {
			t.Errorf("expected %q, got %q", "rpm bytes", string(data))
		}
	})

	t.Run("removes the staging file after copy", func(t *testing.T) {
		cache, err := NewCache(t.TempDir())
		if err != nil {
			t.Fatalf("NewCache: %v", err)
		}

		staged := filepath.Join(t.TempDir(), "staged.rpm")
		if err := os.WriteFile(staged, []byte("x"), 0o644); err != nil {
			t.Fatalf("write staged file: %v", err)
		}

		if _, err := cache.Put("key", staged); err != nil {
			t.Fatalf("Put: %v", err)
		}

		if _, err := os.Stat(staged); !os.IsNotExist(err) {
			t.Errorf("expected staging file to be removed, stat err: %v", err)
		}
	})

	t.Run("Get returns empty string for uncached key", func(t *testing.T) {
		cache, err := NewCache(t.TempDir())
		if err != nil {
			t.Fatalf("NewCache: %v", err)
		}
		if path := cache.Get("nope"); path != "" {
			t.Errorf("expected empty path, got %q", path)
		}
	})
}

func TestCache_PutReader(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	path, err := cache.PutReader("repodata/repomd.xml", strings.NewReader("<repomd/>"))
	if err != nil {
		t.Fatalf("PutReader: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "<repomd/>" {
		t.Errorf("expected %q, got %q", "<repomd/>", string(data))
	}
}

func TestCache_Remove(t *testing.T) {
	t.Run("removes entry and prunes empty parents", func(t *testing.T) {
		dir := t.TempDir()
		cache, err := NewCache(dir)
		if err != nil {
			t.Fatalf("NewCache: %v", err)
		}

		key := "rpm/aa/01/foo-1.0-1.x86_64.rpm"
		if _, err := cache.PutReader(key, strings.NewReader("x")); err != nil {
			t.Fatalf("PutReader: %v", err)
		}

		if err := cache.Remove(key); err != nil {
			t.Fatalf("Remove: %v", err)
		}

		if cache.Get(key) != "" {
			t.Error("expected key to no longer be cached")
		}
		if _, err := os.Stat(filepath.Join(dir, "rpm", "aa", "01")); !os.IsNotExist(err) {
			t.Errorf("expected empty parent dirs pruned, stat err: %v", err)
		}
	})

	t.Run("removing a missing key is not an error", func(t *testing.T) {
		cache, err := NewCache(t.TempDir())
		if err != nil {
			t.Fatalf("NewCache: %v", err)
		}
		if err := cache.Remove("nope"); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})
}

func TestCache_ListCached(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	keys := []string{
		"rpm/aa/01/foo-1.0-1.x86_64.rpm",
		"rpm/bb/02/bar-2.0-1.x86_64.rpm",
		"repodata/repomd.xml",
	}
	for _, k := range keys {
		if _, err := cache.PutReader(k, strings.NewReader("x")); err != nil {
			t.Fatalf("PutReader(%s): %v", k, err)
		}
	}

	listed, err := cache.ListCached()
	if err != nil {
		t.Fatalf("ListCached: %v", err)
	}
	if len(listed) != len(keys) {
		t.Errorf("expected %d cached keys, got %d: %v", len(keys), len(listed), listed)
	}
}
