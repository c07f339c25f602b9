package objstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Cache is a filesystem mirror of object keys, keyed by the same path the
// Backend uses. It exists so repeat reads of the same object avoid a
// network round trip, and so the assembly engine can symlink straight from
// a local path.
type Cache struct {
	dir string
}

// NewCache constructs a Cache rooted at dir, creating it if necessary.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, filepath.FromSlash(key))
}

// Get returns the local path for key if it is already cached, or "" if not.
func (c *Cache) Get(key string) string {
	path := c.path(key)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Put copies the file at localPath into the cache under key and removes
// localPath. A copy (not a rename) is used deliberately: the staging file
// may live on a different filesystem than the cache, where rename would
// fail across a device boundary.
func (c *Cache) Put(key, localPath string) (string, error) {
	dst := c.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("objstore: mkdir for cache entry %s: %w", key, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("objstore: open %s: %w", localPath, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("objstore: create cache entry %s: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return "", fmt.Errorf("objstore: copy into cache entry %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("objstore: close cache entry %s: %w", dst, err)
	}

	if err := os.Remove(localPath); err != nil {
		return "", fmt.Errorf("objstore: remove staging file %s: %w", localPath, err)
	}

	return dst, nil
}

// PutReader writes r into the cache under key, without consuming a source
// file on disk. Used when caching bytes read straight from a backend.
func (c *Cache) PutReader(key string, r io.Reader) (string, error) {
	dst := c.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("objstore: mkdir for cache entry %s: %w", key, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("objstore: create cache entry %s: %w", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("objstore: write cache entry %s: %w", dst, err)
	}
	return dst, nil
}

// Remove deletes the cached file for key and prunes now-empty parent
// directories up to (not including) the cache root.
func (c *Cache) Remove(key string) error {
	path := c.path(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objstore: remove cache entry %s: %w", key, err)
	}
	pruneEmptyParents(filepath.Dir(path), c.dir)
	return nil
}

// ListCached walks the cache directory and returns every object key
// currently mirrored locally, as slash-separated paths relative to the
// cache root.
func (c *Cache) ListCached() ([]string, error) {
	var keys []string
	err := filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: list cached objects: %w", err)
	}
	return keys, nil
}
