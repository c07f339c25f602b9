package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FilesystemBackend is the Storage Backend variant that persists objects
// under a root directory on local disk, mirroring the object key as a
// relative path. Used for single-node or development deployments where an
// S3-compatible service isn't available.
type FilesystemBackend struct {
	root string
}

var _ Backend = (*FilesystemBackend)(nil)

// NewFilesystemBackend constructs a filesystem-backed Backend rooted at dir.
func NewFilesystemBackend(dir string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: create backend root: %w", err)
	}
	return &FilesystemBackend{root: dir}, nil
}

func (b *FilesystemBackend) Name() string { return "filesystem" }

func (b *FilesystemBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *FilesystemBackend) PutFile(ctx context.Context, key, localPath string) error {
	dst := b.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("objstore: mkdir for %s: %w", key, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("objstore: open %s: %w", localPath, err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("objstore: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("objstore: copy into %s: %w", dst, err)
	}
	return nil
}

func (b *FilesystemBackend) PutBytes(ctx context.Context, key string, data []byte) error {
	dst := b.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("objstore: mkdir for %s: %w", key, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("objstore: write %s: %w", dst, err)
	}
	return nil
}

func (b *FilesystemBackend) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objstore: open %s: %w", key, err)
	}
	return f, nil
}

func (b *FilesystemBackend) DeleteObject(ctx context.Context, key string) error {
	path := b.path(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objstore: delete %s: %w", key, err)
	}
	pruneEmptyParents(filepath.Dir(path), b.root)
	return nil
}

func (b *FilesystemBackend) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(b.root)
	if err != nil {
		return fmt.Errorf("objstore: backend root unreachable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("objstore: backend root %s is not a directory", b.root)
	}
	return nil
}

// pruneEmptyParents removes now-empty directories walking up from dir until
// root or a non-empty directory is reached. Errors are deliberately
// swallowed — this is best-effort tidying, not a correctness requirement.
func pruneEmptyParents(dir, root string) {
	for dir != root && len(dir) > len(root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
