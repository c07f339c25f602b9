// Package ingest implements the upload pipeline that turns an uploaded RPM
// byte stream into a staged Package record.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FyraLabs/subatomic-ng/pkg/objstore"
	"github.com/FyraLabs/subatomic-ng/pkg/repo"
)

var tracer = otel.Tracer("subatomic-ng/ingest")

// Pipeline writes an uploaded RPM to the object store and commits its
// Package record, per spec's four-step ingest algorithm.
type Pipeline struct {
	cacheDir string
	store    *objstore.Store
	packages *repo.Store
}

// NewPipeline constructs a Pipeline staging uploads under cacheDir.
func NewPipeline(cacheDir string, store *objstore.Store, packages *repo.Store) *Pipeline {
	return &Pipeline{cacheDir: cacheDir, store: store, packages: packages}
}

// Options holds the ingest flag that the HTTP adapter's multipart upload
// endpoint exposes through its prune query parameter.
type Options struct {
	// MarkAvailable commits the package with available=true, running the
	// A-1 three-statement transaction instead of a plain insert.
	MarkAvailable bool
}

// Ingest writes data to a staging path under the cache directory, parses it
// as an RPM tagged for tag, uploads+caches it via the object store, and
// commits the resulting Package record.
//
//  1. write bytes to cache_dir/filename
//  2. parse via Package.FromPath(staging_path, tag)
//  3. object_store.Put(pkg.ObjectKey, staging_path) — uploads and caches
//  4. packages.CommitToDB(pkg, opts.MarkAvailable)
//
// Errors at any step abort the ingest. Cleanup of the staging path is
// delegated to the cache: Put consumes it on success; on failure it is
// left in place for operator inspection.
func (p *Pipeline) Ingest(ctx context.Context, filename, tag string, data io.Reader, opts Options) (*repo.Package, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Ingest", trace.WithAttributes(
		attribute.String("ingest.filename", filename),
		attribute.String("ingest.tag", tag),
		attribute.Bool("ingest.mark_available", opts.MarkAvailable),
	))
	defer span.End()

	stagingPath := filepath.Join(p.cacheDir, filepath.Base(filename))
	if err := writeStaging(stagingPath, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write staging file failed")
		return nil, repo.WrapError(repo.KindIO, fmt.Sprintf("write staging file %s", stagingPath), err)
	}

	pkg, err := repo.FromPath(stagingPath, tag)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse rpm failed")
		return nil, err
	}

	if err := p.store.Put(ctx, pkg.ObjectKey, stagingPath); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload to object store failed")
		return nil, repo.WrapError(repo.KindBackend, fmt.Sprintf("upload %s", pkg.ObjectKey), err)
	}

	if err := p.packages.CommitToDB(ctx, pkg, opts.MarkAvailable); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit package record failed")
		return nil, err
	}

	return pkg, nil
}

func writeStaging(path string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return err
	}
	return nil
}
