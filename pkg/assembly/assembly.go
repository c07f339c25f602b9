// Package assembly stages a tag's available packages into a yum/dnf
// repository tree and publishes it by swapping an export symlink.
package assembly

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FyraLabs/subatomic-ng/pkg/async"
	"github.com/FyraLabs/subatomic-ng/pkg/objstore"
	"github.com/FyraLabs/subatomic-ng/pkg/observability"
	"github.com/FyraLabs/subatomic-ng/pkg/repo"
)

var tracer = otel.Tracer("subatomic-ng/assembly")

// Config controls where staging and export directories live and which
// external generator binary produces repodata.
type Config struct {
	// RepoCacheDir is the parent of every tag's staging directories.
	RepoCacheDir string

	// ExportDir is the root under which each tag's published repo tree is
	// exposed as a symlink.
	ExportDir string

	// GeneratorBin is the external metadata generator, createrepo_c by
	// convention. It is invoked as `<GeneratorBin> <staging-dir>`.
	GeneratorBin string

	// PopulateConcurrency bounds how many packages are fetched from the
	// object store and symlinked into staging at once.
	PopulateConcurrency int

	// PopulateTimeout bounds a single package's fetch-and-link step.
	PopulateTimeout time.Duration

	// GeneratorTimeout bounds the external generator invocation.
	GeneratorTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PopulateConcurrency <= 0 {
		c.PopulateConcurrency = 8
	}
	if c.PopulateTimeout <= 0 {
		c.PopulateTimeout = 30 * time.Second
	}
	if c.GeneratorTimeout <= 0 {
		c.GeneratorTimeout = 5 * time.Minute
	}
	return c
}

// Engine assembles tags into published repo trees.
type Engine struct {
	cfg      Config
	tags     *repo.TagStore
	composes *repo.ComposeStore
	store    *objstore.Store
	logger   *observability.Logger
}

// NewEngine constructs an assembly Engine.
func NewEngine(cfg Config, tags *repo.TagStore, composes *repo.ComposeStore, store *objstore.Store, logger *observability.Logger) *Engine {
	return &Engine{cfg: cfg.withDefaults(), tags: tags, composes: composes, store: store, logger: logger}
}

// Assemble runs the five-step staging/generate/publish pipeline for tag:
//  1. snapshot the tag's currently-available packages into a new Compose
//  2. create a staging directory unique to that compose
//  3. populate staging with one symlink per package, fetched through the
//     object store with bounded concurrency
//  4. invoke the external metadata generator against the staging directory
//  5. publish the result by symlinking export_dir to the staging directory,
//     swapped in atomically via a sibling-rename rather than a
//     remove-then-symlink, so export_dir is never briefly missing.
func (e *Engine) Assemble(ctx context.Context, tagName string) (*repo.Compose, error) {
	ctx, span := tracer.Start(ctx, "Engine.Assemble", trace.WithAttributes(
		attribute.String("tag.name", tagName),
	))
	defer span.End()

	tag, err := e.tags.Get(ctx, tagName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tag lookup failed")
		return nil, err
	}

	pkgs, err := e.tags.GetAvailableRpms(ctx, tagName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list available rpms failed")
		return nil, err
	}

	refs := make([]repo.Ref, 0, len(pkgs))
	for _, pkg := range pkgs {
		refs = append(refs, pkg.Ref())
	}

	compose := repo.NewCompose(tagName, refs)
	if err := e.composes.Save(ctx, compose); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save compose failed")
		return nil, err
	}

	stagingDir := filepath.Join(e.cfg.RepoCacheDir, tagName, fmt.Sprintf("%s_%s", tagName, compose.ID))
	if _, err := os.Stat(stagingDir); err == nil {
		err := repo.NewError(repo.KindConflict, fmt.Sprintf("staging directory %s already exists", stagingDir))
		span.RecordError(err)
		return nil, err
	}
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, repo.WrapError(repo.KindIO, fmt.Sprintf("create staging dir %s", stagingDir), err)
	}

	if err := e.populate(ctx, stagingDir, pkgs); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "populate staging dir failed")
		return nil, err
	}

	if err := e.runGenerator(ctx, stagingDir); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generator failed")
		return nil, err
	}

	if err := e.publish(ctx, tag, stagingDir); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return nil, err
	}

	e.logger.WithField("tag", tagName).WithField("compose_id", compose.ID).Info("assembled tag")
	return compose, nil
}

// populate fetches each package's cached file through the object store and
// symlinks it into stagingDir, named <pkg.id>-<basename> to avoid
// collisions between packages sharing a basename.
func (e *Engine) populate(ctx context.Context, stagingDir string, pkgs []*repo.Package) error {
	errs := async.Batch(ctx, pkgs, e.cfg.PopulateConcurrency, "assembly populate", e.cfg.PopulateTimeout,
		func(ctx context.Context, pkg *repo.Package) error {
			src, err := e.store.Get(ctx, pkg.ObjectKey)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", pkg.ObjectKey, err)
			}
			absSrc, err := filepath.Abs(src)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", src, err)
			}

			basename := filepath.Base(pkg.ObjectKey)
			target := filepath.Join(stagingDir, fmt.Sprintf("%s-%s", pkg.ID, basename))

			if _, err := os.Lstat(target); err == nil {
				e.logger.WithField("object_key", pkg.ObjectKey).Warn("staging file name conflict, removing existing file")
				if err := os.Remove(target); err != nil {
					return fmt.Errorf("remove conflicting staging file %s: %w", target, err)
				}
			}

			if err := os.Symlink(absSrc, target); err != nil {
				return fmt.Errorf("symlink %s -> %s: %w", absSrc, target, err)
			}
			return nil
		})
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return repo.NewError(repo.KindIO, fmt.Sprintf("populate staging dir: %s", strings.Join(msgs, "; ")))
	}
	return nil
}

func (e *Engine) runGenerator(ctx context.Context, stagingDir string) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.GeneratorTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cfg.GeneratorBin, stagingDir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return repo.WrapError(repo.KindGeneratorFailed, fmt.Sprintf("%s failed: %s", e.cfg.GeneratorBin, strings.TrimSpace(string(output))), err)
	}
	return nil
}

// publish swaps the tag's export symlink to point at stagingDir. The new
// link is built under a sibling temp name and then renamed over export_dir,
// so readers never observe export_dir briefly absent the way a
// remove-then-symlink sequence would produce.
func (e *Engine) publish(ctx context.Context, tag *repo.Tag, stagingDir string) error {
	canonical, err := filepath.EvalSymlinks(stagingDir)
	if err != nil {
		return repo.WrapError(repo.KindIO, fmt.Sprintf("canonicalize staging dir %s", stagingDir), err)
	}

	exportDir := tag.ExportDir(e.cfg.ExportDir)
	if err := os.MkdirAll(filepath.Dir(exportDir), 0o755); err != nil {
		return repo.WrapError(repo.KindIO, fmt.Sprintf("create export parent for %s", exportDir), err)
	}

	// rename(2) refuses to replace a real directory with a symlink, so a
	// legacy export_dir predating the symlink-swap layout must be cleared
	// first. A symlink left over from a prior publish is fine: rename
	// replaces it atomically below.
	if fi, err := os.Lstat(exportDir); err == nil && fi.IsDir() {
		if err := os.RemoveAll(exportDir); err != nil {
			return repo.WrapError(repo.KindIO, fmt.Sprintf("remove legacy export dir %s", exportDir), err)
		}
	}

	tmpLink := exportDir + ".tmp-" + filepath.Base(stagingDir)
	if err := os.Symlink(canonical, tmpLink); err != nil {
		return repo.WrapError(repo.KindIO, fmt.Sprintf("symlink %s -> %s", canonical, tmpLink), err)
	}
	if err := os.Rename(tmpLink, exportDir); err != nil {
		os.Remove(tmpLink)
		return repo.WrapError(repo.KindIO, fmt.Sprintf("rename %s -> %s", tmpLink, exportDir), err)
	}

	e.logger.WithField("export_dir", exportDir).WithField("staging_dir", canonical).Debug("published export symlink")
	return nil
}
