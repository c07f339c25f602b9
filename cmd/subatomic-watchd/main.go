// Command subatomic-watchd watches a drop-folder tree and feeds newly
// written .rpm files through the ingest pipeline, tagging each by its
// immediate parent directory name.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/FyraLabs/subatomic-ng/pkg/config"
	"github.com/FyraLabs/subatomic-ng/pkg/ingest"
	"github.com/FyraLabs/subatomic-ng/pkg/objstore"
	"github.com/FyraLabs/subatomic-ng/pkg/observability"
	"github.com/FyraLabs/subatomic-ng/pkg/repo"
)

func main() {
	watchDir := flag.String("watch-dir", "", "drop-folder root; overrides SUBATOMIC_WATCH_DIR")
	settleDelay := flag.Duration("settle-delay", 2*time.Second, "quiet period before a written file is treated as complete")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}
	dropDir := cfg.Repo.WatchDir
	if *watchDir != "" {
		dropDir = *watchDir
	}
	if err := os.MkdirAll(dropDir, 0o755); err != nil {
		logger.WithError(err).Fatalf("failed to create watch dir %s", dropDir)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	obsLogger := observability.NewLogger(observability.InfoLevel, os.Stdout)
	backend, err := newBackend(context.Background(), cfg.ObjectStore, obsLogger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize object store backend")
	}
	cache, err := objstore.NewCache(cfg.ObjectStore.CacheDir)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize object store cache")
	}
	store := objstore.NewStore(backend, cache, obsLogger)
	pipeline := ingest.NewPipeline(cfg.Repo.RepoCacheDir, store, repo.NewStore(db))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithError(err).Fatal("failed to create fsnotify watcher")
	}
	defer watcher.Close()

	if err := setupWatcher(watcher, dropDir); err != nil {
		logger.WithError(err).Fatal("failed to set up directory watch")
	}

	d := &daemon{
		logger:   logger,
		pipeline: pipeline,
		dropDir:  dropDir,
		pending:  map[string]*time.Timer{},
		settle:   *settleDelay,
	}

	logger.Infof("watching %s for dropped .rpm files", dropDir)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Error("watcher error")
		}
	}
}

// daemon debounces fsnotify write bursts per file, then ingests once the
// file has been quiet for the configured settle delay.
type daemon struct {
	logger   *logrus.Logger
	pipeline *ingest.Pipeline
	dropDir  string
	pending  map[string]*time.Timer
	settle   time.Duration
}

func (d *daemon) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				d.logger.WithError(err).Warnf("failed to watch new directory %s", event.Name)
			}
			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if filepath.Ext(event.Name) != ".rpm" {
		return
	}

	if timer, ok := d.pending[event.Name]; ok {
		timer.Stop()
	}
	d.pending[event.Name] = time.AfterFunc(d.settle, func() {
		delete(d.pending, event.Name)
		d.ingest(event.Name)
	})
}

func (d *daemon) ingest(path string) {
	tag, err := d.tagForPath(path)
	if err != nil {
		d.logger.WithError(err).Warnf("skipping %s: not a valid <tag>/<file>.rpm path", path)
		return
	}

	file, err := os.Open(path)
	if err != nil {
		d.logger.WithError(err).Errorf("failed to open %s", path)
		return
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pkg, err := d.pipeline.Ingest(ctx, filepath.Base(path), tag, file, ingest.Options{MarkAvailable: true})
	if err != nil {
		d.logger.WithError(err).Errorf("failed to ingest %s", path)
		return
	}
	d.logger.Infof("ingested %s as package %s under tag %s", path, pkg.ID, tag)
}

// tagForPath derives the owning tag from <dropDir>/<tag>/<file>.rpm.
func (d *daemon) tagForPath(path string) (string, error) {
	rel, err := filepath.Rel(d.dropDir, path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(rel)
	if dir == "." || dir == string(filepath.Separator) {
		return "", os.ErrInvalid
	}
	return filepath.Base(dir), nil
}

func setupWatcher(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func newBackend(ctx context.Context, cfg config.ObjectStoreConfig, logger *observability.Logger) (objstore.Backend, error) {
	switch cfg.BackendType {
	case config.BackendS3:
		return objstore.NewS3Backend(ctx, objstore.S3Config{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
		}, logger)
	case config.BackendFilesystem:
		return objstore.NewFilesystemBackend(cfg.FilesystemRoot)
	case config.BackendCacheOnly:
		return objstore.NewCacheOnlyBackend(), nil
	default:
		return nil, os.ErrInvalid
	}
}
