// Command subatomic-server runs the HTTP API: package upload, tag and
// compose management, GPG keyring administration, and on-demand repo
// assembly.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/FyraLabs/subatomic-ng/pkg/assembly"
	"github.com/FyraLabs/subatomic-ng/pkg/config"
	"github.com/FyraLabs/subatomic-ng/pkg/httpapi"
	"github.com/FyraLabs/subatomic-ng/pkg/ingest"
	"github.com/FyraLabs/subatomic-ng/pkg/keyring"
	"github.com/FyraLabs/subatomic-ng/pkg/objstore"
	"github.com/FyraLabs/subatomic-ng/pkg/observability"
	"github.com/FyraLabs/subatomic-ng/pkg/repo"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting subatomic-server")

	ctx := context.Background()
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("failed to connect to database")
		log.Fatalf("failed to connect to database: %v", err)
	}
	logger.Info("database connection established")

	backend, err := newBackend(ctx, cfg.ObjectStore, logger)
	if err != nil {
		log.Fatalf("failed to initialize object store backend: %v", err)
	}
	cache, err := objstore.NewCache(cfg.ObjectStore.CacheDir)
	if err != nil {
		log.Fatalf("failed to initialize object store cache: %v", err)
	}

	storeOpts := []objstore.StoreOption{objstore.WithNoUpload(cfg.ObjectStore.NoUpload)}
	if cfg.Cache.L1Enabled {
		storeOpts = append(storeOpts, objstore.WithPathLRU(cfg.Cache.L1Size))
	}
	store := objstore.NewStore(backend, cache, logger, storeOpts...)

	packages := repo.NewStore(db)
	tags := repo.NewTagStore(db)
	composes := repo.NewComposeStore(db)
	keys := keyring.NewStore(db)

	engine := assembly.NewEngine(assembly.Config{
		RepoCacheDir: cfg.Repo.RepoCacheDir,
		ExportDir:    cfg.Repo.ExportDir,
		GeneratorBin: cfg.Repo.GeneratorBin,
	}, tags, composes, store, logger)

	pipeline := ingest.NewPipeline(cfg.Repo.RepoCacheDir, store, packages)

	var redisClient *redis.Client
	var readCache *repo.RedisCache
	if cfg.Cache.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisURL})
		readCache = repo.NewRedisCache(packages, tags, redisClient, cfg.Cache.RedisTTL)
		logger.Infof("redis read-through cache enabled at %s", cfg.Cache.RedisURL)
	}
	healthChecker := observability.NewHealthChecker(db, redisClient)

	server := httpapi.NewServer(httpapi.Deps{
		DB:              db,
		Store:           store,
		Logger:          logger,
		Packages:        packages,
		Tags:            tags,
		Composes:        composes,
		Keys:            keys,
		Engine:          engine,
		Pipeline:        pipeline,
		Cache:           readCache,
		DeleteWhenPrune: cfg.Repo.DeleteWhenPrune,
	})

	var promRegistry *prometheus.Registry
	var handler http.Handler = server
	if cfg.Observability.MetricsEnabled {
		promRegistry = prometheus.NewRegistry()
		metrics := observability.NewMetrics(promRegistry)
		handler = observability.HTTPMetricsMiddleware(metrics)(handler)
		logger.Info("prometheus metrics middleware enabled")
	}
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "subatomic-server",
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("OpenTelemetry HTTP instrumentation enabled")
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, healthChecker)
	if promRegistry != nil {
		observability.RegisterMetricsEndpoint(healthMux, promRegistry)
	}

	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("starting health server on port %s", cfg.Server.HealthPort)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	shutdownManager := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
		logger.Info("shutting down health server")
		return healthServer.Shutdown(ctx)
	})
	shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
		logger.Info("closing database connection")
		return db.Close()
	})
	if otelProviders != nil {
		shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
			logger.Info("shutting down OpenTelemetry")
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}
	if redisClient != nil {
		shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
			logger.Info("closing redis connection")
			return redisClient.Close()
		})
	}

	go func() {
		logger.Infof("starting subatomic-server on %s:%s", cfg.Server.Host, cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server failed")
			os.Exit(1)
		}
	}()

	logger.Info("server started, waiting for shutdown signal")
	if err := shutdownManager.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
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
		return nil, fmt.Errorf("unknown object store backend type: %s", cfg.BackendType)
	}
}
