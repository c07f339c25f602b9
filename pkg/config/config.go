// Package config loads application configuration from environment variables,
// following the same env-var-with-defaults convention used throughout the
// server's startup path.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FyraLabs/subatomic-ng/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	ObjectStore   ObjectStoreConfig
	Cache         CacheConfig
	Observability ObservabilityConfig
	Repo          RepoConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// HealthPort serves /health, /health/live, /health/ready and /metrics
	// on a separate listener,
	// the way k8s probes expect to hit a port distinct from app traffic.
	HealthPort string
}

// DatabaseConfig holds the relational store connection settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ObjectStoreBackendType selects which Storage Backend variant to construct.
type ObjectStoreBackendType string

const (
	BackendS3         ObjectStoreBackendType = "s3"
	BackendFilesystem ObjectStoreBackendType = "filesystem"
	BackendCacheOnly  ObjectStoreBackendType = "cacheonly"
)

// ObjectStoreConfig configures the Storage Backend and local Cache.
type ObjectStoreConfig struct {
	BackendType ObjectStoreBackendType

	// Local Cache mirror directory (always required, regardless of backend).
	CacheDir string

	// Filesystem-backend root, used when BackendType == filesystem.
	FilesystemRoot string

	// S3-backend settings, used when BackendType == s3.
	S3Endpoint       string
	S3Region         string
	S3Bucket         string
	S3AccessKey      string
	S3SecretKey      string
	S3ForcePathStyle bool

	// NoUpload mirrors the original implementation's NO_UPLOAD escape
	// hatch: writes still land in the local cache, but the backend upload
	// is skipped, for disconnected development.
	NoUpload bool
}

// CacheConfig configures the optional read-through caching layers in front
// of the relational store.
type CacheConfig struct {
	RedisEnabled bool
	RedisURL     string
	RedisTTL     time.Duration

	L1Enabled bool
	L1Size    int
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// RepoConfig holds domain settings specific to repository assembly.
type RepoConfig struct {
	// RepoCacheDir is where assembly stages packages before the metadata
	// generator runs. Per the original implementation, this should live on
	// the same filesystem as ExportDir so the final symlink swap is cheap.
	RepoCacheDir string

	// ExportDir is the root under which each tag's published repo tree is
	// exposed, one symlink per tag pointing at its current staging dir.
	ExportDir string

	// GeneratorBin is the external metadata-generator executable invoked
	// against a staging directory (createrepo_c by convention).
	GeneratorBin string

	// DeleteWhenPrune mirrors the legacy subatomic behavior of physically
	// removing an rpm's backing object when it is marked unavailable with
	// pruning requested, rather than merely flipping the available flag.
	DeleteWhenPrune bool

	// WatchDir is the drop-folder root watched by subatomic-watchd; each
	// immediate subdirectory name is treated as a tag name.
	WatchDir string
}

// repoFileOverrides mirrors RepoConfig's fields that operators commonly
// template into a static file (mounted via a ConfigMap or similar) rather
// than set per-environment. Read from SUBATOMIC_CONFIG_FILE if present,
// and used as the defaults that environment variables then take priority
// over.
type repoFileOverrides struct {
	Repo struct {
		RepoCacheDir    string `yaml:"repo_cache_dir"`
		ExportDir       string `yaml:"export_dir"`
		GeneratorBin    string `yaml:"generator_bin"`
		DeleteWhenPrune bool   `yaml:"delete_when_prune"`
		WatchDir        string `yaml:"watch_dir"`
	} `yaml:"repo"`
}

func loadRepoFileOverrides() repoFileOverrides {
	var overrides repoFileOverrides
	path := os.Getenv("SUBATOMIC_CONFIG_FILE")
	if path == "" {
		return overrides
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return overrides
	}
	_ = yaml.Unmarshal(data, &overrides)
	return overrides
}

// LoadConfig loads configuration from environment variables, with an
// optional SUBATOMIC_CONFIG_FILE YAML file providing the repo section's
// defaults before environment variables are applied on top.
func LoadConfig() (*Config, error) {
	fileOverrides := loadRepoFileOverrides()

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		ObjectStore:   loadObjectStoreConfig(),
		Cache:         loadCacheConfig(),
		Observability: loadObservabilityConfig(),
		Repo:          loadRepoConfig(fileOverrides),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SUBATOMIC_HOST", "0.0.0.0"),
		Port:            getEnv("SUBATOMIC_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SUBATOMIC_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SUBATOMIC_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SUBATOMIC_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SUBATOMIC_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SUBATOMIC_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("SUBATOMIC_DATABASE_URL", "postgres://localhost/subatomic?sslmode=disable"),
		MaxOpenConns:    getEnvInt("SUBATOMIC_DB_MAX_OPEN_CONNS", 20),
		MaxIdleConns:    getEnvInt("SUBATOMIC_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("SUBATOMIC_DB_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadObjectStoreConfig() ObjectStoreConfig {
	return ObjectStoreConfig{
		BackendType:      ObjectStoreBackendType(getEnv("SUBATOMIC_OBJECT_STORE_TYPE", "filesystem")),
		CacheDir:         getEnv("SUBATOMIC_CACHE_DIR", "/var/lib/subatomic/cache"),
		FilesystemRoot:   getEnv("SUBATOMIC_FILESYSTEM_ROOT", "/var/lib/subatomic/objects"),
		S3Endpoint:       getEnv("SUBATOMIC_S3_ENDPOINT", ""),
		S3Region:         getEnv("SUBATOMIC_S3_REGION", "us-east-1"),
		S3Bucket:         getEnv("SUBATOMIC_S3_BUCKET", ""),
		S3AccessKey:      getEnv("SUBATOMIC_S3_ACCESS_KEY", ""),
		S3SecretKey:      getEnv("SUBATOMIC_S3_SECRET_KEY", ""),
		S3ForcePathStyle: getEnvBool("SUBATOMIC_S3_FORCE_PATH_STYLE", true),
		NoUpload:         getEnvBool("NO_UPLOAD", false),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		RedisEnabled: getEnvBool("SUBATOMIC_REDIS_ENABLED", false),
		RedisURL:     getEnv("SUBATOMIC_REDIS_URL", "localhost:6379"),
		RedisTTL:     getEnvDuration("SUBATOMIC_REDIS_TTL", 5*time.Minute),
		L1Enabled:    getEnvBool("SUBATOMIC_L1_CACHE_ENABLED", true),
		L1Size:       getEnvInt("SUBATOMIC_L1_CACHE_SIZE", 1024),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("SUBATOMIC_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SUBATOMIC_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SUBATOMIC_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SUBATOMIC_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SUBATOMIC_OTEL_SERVICE_NAME", "subatomic-server"),
		OTelServiceVersion: getEnv("SUBATOMIC_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SUBATOMIC_OTEL_INSECURE", true),
	}
}

func loadRepoConfig(fileOverrides repoFileOverrides) RepoConfig {
	defaultRepoCacheDir := fileOverrides.Repo.RepoCacheDir
	if defaultRepoCacheDir == "" {
		defaultRepoCacheDir = "/var/lib/subatomic/repo-cache"
	}
	defaultExportDir := fileOverrides.Repo.ExportDir
	if defaultExportDir == "" {
		defaultExportDir = "/var/lib/subatomic/export"
	}
	defaultGeneratorBin := fileOverrides.Repo.GeneratorBin
	if defaultGeneratorBin == "" {
		defaultGeneratorBin = "createrepo_c"
	}
	defaultWatchDir := fileOverrides.Repo.WatchDir
	if defaultWatchDir == "" {
		defaultWatchDir = "/var/lib/subatomic/dropbox"
	}

	return RepoConfig{
		RepoCacheDir:    getEnv("SUBATOMIC_REPO_CACHE_DIR", defaultRepoCacheDir),
		ExportDir:       getEnv("SUBATOMIC_EXPORT_DIR", defaultExportDir),
		GeneratorBin:    getEnv("SUBATOMIC_GENERATOR_BIN", defaultGeneratorBin),
		DeleteWhenPrune: getEnvBool("SUBATOMIC_DELETE_WHEN_PRUNE", fileOverrides.Repo.DeleteWhenPrune),
		WatchDir:        getEnv("SUBATOMIC_WATCH_DIR", defaultWatchDir),
	}
}

// Validate checks if the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.ObjectStore.BackendType {
	case BackendFilesystem:
		if c.ObjectStore.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem object store")
		}
	case BackendS3:
		if c.ObjectStore.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 object store")
		}
	case BackendCacheOnly:
		// no backing store required
	default:
		return fmt.Errorf("invalid object store type: %s (must be filesystem, s3, or cacheonly)", c.ObjectStore.BackendType)
	}

	if c.ObjectStore.CacheDir == "" {
		return fmt.Errorf("cache dir is required")
	}
	if c.Repo.ExportDir == "" || c.Repo.RepoCacheDir == "" {
		return fmt.Errorf("repo cache dir and export dir are required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
