// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	SUBATOMIC_HOST="0.0.0.0"
//	SUBATOMIC_PORT="8080"
//	SUBATOMIC_HEALTH_PORT="9090"
//	SUBATOMIC_READ_TIMEOUT="15s"
//	SUBATOMIC_WRITE_TIMEOUT="15s"
//
// Object store settings:
//
//	SUBATOMIC_OBJECT_STORE_TYPE="s3"  # filesystem, s3, cacheonly
//	SUBATOMIC_CACHE_DIR="/var/lib/subatomic/cache"
//	SUBATOMIC_FILESYSTEM_ROOT="/var/lib/subatomic/objects"
//	SUBATOMIC_S3_BUCKET="subatomic-rpms"
//	SUBATOMIC_S3_REGION="us-east-1"
//
// Repo assembly settings:
//
//	SUBATOMIC_REPO_CACHE_DIR="/var/lib/subatomic/repo-cache"
//	SUBATOMIC_EXPORT_DIR="/var/lib/subatomic/export"
//	SUBATOMIC_GENERATOR_BIN="createrepo_c"
//
// Observability settings:
//
//	SUBATOMIC_LOG_LEVEL="info"  # debug, info, warn, error
//	SUBATOMIC_METRICS_ENABLED="true"
//	SUBATOMIC_OTEL_ENABLED="true"
//	SUBATOMIC_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/objstore: uses the object store and repo settings
//   - pkg/observability: uses the observability settings
package config
