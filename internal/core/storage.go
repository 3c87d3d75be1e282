// Package core wires document backends and logging from the process
// environment.
package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"odmcore/internal/infra/persistence/memory"
	"odmcore/internal/infra/persistence/postgres"
	"odmcore/internal/infra/persistence/s3"
	"odmcore/internal/infra/persistence/sqlite"
	"odmcore/pkg/datastore"
)

// StorageDriver identifies a concrete document backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
	StorageS3       StorageDriver = "s3"       // S3-compatible bucket
)

// Environment variables consulted by OpenBackend and NewLogger.
const (
	EnvStorageDriver = "ODMCORE_STORAGE_DRIVER"
	EnvSQLitePath    = "ODMCORE_SQLITE_PATH"
	EnvPostgresDSN   = "ODMCORE_POSTGRES_DSN"
	EnvS3Bucket      = "ODMCORE_S3_BUCKET"
	EnvS3Region      = "ODMCORE_S3_REGION"
	EnvS3Endpoint    = "ODMCORE_S3_ENDPOINT"
	EnvS3PathStyle   = "ODMCORE_S3_PATH_STYLE"
	EnvS3Prefix      = "ODMCORE_S3_PREFIX"
	EnvLogLevel      = "ODMCORE_LOG_LEVEL"
)

// OpenBackend selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	ODMCORE_STORAGE_DRIVER: memory|sqlite|postgres|s3 (default sqlite)
//	ODMCORE_SQLITE_PATH: path to sqlite file (default ./odmcore.db)
//	ODMCORE_POSTGRES_DSN: postgres DSN when driver=postgres
//	ODMCORE_S3_BUCKET: bucket when driver=s3 (required)
//	ODMCORE_S3_REGION, ODMCORE_S3_ENDPOINT, ODMCORE_S3_PREFIX: optional
//	ODMCORE_S3_PATH_STYLE: true|false (default false)
func OpenBackend(ctx context.Context) (datastore.Backend, error) {
	driver := os.Getenv(EnvStorageDriver)
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(strings.ToLower(driver)) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(ctx, os.Getenv(EnvSQLitePath))
	case StoragePostgres:
		return postgres.NewStore(ctx, os.Getenv(EnvPostgresDSN))
	case StorageS3:
		bucket := os.Getenv(EnvS3Bucket)
		if bucket == "" {
			return nil, fmt.Errorf("%s required for s3 driver", EnvS3Bucket)
		}
		return s3.New(ctx, s3.Config{
			Bucket:    bucket,
			Region:    os.Getenv(EnvS3Region),
			Endpoint:  os.Getenv(EnvS3Endpoint),
			Prefix:    os.Getenv(EnvS3Prefix),
			PathStyle: strings.EqualFold(os.Getenv(EnvS3PathStyle), "true"),
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
