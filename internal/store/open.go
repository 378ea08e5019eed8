// Package store resolves connection strings into vault.Store
// implementations so binaries share one opening path.
package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/tokenvault/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/tokenvault/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/tokenvault/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/tokenvault/pkg/vault"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// Open resolves a connection string into a ready store. Supported forms:
//
//	memory://                    volatile in-process store
//	sqlite:///path/to/vault.db   embedded sqlite via gorm (schema migrated)
//	postgres://... postgresql://... gorm on the postgres driver
//	pgx://...                    pgx connection pool store
//	plain/path.db                treated as a sqlite file path
//
// It returns the store, a cleanup closing the underlying handles, and the
// resolved driver name for logging.
func Open(ctx context.Context, dsn string) (vault.Store, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	switch driver {
	case DriverMemory:
		return memstore.New(), func() error { return nil }, driver, nil
	case DriverPgx:
		pool, err := pgxpool.New(ctx, strings.Replace(dsn, "pgx://", "postgres://", 1))
		if err != nil {
			return nil, nil, "", fmt.Errorf("open pgx pool: %w", err)
		}
		return pgstore.New(pool), func() error { pool.Close(); return nil }, driver, nil
	case DriverPostgres:
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return finishGormStore(ctx, db, driver, "")
	case DriverSQLite:
		db, err := gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
		if err != nil {
			return nil, nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		return finishGormStore(ctx, db, driver, sqlitePath)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
}

func finishGormStore(ctx context.Context, db *gorm.DB, driver string, sqlitePath string) (vault.Store, func() error, string, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if sqlitePath == ":memory:" {
		// A pooled in-memory sqlite would open one empty database per
		// connection.
		sqlDB.SetMaxOpenConns(1)
	}
	if driver == DriverSQLite {
		if err := gormstore.Migrate(db); err != nil {
			_ = sqlDB.Close()
			return nil, nil, "", err
		}
	}
	return gormstore.New(db.WithContext(ctx)), func() error { return sqlDB.Close() }, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return "", "", fmt.Errorf("database url is required")
	}
	if trimmed == DriverMemory || strings.HasPrefix(trimmed, "memory://") {
		return DriverMemory, "", nil
	}
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return DriverPostgres, "", nil
	}
	if strings.HasPrefix(trimmed, "pgx://") {
		return DriverPgx, "", nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "tokenvault.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return DriverSQLite, sqlitePath, err
	}
	if scheme, _, found := strings.Cut(trimmed, "://"); found {
		return "", "", fmt.Errorf("unsupported database scheme %q", scheme)
	}
	// Anything without a scheme is a sqlite file path.
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return DriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "/:memory:") {
		return ":memory:", nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
