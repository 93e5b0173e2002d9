// Package store implements the durable repository (C2): clients and files,
// backed by GORM over a local SQLite file, grounded on the teacher's
// control-plane store package but trimmed to this protocol's two tables
// and rewritten around the specification's capability-bag operations
// (InsertClient, SetKeys, Touch, FindByNameID, ...) instead of generic
// CRUD.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config contains the on-disk SQLite database configuration.
type Config struct {
	// Path is the path to the SQLite database file. Defaults to
	// "vaultd.db" in the current working directory when empty.
	Path string
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "vaultd.db"
	}
}

// GORMStore implements Repository using GORM over SQLite.
type GORMStore struct {
	db *gorm.DB
}

// New opens (creating if absent) the SQLite database described by config
// and runs auto-migration for the clients and files schema (§6.4).
func New(config *Config) (*GORMStore, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()

	if dir := filepath.Dir(config.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// SQLite pragmas for concurrent access from many connection
	// goroutines: WAL allows concurrent readers alongside a single
	// writer, and a busy_timeout avoids immediate SQLITE_BUSY errors
	// under contention rather than surfacing them as StorageError.
	dsn := config.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &GORMStore{db: db}, nil
}

// DB returns the underlying GORM database connection, for tests.
func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying database connection.
func (s *GORMStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueConstraintError checks if the error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// convertNotFoundError converts gorm.ErrRecordNotFound to the appropriate domain error.
func convertNotFoundError(err error, notFoundErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr
	}
	return err
}
