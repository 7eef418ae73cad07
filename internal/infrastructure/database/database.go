package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying database connectivity.
	connectionTimeout = 5 * time.Second
)

// DB wraps a sql.DB connection with migration support, health checks and
// lifecycle management.
type DB struct {
	*sql.DB
	path string
}

// Config contains database configuration options.
// These map to the database section of config.yaml.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging so history reads do not block
	// the writer.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int
}

// Open creates a new database connection with the specified configuration.
//
// It performs the following setup:
//  1. Creates the database directory if it doesn't exist
//  2. Opens the database file (creates if not present)
//  3. Configures WAL mode and busy timeout
//  4. Verifies the connection with a ping
//  5. Restricts file permissions to 0600
//
// Parameters:
//   - ctx: Context bounding the connectivity check
//   - cfg: Database configuration
//
// Returns:
//   - *DB: Connected database wrapper
//   - error: If connection or configuration fails
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// See: https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path,
		cfg.BusyTimeout*msPerSecond,
	)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite supports a single writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db := &DB{
		DB:   sqlDB,
		path: cfg.Path,
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // file may not exist until the first write

	return db, nil
}

// Close closes the database connection gracefully.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the database is accessible and functioning.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
