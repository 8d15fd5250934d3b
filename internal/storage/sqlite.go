package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"homehub/pkg/addon"
)

// Storage configuration constants.
const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000

	// connectionTimeout is the timeout for verifying database connectivity.
	connectionTimeout = 5 * time.Second

	// connMaxIdleTime is how long idle connections are kept open.
	connMaxIdleTime = 30 * time.Minute
)

// Config contains SQLite storage options.
// These map to the storage section of the hub configuration.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// The directory will be created if it doesn't exist.
	Path string

	// WALMode enables Write-Ahead Logging so add-ons can read while
	// another writes.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int
}

// SQLite is the file-backed addon.Storage.
type SQLite struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database and applies pending
// migrations.
//
// It performs the following setup:
//  1. Creates the database directory if it doesn't exist
//  2. Opens the database file with busy timeout and optional WAL mode
//  3. Verifies the connection with a ping
//  4. Applies embedded migrations
func Open(ctx context.Context, cfg Config) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
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

	// SQLite only supports one writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	s := &SQLite{db: sqlDB, path: cfg.Path}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may not exist until first write

	if err := s.Migrate(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Path returns the filesystem path to the database file.
func (s *SQLite) Path() string {
	return s.path
}

// Get returns the value stored under key.
func (s *SQLite) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := validate(namespace, key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM addon_kv WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, addon.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Put creates or replaces the value stored under key.
func (s *SQLite) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := validate(namespace, key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO addon_kv (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes key.
func (s *SQLite) Delete(ctx context.Context, namespace, key string) error {
	if err := validate(namespace, key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM addon_kv WHERE namespace = ? AND key = ?",
		namespace, key,
	); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Keys lists the keys of namespace in ascending order.
func (s *SQLite) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := validate(namespace, "-"); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM addon_kv WHERE namespace = ? ORDER BY key",
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", namespace, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keys: %w", err)
	}
	return keys, nil
}

// HealthCheck verifies the database is accessible and functioning.
func (s *SQLite) HealthCheck(ctx context.Context) error {
	var result int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close closes the database. The host calls it after every add-on has been
// destroyed.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
