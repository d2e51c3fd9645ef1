package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store file constants.
const (
	// driverName is the database/sql driver registered by go-sqlite3.
	driverName = "sqlite3"

	// dirPermissions is the permission mode for a created store directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for a created store file.
	filePermissions = 0600

	// msPerSecond converts seconds to milliseconds.
	msPerSecond = 1000
)

// Config describes how to open one store.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	Path string

	// CreateIfMissing creates the file (and its directory) when it does not
	// exist. When false a missing file is an open failure.
	CreateIfMissing bool

	// WALMode enables Write-Ahead Logging.
	WALMode bool

	// BusyTimeout is the maximum time to wait for a file lock (seconds).
	BusyTimeout int
}

// ConnFunc is the work performed while a connection is held.
type ConnFunc func(ctx context.Context, conn *sqlx.DB) error

// WithConnection opens the store described by cfg, runs fn with it and
// releases the connection on every exit path, including a panic in fn.
//
// Connections are never cached between calls. Each call owns exactly one
// driver connection for its whole duration.
func WithConnection(ctx context.Context, cfg Config, fn ConnFunc) (err error) {
	conn, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%w: %w", ErrClose, closeErr)
		}
	}()

	return fn(ctx, conn)
}

// Open opens a single-connection handle to the store.
// Callers own the handle and must Close it; prefer WithConnection.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, ErrEmptyPath
	}

	if cfg.CreateIfMissing {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("%w: creating store directory: %w", ErrOpen, err)
		}
	} else if _, err := os.Stat(cfg.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cfg.Path)
		}
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	conn, err := sqlx.Open(driverName, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	// One connection per call; nothing is pooled across operations.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	if cfg.CreateIfMissing {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // file may be created lazily on first write
	}

	return conn, nil
}

// DSN builds the go-sqlite3 connection string for cfg. The path is
// percent-escaped so '?', '#' and '%' in a file name reach SQLite intact.
// See: https://github.com/mattn/go-sqlite3#connection-string
func DSN(cfg Config) string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprintf("%d", cfg.BusyTimeout*msPerSecond))
	params.Set("_foreign_keys", "on")
	if cfg.CreateIfMissing {
		params.Set("mode", "rwc")
	} else {
		params.Set("mode", "rw")
	}
	if cfg.WALMode {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + (&url.URL{Path: cfg.Path}).EscapedPath() + "?" + params.Encode()
}

// HealthCheck opens the store, reads the catalog and releases it.
// Reading sqlite_master forces the file header to be parsed, so a file that
// is not a database fails here rather than on the first real statement.
func HealthCheck(ctx context.Context, cfg Config) error {
	return WithConnection(ctx, cfg, func(ctx context.Context, conn *sqlx.DB) error {
		var n int
		if err := conn.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
		return nil
	})
}
