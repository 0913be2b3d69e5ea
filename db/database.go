package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"spacethumbs/logging"
)

// ErrClosed is returned by operations on a closed Database.
var ErrClosed = errors.New("db: database is closed")

// Database owns the ledger connection and its schema.
//
// Usage:
//
//	database, err := db.Open(cfg.LedgerPath, logger)
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//	repo := db.NewRepository(database, logger)
type Database struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
	mu     sync.RWMutex
}

// Open creates the file and parent directories if needed, applies pending
// migrations and returns the ready ledger.
func Open(path string, logger *logging.Logger) (*Database, error) {
	return OpenWithConfig(DefaultConnectionConfig(path), logger)
}

// OpenWithConfig is Open with a custom connection configuration.
func OpenWithConfig(config ConnectionConfig, logger *logging.Logger) (*Database, error) {
	logger = logging.OrNop(logger)
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// The migrator closes the connection it is given, so it gets its own.
	migConn, err := NewSQLiteConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migration: %w", err)
	}
	if err := MigrateUp(migConn); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	conn, err := NewSQLiteConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	logger.Debug("opened attempt ledger", zap.String("path", config.Path))
	return &Database{db: conn, path: config.Path, logger: logger}, nil
}

// DB returns the underlying connection. Do not close it directly.
func (d *Database) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// Ping verifies the connection is alive.
func (d *Database) Ping() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return ErrClosed
	}
	return d.db.Ping()
}

// Close closes the connection. It is safe to call more than once.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.db = nil
	return nil
}
