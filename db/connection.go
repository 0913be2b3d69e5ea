// Package db is the sqlite attempt ledger: every generation attempt, its
// outcome and timing, kept for diagnostics and the stats command.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	// SQLite driver (pure Go, no CGO required)
	_ "modernc.org/sqlite"
)

// ConnectionConfig holds configuration for SQLite connections.
type ConnectionConfig struct {
	// Path is the database file path
	Path string
	// BusyTimeout is how long a writer waits for the lock
	BusyTimeout time.Duration
	// MaxOpenConns limits concurrent connections (one writer)
	MaxOpenConns int
	// MaxIdleConns limits idle connections in pool
	MaxIdleConns int
}

// DefaultConnectionConfig returns WAL-friendly defaults for a single-writer
// ledger.
func DefaultConnectionConfig(path string) ConnectionConfig {
	return ConnectionConfig{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// dsn encodes the pragmas in the connection string so modernc applies them
// to every pooled connection, not only the first.
func (c ConnectionConfig) dsn() string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "synchronous(NORMAL)")
	return c.Path + "?" + q.Encode()
}

// NewSQLiteConnection opens the ledger with WAL journaling and verifies the
// journal mode took effect.
func NewSQLiteConnection(config ConnectionConfig) (*sql.DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", config.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(max(config.MaxOpenConns, 1))
	db.SetMaxIdleConns(config.MaxIdleConns)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		db.Close()
		return nil, fmt.Errorf("WAL mode not enabled, got: %s", journalMode)
	}

	return db, nil
}
