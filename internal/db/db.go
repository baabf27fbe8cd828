// Package db provides SQLite persistence for vexdash.
//
// The store keeps two collections keyed by instance name:
//   - archives: JSON snapshots of instances that finished
//   - event_logs: the ordered telemetry recorded for each instance
//
// The database uses SQLite with WAL mode and a single connection, so every
// read-modify-write in this package is serialized.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// pragmas run on the single connection before migrations.
var pragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
}

// Store holds the SQLite handle for vexdashd. A nil *Store is a valid
// "no persistence" store for Close.
type Store struct {
	Path string
	DB   *sql.DB
}

// Open creates the parent directory (0750), connects to SQLite with a single
// connection, applies pragmas and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create db dir %s: %w", filepath.Dir(path), err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if err := prepare(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("prepare sqlite %s: %w", path, err)
	}
	return &Store{Path: path, DB: conn}, nil
}

func prepare(conn *sql.DB) error {
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}
	return Migrate(conn)
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
