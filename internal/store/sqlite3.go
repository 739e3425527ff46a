// ABOUTME: Registers the cgo SQLite driver for database.driver "sqlite3"
// ABOUTME: Kept apart so the pure Go driver stays the default

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// NewSQLite3Store opens a store at path with github.com/mattn/go-sqlite3.
// It needs a cgo-enabled build.
func NewSQLite3Store(path string) (*SQLiteStore, error) {
	return OpenSQLite("sqlite3", path)
}
