// Package store is the SQLite search index mirrored from the in-memory
// conversation and contact caches.
package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the index's SQLite connection.
type DB struct {
	*sql.DB
}

// Open opens the index at path. An empty path opens a private in-memory
// database that lives as long as the DB.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	if path == "" {
		dsn = fmt.Sprintf("file:lined-%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == "" {
		// A memory database disappears with its last connection.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// OpenMemory opens and migrates a fresh in-memory index.
func OpenMemory() (*DB, error) {
	db, err := Open("")
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
