// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: it lives inside the Go binary as a single file.
// No separate database server to install or manage, which suits a single-node
// campus deployment. Tests use ":memory:" for a fresh database per test.
//
// modernc.org/sqlite is a pure Go translation of the SQLite C code, so no C
// compiler is needed and cross-compilation just works.
//
// LAYOUT:
//   - users     one row per account, email UNIQUE
//   - resources one row per uploaded document; tags stored as a JSON array
//   - ratings   one row per (resource, user), UNIQUE, with a position column
//     that keeps submission order stable when a rating is overwritten
package sqlite

import (
	"database/sql"
	"fmt"

	// The blank import registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and hands out the per-table stores.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/resources.db"  → file-based database (persistent)
//   - ":memory:"           → in-memory database (tests)
//
// SINGLE CONNECTION:
// Every ":memory:" connection is its own private database, and SQLite only
// allows one writer at a time anyway. Pinning the pool to one connection keeps
// both cases simple: all statements see the same data and writes never fight
// over the file lock. Callers must not issue a second query while iterating
// rows (collect first, then query again).
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the user store backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

// Resources returns the resource store backed by this database.
// It also implements repository.StatsRepository.
func (db *DB) Resources() *ResourceDB {
	return &ResourceDB{conn: db.conn}
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL DEFAULT '',
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'student',
			status        TEXT NOT NULL DEFAULT 'active',
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// uploaded_by is deliberately not a foreign key: users are never
	// hard-deleted, and stats tolerate an uploader that fails to resolve.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS resources (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			subject     TEXT NOT NULL DEFAULT '',
			semester    TEXT NOT NULL DEFAULT '',
			tags        TEXT NOT NULL DEFAULT '[]',
			file_url    TEXT NOT NULL DEFAULT '',
			uploaded_by TEXT NOT NULL,
			avg_rating  REAL NOT NULL DEFAULT 0,
			downloads   INTEGER NOT NULL DEFAULT 0,
			version     INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_resources_uploaded_by ON resources(uploaded_by);
		CREATE INDEX IF NOT EXISTS idx_resources_created_at ON resources(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating resources table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS ratings (
			resource_id TEXT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
			user_id     TEXT NOT NULL,
			position    INTEGER NOT NULL,
			score       INTEGER NOT NULL CHECK (score BETWEEN 1 AND 5),
			feedback    TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (resource_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_ratings_user_id ON ratings(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating ratings table: %w", err)
	}

	return nil
}
