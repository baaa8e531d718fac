// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary builds
// without CGo. Use ":memory:" as the path in tests for a throwaway database.
//
// The store is the final authority on uniqueness: email, phone and
// referral_code all carry UNIQUE constraints, and insert failures on them are
// translated into *apperror.UniqueViolation so the service layer can decide
// whether to retry (referral_code) or give up (email, phone).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	moderncsqlite "modernc.org/sqlite" // also registers the "sqlite" driver
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/storefront-auth/internal/apperror"
)

// DB wraps a sql.DB connection pool and implements the repository interfaces.
type DB struct {
	conn *sql.DB
}

// connPragmas run on every connection the pool opens. Setting them with a
// one-off Exec would only reach whichever pooled connection ran it.
var connPragmas = []string{
	"foreign_keys(1)", // referred_by relies on it; SQLite defaults to OFF
	"journal_mode(WAL)",
	"busy_timeout(5000)",
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/storefront.db"  → file-based database (persistent)
//   - ":memory:"            → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// An in-memory database lives and dies with its connection, so the pool
	// must never open a second one.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// dsn appends the per-connection pragmas in the form modernc.org/sqlite
// applies when it opens each connection.
func dsn(dbPath string) string {
	q := url.Values{}
	for _, p := range connPragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + q.Encode()
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// PingContext reports whether the database is reachable. Used by /healthz.
func (db *DB) PingContext(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate runs all database migrations.
//
// CREATE TABLE IF NOT EXISTS keeps every statement idempotent, so this runs
// on every start.
func (db *DB) migrate() error {
	// accounts stands in for the hosted identity service's user table.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}

	// profiles is keyed by the account id. There is deliberately no foreign key
	// to accounts: the identity service is an external system and the two
	// tables are only linked by the signup saga.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			email          TEXT NOT NULL UNIQUE,
			phone          TEXT UNIQUE,
			location       TEXT NOT NULL DEFAULT '',
			role           TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
			is_active      INTEGER NOT NULL DEFAULT 1,
			wallet_balance INTEGER NOT NULL DEFAULT 0,
			points         INTEGER NOT NULL DEFAULT 0,
			referral_code  TEXT NOT NULL UNIQUE,
			referred_by    TEXT REFERENCES profiles(id),
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_login_at  DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_profiles_referred_by ON profiles(referred_by);
	`)
	if err != nil {
		return fmt.Errorf("creating profiles table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS orphaned_accounts (
			account_id  TEXT PRIMARY KEY,
			email       TEXT NOT NULL DEFAULT '',
			reason      TEXT NOT NULL DEFAULT '',
			recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating orphaned_accounts table: %w", err)
	}

	return nil
}

// translateConstraint converts SQLite constraint failures into domain errors.
// Anything else is returned unchanged.
func translateConstraint(err error) error {
	var sqlErr *moderncsqlite.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return &apperror.UniqueViolation{Field: constraintColumn(sqlErr.Error()), Err: err}
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return apperror.Integrity("foreign key constraint failed", err)
	}
	return err
}

// constraintColumn extracts "email" from messages such as
// "constraint failed: UNIQUE constraint failed: profiles.email (2067)".
func constraintColumn(msg string) string {
	idx := strings.LastIndex(msg, "failed: ")
	if idx < 0 {
		return ""
	}
	col := msg[idx+len("failed: "):]
	if sp := strings.IndexAny(col, " ,"); sp >= 0 {
		col = col[:sp]
	}
	if dot := strings.LastIndex(col, "."); dot >= 0 {
		col = col[dot+1:]
	}
	return col
}
