package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database holding the client's persisted storage
type DB struct {
	*sql.DB
	sealer *Crypto
}

// Option configures a DB
type Option func(*options)

type options struct {
	passphrase string
}

// WithPassphrase seals sensitive keys with a key derived from passphrase
func WithPassphrase(passphrase string) Option {
	return func(o *options) {
		o.passphrase = passphrase
	}
}

// DefaultDBPath returns the default database path (~/.ecofinds/ecofinds.db)
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ecofinds", "ecofinds.db"), nil
}

// Open opens or creates the SQLite database
func Open(dbPath string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// The CLI, the TUI and background syncs may write at the same time, so
	// every pooled connection waits on a locked file instead of failing.
	sqlDB, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db, err := New(sqlDB, opts...)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an already opened connection and runs migrations
func New(sqlDB *sql.DB, opts ...Option) (*DB, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	db := &DB{DB: sqlDB}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if o.passphrase != "" {
		salt, err := db.loadSalt()
		if err != nil {
			return nil, fmt.Errorf("failed to load storage salt: %w", err)
		}
		db.sealer = NewCrypto(o.passphrase, salt)
	}

	return db, nil
}

// OpenDefault opens the database at the default path
func OpenDefault(opts ...Option) (*DB, error) {
	path, err := DefaultDBPath()
	if err != nil {
		return nil, err
	}
	return Open(path, opts...)
}

// Sealed reports whether sensitive keys are encrypted at rest
func (db *DB) Sealed() bool {
	return db.sealer != nil
}
