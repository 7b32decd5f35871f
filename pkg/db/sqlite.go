package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	_ "modernc.org/sqlite"
)

// DB pairs a single-connection write pool with a concurrent read pool on the
// same SQLite file.
type DB struct {
	path  string
	read  *sql.DB
	write *sql.DB
}

// sqliteDBString builds a modernc.org/sqlite DSN; every pragma is applied to
// each new pooled connection.
func sqliteDBString(file string, readonly bool) string {
	params := make(url.Values)
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(10000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "cache_size(-20000)") // 20MB cache
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "temp_store(MEMORY)")

	if readonly {
		params.Add("_pragma", "query_only(1)")
	} else {
		params.Add("_txlock", "immediate")
	}

	return "file:" + file + "?" + params.Encode()
}

func openSQLiteDatabase(file string, readonly bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", sqliteDBString(file, readonly))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if readonly {
		// Read pool: allow multiple concurrent connections
		maxConns := max(4, runtime.NumCPU())
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	} else {
		// Write pool: single connection to serialize writes
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Open creates the parent directory if needed and opens both pools. The write
// pool is opened first so that it creates the file.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	write, err := openSQLiteDatabase(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open write database: %w", err)
	}

	read, err := openSQLiteDatabase(path, true)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("failed to open read database: %w", err)
	}

	return &DB{path: path, read: read, write: write}, nil
}

func (d *DB) Path() string { return d.path }

// Read returns the read-only connection pool.
func (d *DB) Read() *sql.DB { return d.read }

// Write returns the serialized read-write connection pool.
func (d *DB) Write() *sql.DB { return d.write }

// WithTx executes fn within an immediate transaction on the write pool.
func (d *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes both connection pools.
func (d *DB) Close() error {
	var errs []error

	if d.read != nil {
		if err := d.read.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close read database: %w", err))
		}
	}

	if d.write != nil {
		if err := d.write.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close write database: %w", err))
		}
	}

	return errors.Join(errs...)
}
