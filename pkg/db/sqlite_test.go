package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenCreatesDatabase(t *testing.T) {
	d := openTestDB(t)

	if _, err := d.Write().Exec(`CREATE TABLE items (name TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := d.Write().Exec(`INSERT INTO items(name) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var name string
	if err := d.Read().QueryRow(`SELECT name FROM items`).Scan(&name); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if name != "a" {
		t.Fatalf("expected a, got %q", name)
	}

	var mode string
	if err := d.Read().QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal, got %q", mode)
	}
}

func TestReadPoolRejectsWrites(t *testing.T) {
	d := openTestDB(t)
	if _, err := d.Write().Exec(`CREATE TABLE items (name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := d.Read().Exec(`INSERT INTO items(name) VALUES ('x')`); err == nil {
		t.Fatalf("expected read pool to reject writes")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	if _, err := d.Write().Exec(`CREATE TABLE items (name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	boom := errors.New("boom")
	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO items(name) VALUES ('x')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int
	if err := d.Read().QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d rows", count)
	}

	if err := d.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO items(name) VALUES ('y')`)
		return err
	}); err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
	if err := d.Read().QueryRow(`SELECT COUNT(*) FROM items`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected committed row, found %d", count)
	}
}
