// Package dbtest opens migrated throwaway databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/venturedeck/venturedeck/internal/platform/db"
)

// OpenSQLite opens a SQLite database in t.TempDir(), applies every migration
// and registers cleanup.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sqlite")
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open test sqlite: %v", err)
	}
	// a single connection keeps concurrent readers and the writer on one handle
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	if err := db.Migrate(context.Background(), conn, db.DialectSQLite); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return conn
}
