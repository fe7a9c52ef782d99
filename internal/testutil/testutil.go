// Package testutil provides database fixtures for package tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/topicquests/tqos-asr-api/pkg/schema"
	"github.com/topicquests/tqos-asr-api/pkg/txstore"
)

// NewDatabase creates a migrated SQLite database in a temp directory and
// returns its path.
func NewDatabase(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tq.db")
	if err := schema.Migrate("sqlite://" + path); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return path
}

// OpenStore opens a store on a fresh migrated database.
func OpenStore(t testing.TB) *txstore.Store {
	t.Helper()
	return OpenPeer(t, NewDatabase(t))
}

// OpenPeer opens another store on an existing database, the way a second
// worker would.
func OpenPeer(t testing.TB, path string) *txstore.Store {
	t.Helper()
	s, err := txstore.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// PostgresURL returns TEST_DATABASE_URL after migrating it, or skips the
// test when it is not set.
func PostgresURL(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := schema.Migrate(dsn); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	return dsn
}

// OpenPostgres opens a store on TEST_DATABASE_URL, skipping the test when it
// is not set.
func OpenPostgres(t testing.TB) *txstore.Store {
	t.Helper()
	s, err := txstore.Open(context.Background(), PostgresURL(t))
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}
