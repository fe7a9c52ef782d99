package txstore

import (
	"context"
	"errors"
	"os"
	"testing"
)

func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	if _, err := s.Execute(ctx, nil, `CREATE TEMP TABLE items (id TEXT PRIMARY KEY, n INTEGER NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return s
}

func TestPostgresFailedStatementKeepsTransactionUsable(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	if err := s.BeginTransaction(ctx, nil); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := insert(ctx, s, nil, "a", 1); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := insert(ctx, s, nil, "a", 2); !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected ErrConstraint, got %v", err)
	}
	if err := insert(ctx, s, nil, "b", 2); err != nil {
		t.Fatalf("expected transaction to survive the failed statement, got %v", err)
	}
	if err := s.EndTransaction(ctx, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := countItems(t, s); got != 2 {
		t.Fatalf("expected 2 rows, got %d", got)
	}
}
