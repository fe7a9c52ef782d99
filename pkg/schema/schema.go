// Package schema holds the embedded database migrations.
package schema

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/topicquests/tqos-asr-api/pkg/logger"
)

//go:embed migrations
var migrations embed.FS

// Migrate brings the database behind dsn up to the latest schema version.
// It accepts the same URLs as txstore.Open.
func Migrate(dsn string) error {
	m, err := newMigrate(dsn)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		logger.Debug("[Schema] database migrated", "version", version, "dirty", dirty)
	}
	return nil
}

// Down reverts every migration.
func Down(dsn string) error {
	m, err := newMigrate(dsn)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	return nil
}

func newMigrate(dsn string) (*migrate.Migrate, error) {
	dir, url, err := migrationTarget(dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise migrations: %w", err)
	}
	return m, nil
}

func closeMigrate(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		logger.Warn("[Schema] failed to close migration handles", "err", err)
	}
}

// migrationTarget picks the migration directory and the migrate database
// URL for dsn.
func migrationTarget(dsn string) (string, string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "migrations/postgres", dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "migrations/sqlite", dsn, nil
	case strings.HasPrefix(dsn, "file:"):
		path := strings.TrimPrefix(dsn, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		return "migrations/sqlite", "sqlite://" + path, nil
	default:
		return "", "", fmt.Errorf("unsupported database url %q", dsn)
	}
}
