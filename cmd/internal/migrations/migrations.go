// Package migrations applies the embedded schema with golang-migrate.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/*.sql
var files embed.FS

// Up creates schema if needed and applies every pending migration inside it.
// databaseURL is the postgres:// URL the pool was opened with.
func Up(ctx context.Context, pool *pgxpool.Pool, databaseURL, schema string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("migrations: create schema: %w", err)
	}

	target, err := driverURL(databaseURL, schema)
	if err != nil {
		return err
	}
	src, err := iofs.New(files, "sql")
	if err != nil {
		return fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return fmt.Errorf("migrations: init: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	m.Log = slogLogger{log: log}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrations: version: %w", err)
	}
	log.Info("db.migrate.ok", "schema", schema, "version", version, "dirty", dirty)
	return nil
}

// driverURL rewrites a postgres URL for the pgx5 migrate driver, pinning search_path to schema
// so unqualified DDL and the version table land there.
func driverURL(databaseURL, schema string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(databaseURL))
	if err != nil {
		return "", fmt.Errorf("migrations: parse url: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
	default:
		return "", fmt.Errorf("migrations: unsupported url scheme %q", u.Scheme)
	}
	u.Scheme = "pgx5"
	q := u.Query()
	q.Set("search_path", schema)
	q.Set("x-migrations-table", "schema_migrations")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type slogLogger struct{ log *slog.Logger }

func (l slogLogger) Printf(format string, v ...any) {
	l.log.Debug("db.migrate", "msg", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l slogLogger) Verbose() bool { return false }
