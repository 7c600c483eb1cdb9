package db

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed migrations
var migrationsFS embed.FS

// applyMigrations applies the embedded schema for the store's dialect. The migrate
// instance is not closed: closing it would close the shared *sql.DB.
func (s *SQL) applyMigrations() error {
	dir := "migrations/sqlite"
	if s.dialect == DialectPostgres {
		dir = "migrations/postgres"
	}
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return errors.Wrap(err, "open migrations")
	}
	var drv database.Driver
	switch s.dialect {
	case DialectSQLite:
		drv, err = migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	case DialectPostgres:
		drv, err = migratepgx.WithInstance(s.db.DB, &migratepgx.Config{})
	default:
		return errors.Errorf("no migrations for dialect %q", s.dialect)
	}
	if err != nil {
		return errors.Wrap(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, string(s.dialect), drv)
	if err != nil {
		return errors.Wrap(err, "init migrations")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}
