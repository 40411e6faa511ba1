package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dejobratic/orderflow/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// RunMigrations applies pending migrations and logs the resulting schema
// version. An empty migrationsPath uses the migrations embedded in the binary.
func RunMigrations(databaseURL, migrationsPath string, logger *slog.Logger) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := newMigrator(migrationsPath, driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	if logger != nil {
		source := migrationsPath
		if source == "" {
			source = "embedded"
		}
		logger.Info("database schema up to date", "version", version, "source", source)
	}

	return nil
}

func newMigrator(migrationsPath string, driver *postgres.Postgres) (*migrate.Migrate, error) {
	if migrationsPath != "" {
		return migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	}

	source, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return nil, err
	}
	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}
