package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsTable keeps briefcast's schema version apart from other tools
// sharing the database.
const migrationsTable = "briefcast_schema_migrations"

// ErrDirtySchema means a previous migration failed halfway and the schema
// needs manual repair before the service can start.
var ErrDirtySchema = errors.New("database schema is dirty")

func migrationSource() (source.Driver, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return src, nil
}

// latestMigration returns the highest version shipped in the binary.
func latestMigration(src source.Driver) (uint, error) {
	version, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			// fs.ErrNotExist marks the last version.
			return version, nil
		}
		version = next
	}
}

// RunMigrations brings the schema up to the latest embedded version. A dirty
// schema is reported as ErrDirtySchema instead of being migrated over.
func RunMigrations(db *gorm.DB, log *logrus.Logger) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	src, err := migrationSource()
	if err != nil {
		return err
	}
	latest, err := latestMigration(src)
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	dbDriver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger := log.WithFields(logrus.Fields{"from": from, "latest": latest})
	if dirty {
		logger.Error("Schema left dirty by a failed migration")
		return fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("Database schema up to date")
			return nil
		}
		return fmt.Errorf("failed to migrate from version %d: %w", from, err)
	}

	to, _, _ := m.Version()
	logger.WithField("to", to).Info("Database schema migrated")
	return nil
}
