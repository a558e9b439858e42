package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"renewal_reminder/internal/infra/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres:// URLs
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// Migrate brings the schema up to date. Postgres migrations run over their
// own connection opened from dataSourceName; SQLite migrations run on db,
// because an in-memory database exists only inside that pool.
func Migrate(db *sql.DB, driver, dataSourceName string, logger *logrus.Entry) error {
	var (
		m   *migrate.Migrate
		err error
	)

	switch driver {
	case config.DriverPostgres:
		src, srcErr := iofs.New(migrationFiles, "migrations/postgres")
		if srcErr != nil {
			return fmt.Errorf("failed to load migrations: %w", srcErr)
		}
		m, err = migrate.NewWithSourceInstance("iofs", src, dataSourceName)
		if err != nil {
			return fmt.Errorf("failed to create migrate instance: %w", err)
		}
		defer m.Close()

	case config.DriverSQLite:
		src, srcErr := iofs.New(migrationFiles, "migrations/sqlite")
		if srcErr != nil {
			return fmt.Errorf("failed to load migrations: %w", srcErr)
		}
		dbDriver, drvErr := sqlite3.WithInstance(db, &sqlite3.Config{})
		if drvErr != nil {
			return fmt.Errorf("failed to create migration driver: %w", drvErr)
		}
		// m.Close would close db as well; the pool belongs to the caller.
		m, err = migrate.NewWithInstance("iofs", src, "sqlite3", dbDriver)
		if err != nil {
			return fmt.Errorf("failed to create migrate instance: %w", err)
		}

	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		version, _, _ := m.Version()
		return fmt.Errorf("failed to run migrations (current version: %d): %w", version, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.WithError(err).Warn("Failed to read migration version")
	}
	logger.WithFields(logrus.Fields{"version": version, "dirty": dirty, "driver": driver}).Info("Database migrations completed")
	return nil
}
