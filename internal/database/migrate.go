package database

import (
	"database/sql"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// ExecuteMigrations runs all pending database migrations
func ExecuteMigrations(db *sql.DB) {
	// Create postgres driver
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logrus.Fatal("Failed to create postgres driver: ", err)
	}

	// Create migrate instance
	m, err := migrate.NewWithDatabaseInstance(
		"file://"+filepath.Join("migrations"),
		"postgres",
		driver,
	)
	if err != nil {
		logrus.Fatal("Failed to create migrate instance: ", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		logrus.Fatal("Failed to run migrations: ", err)
	}

	logrus.Info("Database migrations completed successfully")
}

// RollbackMigration rolls back the last migration
func RollbackMigration(db *sql.DB) {
	// Create postgres driver
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logrus.Fatal("Failed to create postgres driver: ", err)
	}

	// Create migrate instance
	m, err := migrate.NewWithDatabaseInstance(
		"file://"+filepath.Join("migrations"),
		"postgres",
		driver,
	)
	if err != nil {
		logrus.Fatal("Failed to create migrate instance: ", err)
	}

	// Rollback migration
	if err := m.Steps(-1); err != nil {
		logrus.Fatal("Failed to rollback migration: ", err)
	}

	logrus.Info("Migration rolled back successfully")
}
