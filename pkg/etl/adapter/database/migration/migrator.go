// Package migration applies embedded schema migrations to a database connection with golang-migrate.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/statickg/pkg/etl/adapter/database"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// Migrator applies migrations to one connection.
type Migrator struct {
	conn database.DBConnection
}

// NewMigrator creates a Migrator for conn.
func NewMigrator(conn database.DBConnection) *Migrator {
	return &Migrator{conn: conn}
}

// databaseDriver returns the golang-migrate driver for the connection type.
func (m *Migrator) databaseDriver(sqlDB *sql.DB, tableName string) (migratedb.Driver, error) {
	switch m.conn.Type() {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.conn.Type())
	}
}

// Up applies every pending migration found under path in migrationFS.
// tableName is the version table golang-migrate keeps its state in.
func (m *Migrator) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Debugf("Applying migrations (Path: %s, Table: %s, DB: %s)", path, tableName, m.conn.Name())

	sqlDB, err := m.conn.GetSQLDB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}
	dbDriver, err := m.databaseDriver(sqlDB, tableName)
	if err != nil {
		_ = sourceDriver.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	instance, err := migrate.NewWithInstance("iofs", sourceDriver, m.conn.Type(), dbDriver)
	if err != nil {
		_ = sourceDriver.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// instance.Close would also close the shared *sql.DB; only the source is released.
	defer sourceDriver.Close()

	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed (DB: %s, Path: %s): %w", m.conn.Type(), path, err)
	}
	version, dirty, err := instance.Version()
	if err == nil {
		logger.Debugf("Schema of '%s' at version %d (dirty=%t)", m.conn.Name(), version, dirty)
	}
	return nil
}
