// Package database defines the database connection contracts used by the cache store.
package database

import (
	"database/sql"

	dbconfig "github.com/tigerroll/statickg/pkg/etl/adapter/database/config"

	"gorm.io/gorm"
)

// DBConnection is an open, named database connection.
type DBConnection interface {
	// Name returns the logical connection name (e.g. "cache").
	Name() string
	// Type returns the database type (e.g. "sqlite").
	Type() string
	// GormDB returns the gorm handle.
	GormDB() *gorm.DB
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// Close closes the connection.
	Close() error
}

// DBProvider opens and tracks named connections.
type DBProvider interface {
	// Open returns the connection called name, establishing it from cfg on first use.
	Open(name string, cfg dbconfig.DatabaseConfig) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
}
