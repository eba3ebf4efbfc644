// Package sqlite registers the SQLite dialector with the gorm adapter.
package sqlite

import (
	"errors"

	dbconfig "github.com/tigerroll/statickg/pkg/etl/adapter/database/config"
	gormadapter "github.com/tigerroll/statickg/pkg/etl/adapter/database/gorm"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := ConnectionString(cfg)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	})
}

// ConnectionString returns the DSN for cfg: the database file path with a busy timeout
// so concurrent readers wait instead of failing.
func ConnectionString(c dbconfig.DatabaseConfig) (string, error) {
	if c.Database == "" {
		return "", errors.New("SQLite database path cannot be empty")
	}
	if c.Database == MemoryDSN {
		return c.Database, nil
	}
	return "file:" + c.Database + "?_busy_timeout=5000", nil
}
