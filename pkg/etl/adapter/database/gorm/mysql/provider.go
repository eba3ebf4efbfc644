// Package mysql registers the MySQL dialector with the gorm adapter.
package mysql

import (
	"fmt"

	dbconfig "github.com/tigerroll/statickg/pkg/etl/adapter/database/config"
	gormadapter "github.com/tigerroll/statickg/pkg/etl/adapter/database/gorm"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the DSN for MySQL connections.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, port, c.Database)
}
