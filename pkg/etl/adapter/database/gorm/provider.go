// Package gorm opens cache database connections through gorm. Dialects register themselves
// from the sqlite, mysql and postgres subpackages; import the ones the binary should support.
package gorm

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/statickg/pkg/etl/adapter/database"
	dbconfig "github.com/tigerroll/statickg/pkg/etl/adapter/database/config"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"

	"gorm.io/gorm"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory corresponding to the specified DB type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Provider implements database.DBProvider on top of the dialector registry.
type Provider struct {
	sqlLogLevel string

	mu          sync.Mutex
	connections map[string]database.DBConnection
}

var _ database.DBProvider = (*Provider)(nil)

// NewProvider creates a Provider whose gorm logger runs at sqlLogLevel.
func NewProvider(sqlLogLevel string) *Provider {
	return &Provider{
		sqlLogLevel: sqlLogLevel,
		connections: make(map[string]database.DBConnection),
	}
}

// Open returns the connection called name, establishing it on first use.
func (p *Provider) Open(name string, cfg dbconfig.DatabaseConfig) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}

	db, err := p.connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection '%s': %w", name, err)
	}
	conn, err := NewConnection(db, cfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Debugf("Established new DB connection: %s (%s)", name, cfg.Type)
	return conn, nil
}

// connect establishes a gorm connection based on DatabaseConfig.
func (p *Provider) connect(cfg dbconfig.DatabaseConfig) (*gorm.DB, error) {
	dialectorFactory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := dialectorFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(p.sqlLogLevel)})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return db, nil
}

// CloseAll closes all connections managed by this provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close connection %s: %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

// Connection implements database.DBConnection.
type Connection struct {
	db    *gorm.DB
	sqlDB *sql.DB
	cfg   dbconfig.DatabaseConfig
	name  string
}

// NewConnection wraps an open gorm handle.
func NewConnection(db *gorm.DB, cfg dbconfig.DatabaseConfig, name string) (*Connection, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB: %w", err)
	}
	return &Connection{db: db, sqlDB: sqlDB, cfg: cfg, name: name}, nil
}

func (c *Connection) Name() string                    { return c.name }
func (c *Connection) Type() string                    { return c.cfg.Type }
func (c *Connection) GormDB() *gorm.DB                { return c.db }
func (c *Connection) Config() dbconfig.DatabaseConfig { return c.cfg }

// GetSQLDB implements database.DBConnection.
func (c *Connection) GetSQLDB() (*sql.DB, error) {
	if c.sqlDB == nil {
		return nil, fmt.Errorf("underlying sql.DB is nil")
	}
	return c.sqlDB, nil
}

// Close implements database.DBConnection.
func (c *Connection) Close() error {
	if c.sqlDB == nil {
		return nil
	}
	logger.Debugf("Closing database connection '%s'...", c.name)
	return c.sqlDB.Close()
}
