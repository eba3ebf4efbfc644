// Package sql persists cache records in a relational database through gorm.
// All namespaces share the table statickg_process_status; the schema is created with
// golang-migrate from the embedded migrations directory.
package sql

import (
	"context"
	"embed"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tigerroll/statickg/pkg/etl/adapter/database"
	"github.com/tigerroll/statickg/pkg/etl/adapter/database/migration"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
)

const (
	moduleName = "cache/sql"
	// TableName is the table holding every cache record.
	TableName = "statickg_process_status"
	// MigrationsTable is the golang-migrate version table of the cache schema.
	MigrationsTable = "statickg_schema_migrations"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// processStatusRow is the persisted form of model.ProcessStatus.
type processStatusRow struct {
	Namespace string    `gorm:"column:namespace;primaryKey"`
	UnitID    string    `gorm:"column:unit_id;primaryKey"`
	StatusKey string    `gorm:"column:status_key"`
	Succeeded bool      `gorm:"column:succeeded"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (processStatusRow) TableName() string { return TableName }

// Backend implements cache.Backend over one database connection.
// Writes from every namespace are serialized.
type Backend struct {
	conn database.DBConnection
	db   *gorm.DB
	mu   sync.Mutex
}

var _ cache.Backend = (*Backend)(nil)

// NewBackend migrates the schema of conn and returns a Backend using it.
func NewBackend(ctx context.Context, conn database.DBConnection) (*Backend, error) {
	if err := migration.NewMigrator(conn).Up(ctx, migrationsFS, "migrations", MigrationsTable); err != nil {
		return nil, exception.NewETLError(moduleName, exception.ErrCacheStore, "failed to migrate cache schema", err)
	}
	return NewBackendWithoutMigration(conn), nil
}

// NewBackendWithoutMigration returns a Backend assuming the schema already exists.
func NewBackendWithoutMigration(conn database.DBConnection) *Backend {
	return &Backend{conn: conn, db: conn.GormDB()}
}

// Namespace returns the Store of the given namespace.
func (b *Backend) Namespace(name string) cache.Store {
	return &Store{backend: b, namespace: name}
}

// Close closes the underlying connection.
func (b *Backend) Close() error {
	return b.conn.Close()
}

// Store implements cache.Store for one namespace.
type Store struct {
	backend   *Backend
	namespace string
}

var _ cache.Store = (*Store)(nil)

func (s *Store) scope(ctx context.Context) *gorm.DB {
	return s.backend.db.WithContext(ctx).Model(&processStatusRow{}).Where("namespace = ?", s.namespace)
}

// Lookup implements cache.Store.
func (s *Store) Lookup(ctx context.Context, unitID string) (model.ProcessStatus, bool, error) {
	var row processStatusRow
	err := s.scope(ctx).Where("unit_id = ?", unitID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ProcessStatus{}, false, nil
	}
	if err != nil {
		return model.ProcessStatus{}, false, s.fail(err, "failed to look up %s", unitID)
	}
	return model.ProcessStatus{Key: row.StatusKey, Succeeded: row.Succeeded}, true, nil
}

// Commit implements cache.Store as an upsert.
func (s *Store) Commit(ctx context.Context, unitID, key string, succeeded bool) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	row := processStatusRow{
		Namespace: s.namespace,
		UnitID:    unitID,
		StatusKey: key,
		Succeeded: succeeded,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.backend.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "unit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status_key", "succeeded", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return s.fail(err, "failed to commit %s", unitID)
	}
	return nil
}

// Delete implements cache.Store.
func (s *Store) Delete(ctx context.Context, unitID string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	err := s.backend.db.WithContext(ctx).
		Where("namespace = ? AND unit_id = ?", s.namespace, unitID).
		Delete(&processStatusRow{}).Error
	if err != nil {
		return s.fail(err, "failed to delete %s", unitID)
	}
	return nil
}

// Clear implements cache.Store.
func (s *Store) Clear(ctx context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	err := s.backend.db.WithContext(ctx).
		Where("namespace = ?", s.namespace).
		Delete(&processStatusRow{}).Error
	if err != nil {
		return s.fail(err, "failed to clear namespace")
	}
	return nil
}

// Count implements cache.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.scope(ctx).Count(&n).Error; err != nil {
		return 0, s.fail(err, "failed to count records")
	}
	return int(n), nil
}

// All implements cache.Store.
func (s *Store) All(ctx context.Context) (map[string]model.ProcessStatus, error) {
	var rows []processStatusRow
	if err := s.scope(ctx).Find(&rows).Error; err != nil {
		return nil, s.fail(err, "failed to list records")
	}
	out := make(map[string]model.ProcessStatus, len(rows))
	for _, row := range rows {
		out[row.UnitID] = model.ProcessStatus{Key: row.StatusKey, Succeeded: row.Succeeded}
	}
	return out, nil
}

func (s *Store) fail(err error, format string, a ...interface{}) error {
	return exception.NewETLErrorf(moduleName, exception.ErrCacheStore, "[%s] "+format, append(append([]interface{}{s.namespace}, a...), err)...)
}
