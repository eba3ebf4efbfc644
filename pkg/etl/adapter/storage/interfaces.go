// Package storage defines the storage contract used for task output directories.
// Object names are slash separated and relative to the connection's base directory.
package storage

import (
	"context"
	"io"
)

// StorageExecutor defines generic storage operations.
type StorageExecutor interface {
	// Upload writes data to objectName, replacing any existing object.
	Upload(ctx context.Context, objectName string, data io.Reader) error
	// Download opens objectName. The caller must close the returned reader.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for each object whose name starts with prefix.
	ListObjects(ctx context.Context, prefix string, fn func(objectName string) error) error
	// DeleteObject deletes objectName. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, objectName string) error
}

// StorageConnection is a storage location together with its operations.
type StorageConnection interface {
	StorageExecutor

	// Name returns the connection name.
	Name() string
	// Type returns the provider type (e.g. "local").
	Type() string
	// BaseDir returns the root directory of the connection.
	BaseDir() string
	Close() error
}

// StorageProvider manages the acquisition and lifecycle of storage connections.
type StorageProvider interface {
	// GetConnection returns the connection rooted at baseDir, creating it on first use.
	GetConnection(baseDir string) (StorageConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the type of storage handled by this provider.
	Type() string
}
