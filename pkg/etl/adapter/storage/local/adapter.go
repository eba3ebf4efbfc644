// Package local implements the storage contract on directories of the local file system.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/statickg/pkg/etl/adapter/storage"
	storageConfig "github.com/tigerroll/statickg/pkg/etl/adapter/storage/config"
	"github.com/tigerroll/statickg/pkg/etl/support/util/fileutil"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// ProviderType is the storage type served by this package.
const ProviderType = "local"

// dirConnection is a storage.StorageConnection rooted at one directory.
type dirConnection struct {
	cfg storageConfig.StorageConfig
	// root is the absolute form of cfg.BaseDir, used for containment checks.
	root string
}

var _ storage.StorageConnection = (*dirConnection)(nil)

// NewLocalAdapter opens a connection on cfg.BaseDir, creating the directory when missing.
func NewLocalAdapter(cfg storageConfig.StorageConfig) (storage.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("local storage: base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage: create %s: %w", cfg.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage: stat %s: %w", cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage: %s is not a directory", cfg.BaseDir)
	}
	root, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	return &dirConnection{cfg: cfg, root: root}, nil
}

func (c *dirConnection) Name() string    { return c.cfg.BaseDir }
func (c *dirConnection) Type() string    { return ProviderType }
func (c *dirConnection) BaseDir() string { return c.cfg.BaseDir }
func (c *dirConnection) Close() error    { return nil }

// path maps an object name to a file below the root. Names that leave the root are rejected.
func (c *dirConnection) path(objectName string) (string, error) {
	if objectName == "" {
		return "", fmt.Errorf("local storage %s: empty object name", c.cfg.BaseDir)
	}
	full := filepath.Join(c.root, filepath.FromSlash(objectName))
	rel, err := filepath.Rel(c.root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("local storage %s: object %q is outside the base directory", c.cfg.BaseDir, objectName)
	}
	return full, nil
}

func (c *dirConnection) Upload(ctx context.Context, objectName string, data io.Reader) error {
	full, err := c.path(objectName)
	if err != nil {
		return err
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("local storage: read %s: %w", objectName, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("local storage: %w", err)
	}
	if err := fileutil.WriteFileAtomic(full, content, 0o644); err != nil {
		return fmt.Errorf("local storage: write %s: %w", objectName, err)
	}
	return nil
}

func (c *dirConnection) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	full, err := c.path(objectName)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// ListObjects visits regular files in lexical order.
func (c *dirConnection) ListObjects(ctx context.Context, prefix string, fn func(objectName string) error) error {
	return filepath.WalkDir(c.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			return fn(name)
		}
		return nil
	})
}

func (c *dirConnection) DeleteObject(ctx context.Context, objectName string) error {
	full, err := c.path(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("local storage: delete %s: %w", objectName, err)
	}
	return nil
}

// LocalProvider hands out one connection per cleaned directory path.
type LocalProvider struct {
	mu    sync.Mutex
	conns map[string]storage.StorageConnection
}

var _ storage.StorageProvider = (*LocalProvider)(nil)

func NewLocalProvider() *LocalProvider {
	return &LocalProvider{conns: make(map[string]storage.StorageConnection)}
}

func (p *LocalProvider) GetConnection(baseDir string) (storage.StorageConnection, error) {
	dir := filepath.Clean(baseDir)

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[dir]; ok {
		return conn, nil
	}
	conn, err := NewLocalAdapter(storageConfig.StorageConfig{Type: ProviderType, BaseDir: dir})
	if err != nil {
		return nil, err
	}
	p.conns[dir] = conn
	logger.Debugf("Opened local storage at %s", dir)
	return conn, nil
}

func (p *LocalProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for dir, conn := range p.conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("local storage %s: %w", dir, err))
		}
		delete(p.conns, dir)
	}
	return result.ErrorOrNil()
}

func (p *LocalProvider) Type() string { return ProviderType }
