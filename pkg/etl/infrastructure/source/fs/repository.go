// Package fs implements source.Repository over a plain directory.
// Content keys are sha256 digests and the snapshot version is a digest of every
// file key, so it changes exactly when some file is added, removed or modified.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/support/util/fileutil"
)

// Repository is a directory backed source.Repository.
type Repository struct {
	root string

	mu          sync.Mutex
	lastVersion string
}

var _ source.Repository = (*Repository)(nil)

// NewRepository creates a Repository rooted at dir.
func NewRepository(dir string) (*Repository, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path %s: %w", dir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository %s is not a directory", root)
	}
	return &Repository{root: root}, nil
}

// Root returns the absolute path of the directory.
func (r *Repository) Root() string {
	return r.root
}

// Glob lists the regular files matching pattern.
func (r *Repository) Glob(ctx context.Context, pattern string) ([]model.InputFile, error) {
	return globInputs(ctx, r.root, pattern)
}

func globInputs(ctx context.Context, root, pattern string) ([]model.InputFile, error) {
	matches, err := fileutil.Glob(ctx, root, pattern)
	if err != nil {
		return nil, err
	}
	files := make([]model.InputFile, len(matches))
	for i, m := range matches {
		files[i] = model.InputFile{Key: m.Digest, RelPath: m.RelPath, Path: m.Path, BaseType: model.BaseRepo}
	}
	return files, nil
}

// Fetch reports whether the directory content changed since the previous call.
// The first call always reports true.
func (r *Repository) Fetch(ctx context.Context) (bool, error) {
	version, err := r.VersionID(ctx)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if version == r.lastVersion {
		return false, nil
	}
	r.lastVersion = version
	return true, nil
}

// VersionID returns a digest over the relative paths and keys of every file.
func (r *Repository) VersionID(ctx context.Context) (string, error) {
	files, err := globInputs(ctx, r.root, "**")
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, f := range files {
		fmt.Fprintf(h, "%s\x00%s\n", f.RelPath, f.Key)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VersionCreatedAt returns the most recent modification time among the files.
func (r *Repository) VersionCreatedAt(ctx context.Context) (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(r.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return latest.UTC(), nil
}
