// Package git implements source.Repository over a local git checkout.
// Files are the tracked blobs of the current commit and each blob id is the content key.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// Runner executes a git command inside dir and returns its standard output.
type Runner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// Repository is a git backed source.Repository.
type Repository struct {
	root string
	run  Runner

	mu            sync.Mutex
	currentCommit string
	commitFiles   map[string][]model.InputFile
}

var _ source.Repository = (*Repository)(nil)

// NewRepository creates a Repository rooted at dir, using the git binary on PATH.
func NewRepository(dir string) (*Repository, error) {
	return NewRepositoryWithRunner(dir, execGit)
}

// NewRepositoryWithRunner creates a Repository that runs git commands through run.
func NewRepositoryWithRunner(dir string, run Runner) (*Repository, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path %s: %w", dir, err)
	}
	return &Repository{
		root:        root,
		run:         run,
		commitFiles: make(map[string][]model.InputFile),
	}, nil
}

func execGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Root returns the absolute path of the checkout.
func (r *Repository) Root() string {
	return r.root
}

// Fetch pulls new commits when HEAD is on a branch. In a detached HEAD state it only
// detects commits checked out by hand. It reports whether the current commit changed.
func (r *Repository) Fetch(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, r.root, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(string(out)) != "HEAD" {
		if _, err := r.run(ctx, r.root, "pull"); err != nil {
			return false, err
		}
	}

	commit, err := r.headCommit(ctx)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if commit != r.currentCommit {
		logger.Debugf("Repository %s moved from %q to %s", r.root, r.currentCommit, commit)
		r.currentCommit = commit
		return true, nil
	}
	return false, nil
}

// Glob lists the tracked files of HEAD whose relative path matches pattern.
func (r *Repository) Glob(ctx context.Context, pattern string) ([]model.InputFile, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	commit, err := r.headCommit(ctx)
	if err != nil {
		return nil, err
	}
	files, err := r.allFiles(ctx, commit)
	if err != nil {
		return nil, err
	}

	matched := make([]model.InputFile, 0)
	for _, f := range files {
		ok, err := doublestar.Match(pattern, f.RelPath)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

func (r *Repository) allFiles(ctx context.Context, commit string) ([]model.InputFile, error) {
	r.mu.Lock()
	files, ok := r.commitFiles[commit]
	r.mu.Unlock()
	if ok {
		return files, nil
	}

	out, err := r.run(ctx, r.root, "ls-tree", "-r", commit)
	if err != nil {
		return nil, err
	}
	files, err = parseLsTree(r.root, out)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.commitFiles[commit] = files
	r.mu.Unlock()
	return files, nil
}

// parseLsTree parses lines of the form "<mode> <type> <object>\t<path>".
func parseLsTree(root string, out []byte) ([]model.InputFile, error) {
	files := make([]model.InputFile, 0)
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		meta, relpath, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("unexpected ls-tree line %q", line)
		}
		fields := strings.Fields(meta)
		if len(fields) != 3 {
			return nil, fmt.Errorf("unexpected ls-tree line %q", line)
		}
		// submodules show up as "commit" entries
		if fields[1] != "blob" {
			continue
		}
		files = append(files, model.InputFile{
			Key:      fields[2],
			RelPath:  relpath,
			Path:     filepath.Join(root, filepath.FromSlash(relpath)),
			BaseType: model.BaseRepo,
		})
	}
	return files, nil
}

func (r *Repository) headCommit(ctx context.Context) (string, error) {
	out, err := r.run(ctx, r.root, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// VersionID returns the hash of the current commit.
func (r *Repository) VersionID(ctx context.Context) (string, error) {
	return r.headCommit(ctx)
}

// VersionCreatedAt returns the commit time of the current commit.
func (r *Repository) VersionCreatedAt(ctx context.Context) (time.Time, error) {
	commit, err := r.headCommit(ctx)
	if err != nil {
		return time.Time{}, err
	}
	out, err := r.run(ctx, r.root, "show", "--no-patch", "--format=%ct", commit)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unexpected commit timestamp %q: %w", out, err)
	}
	return time.Unix(ts, 0).UTC(), nil
}
