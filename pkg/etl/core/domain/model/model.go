// Package model defines the data model shared by every statickg component.
package model

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
)

// BaseType names a symbolic base directory that configuration paths may be relative to.
type BaseType string

const (
	// BaseCfgDir is the directory containing the pipeline configuration file.
	BaseCfgDir BaseType = "CFG_DIR"
	// BaseRepo is the root of the source repository.
	BaseRepo BaseType = "REPO"
	// BaseDataDir is the data directory of the working directory.
	BaseDataDir BaseType = "DATA_DIR"
	// BaseWorkDir is the working directory itself.
	BaseWorkDir BaseType = "WORK_DIR"
	// BaseAbsolute marks a plain path that is not relative to any base directory.
	BaseAbsolute BaseType = ""
)

// BaseTypes lists the base types in the order they are matched against configuration strings.
var BaseTypes = []BaseType{BaseCfgDir, BaseRepo, BaseDataDir, BaseWorkDir}

// Prefix returns the "::NAME::" marker used in configuration strings, or "" for BaseAbsolute.
func (b BaseType) Prefix() string {
	if b == BaseAbsolute {
		return ""
	}
	return "::" + string(b) + "::"
}

// RelPath is a path relative to a symbolic base directory.
// Its identity (Ident) does not depend on where the base directory lives on disk.
type RelPath struct {
	BaseType BaseType
	BasePath string
	RelPath  string
}

// Path returns the absolute path.
func (p RelPath) Path() string {
	return filepath.Join(p.BasePath, filepath.FromSlash(p.RelPath))
}

// Ident returns the symbolic form "::BASE::relpath". Absolute paths are returned as is.
func (p RelPath) Ident() string {
	return p.BaseType.Prefix() + p.RelPath
}

// String implements fmt.Stringer.
func (p RelPath) String() string {
	return p.Ident()
}

// MarshalJSON encodes the path by its symbolic identity so snapshots are location independent.
func (p RelPath) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Ident())
}

// ResolveRefs replaces every "::BASE::" marker inside s with the matching absolute base path.
// It is used for shell command templates where markers may appear anywhere.
func ResolveRefs(s string, dirs map[BaseType]string) string {
	for _, bt := range BaseTypes {
		dir, ok := dirs[bt]
		if !ok {
			continue
		}
		s = strings.ReplaceAll(s, bt.Prefix(), strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
	}
	return s
}

// InputFile is one file yielded by a repository listing.
// Key changes if and only if the content changes.
type InputFile struct {
	Key      string
	RelPath  string
	Path     string
	BaseType BaseType
}

// Ident returns "::BASE::relpath", the stable per-unit identity used as cache unit id.
func (f InputFile) Ident() string {
	return f.BaseType.Prefix() + f.RelPath
}

// Name returns the base filename.
func (f InputFile) Name() string {
	return filepath.Base(f.Path)
}

// Stem returns the base filename without its extension.
func (f InputFile) Stem() string {
	name := f.Name()
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ProcessStatus is the cache record of one unit of work.
// Succeeded=false means "attempted, not confirmed done".
type ProcessStatus struct {
	Key       string
	Succeeded bool
}

// Change tags a file change event.
type Change string

const (
	ChangeAdd    Change = "add"
	ChangeRemove Change = "remove"
	ChangeModify Change = "modify"
)

// FileChange is one change event.
type FileChange struct {
	Path   string
	Change Change
}

// ETLFileTracker accumulates file change events across a whole pipeline run.
// It is safe for concurrent use.
type ETLFileTracker struct {
	mu      sync.Mutex
	changes []FileChange
}

// NewETLFileTracker creates an empty tracker.
func NewETLFileTracker() *ETLFileTracker {
	return &ETLFileTracker{}
}

// Track records a change of path.
func (t *ETLFileTracker) Track(path string, change Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changes = append(t.changes, FileChange{Path: path, Change: change})
}

// Changes returns a copy of the events recorded so far, in order.
func (t *ETLFileTracker) Changes() []FileChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FileChange, len(t.changes))
	copy(out, t.changes)
	return out
}

// Count returns the number of events of the given kind.
func (t *ETLFileTracker) Count(change Change) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.changes {
		if c.Change == change {
			n++
		}
	}
	return n
}

// Reset drops every recorded event.
func (t *ETLFileTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changes = nil
}
