package runner

import (
	"os"
	"path/filepath"
)

// Layout of the working directory.
const (
	SnapshotFile = "config.json"
	CacheDBFile  = "etl.db"
	LogsDir      = "logs"
	DataDir      = "data"
	ServicesDir  = "services"
)

// WorkDir is an absolute working directory.
type WorkDir string

// SnapshotPath is the canonical configuration snapshot.
func (w WorkDir) SnapshotPath() string { return filepath.Join(string(w), SnapshotFile) }

// CacheDBPath is the default sqlite cache database.
func (w WorkDir) CacheDBPath() string { return filepath.Join(string(w), CacheDBFile) }

// LogsPath holds run logs and the metrics text file.
func (w WorkDir) LogsPath() string { return filepath.Join(string(w), LogsDir) }

// DataPath holds task outputs and store generations.
func (w WorkDir) DataPath() string { return filepath.Join(string(w), DataDir) }

// ServicesPath holds per-service state such as generated programs.
func (w WorkDir) ServicesPath() string { return filepath.Join(string(w), ServicesDir) }

// Prepare creates the directories of the layout. Service directories that must carry an
// ownership marker are left to their service.
func (w WorkDir) Prepare() error {
	for _, dir := range []string{string(w), w.LogsPath(), w.DataPath(), w.ServicesPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
