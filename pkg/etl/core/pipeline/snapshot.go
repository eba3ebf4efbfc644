package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/fileutil"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

type snapshotService struct {
	Name      string                 `json:"name"`
	Classpath string                 `json:"classpath"`
	Args      map[string]interface{} `json:"args"`
}

type snapshotTask struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type snapshotDoc struct {
	Services []snapshotService `json:"services"`
	Pipeline []snapshotTask    `json:"pipeline"`
}

// Snapshot returns the canonical JSON form of the configuration. Paths are written by their
// symbolic identity and object keys are sorted, so equal configurations give equal bytes.
func (c *ETLConfig) Snapshot() ([]byte, error) {
	doc := snapshotDoc{Services: []snapshotService{}, Pipeline: []snapshotTask{}}
	for _, s := range c.ServiceList() {
		doc.Services = append(doc.Services, snapshotService{Name: s.Name, Classpath: s.Classpath, Args: s.Args})
	}
	for _, t := range c.Pipeline {
		doc.Pipeline = append(doc.Pipeline, snapshotTask{Name: t.Service, Args: t.Args})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to serialize configuration snapshot", err)
	}
	return canonicalJSON(data)
}

// canonicalJSON re-encodes data through a generic value so that snapshots written by any
// version of this tool compare equal when they carry the same content.
func canonicalJSON(data []byte) ([]byte, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "invalid configuration snapshot", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to serialize configuration snapshot", err)
	}
	return append(out, '\n'), nil
}

// EnsureSnapshot writes the snapshot of c to path on the first run. On later runs it fails
// with ErrConfigDrift, carrying a unified diff, when the stored snapshot differs.
func EnsureSnapshot(path string, c *ETLConfig) error {
	current, err := c.Snapshot()
	if err != nil {
		return err
	}

	stored, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to read configuration snapshot %s", path, err)
		}
		if err := fileutil.WriteFileAtomic(path, current, 0o644); err != nil {
			return exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to write configuration snapshot %s", path, err)
		}
		logger.Infof("Saved configuration snapshot to %s", path)
		return nil
	}

	persisted, err := canonicalJSON(stored)
	if err != nil {
		return err
	}
	if bytes.Equal(persisted, current) {
		return nil
	}

	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(persisted)),
		B:        difflib.SplitLines(string(current)),
		FromFile: path,
		ToFile:   "current configuration",
		Context:  3,
	})
	return exception.NewETLErrorf(moduleName, exception.ErrConfigDrift,
		"configuration differs from the snapshot in %s; remove the working directory state to accept the new configuration\n%s", path, diff)
}
