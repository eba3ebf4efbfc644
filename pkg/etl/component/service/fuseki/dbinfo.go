package fuseki

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// SuccessMarker is the file whose presence makes a generation directory valid.
const SuccessMarker = "_SUCCESS"

var (
	versionDirRe = regexp.MustCompile(`^version-(\d+)$`)
	hostPortRe   = regexp.MustCompile(`^(\d+\.\d+\.\d+\.\d+):(\d+)`)
)

// DBInfo describes one generation of the store.
type DBInfo struct {
	// Key identifies the load command and the generation. Together with a file content key it
	// identifies one loaded file.
	Key     string
	Version int
	Dir     string
	// Hostname is the base URL of the instance serving Dir, or "" when none is live.
	Hostname string

	command string
}

func newDBInfo(command, root string, version int) *DBInfo {
	return &DBInfo{
		Key:     fmt.Sprintf("cmd:%s|version:%d", command, version),
		Version: version,
		Dir:     filepath.Join(root, fmt.Sprintf("version-%03d", version)),
		command: command,
	}
}

// FileKey returns the cache key of a file with content key fileKey loaded into this generation.
func (d *DBInfo) FileKey(fileKey string) string {
	return d.Key + "|" + fileKey
}

// InstanceID is the id of the instance serving this generation.
func (d *DBInfo) InstanceID() string {
	return "fuseki-" + filepath.Base(d.Dir)
}

// Exists reports whether the generation directory is present.
func (d *DBInfo) Exists() bool {
	info, err := os.Stat(d.Dir)
	return err == nil && info.IsDir()
}

// IsValid reports whether a load of this generation completed.
func (d *DBInfo) IsValid() bool {
	_, err := os.Stat(filepath.Join(d.Dir, SuccessMarker))
	return err == nil
}

// Invalidate removes the success marker.
func (d *DBInfo) Invalidate() error {
	err := os.Remove(filepath.Join(d.Dir, SuccessMarker))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// MarkValid creates the success marker.
func (d *DBInfo) MarkValid() error {
	return os.WriteFile(filepath.Join(d.Dir, SuccessMarker), nil, 0o644)
}

// Live reports whether an instance serves this generation.
func (d *DBInfo) Live() bool {
	return d.Hostname != ""
}

// Next returns the following generation, which has no instance.
func (d *DBInfo) Next() *DBInfo {
	return newDBInfo(d.command, filepath.Dir(d.Dir), d.Version+1)
}

// latestVersion returns the highest generation number under root, or 0.
func latestVersion(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	latest := 0
	for _, e := range entries {
		m := versionDirRe.FindStringSubmatch(e.Name())
		if m == nil || !e.IsDir() {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err == nil && v > latest {
			latest = v
		}
	}
	return latest, nil
}

// parseHostname turns the output of the find_by_id command into a base URL.
// The output is either "ip:port" or a bare port, or empty when no instance runs.
func parseHostname(output string) (string, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return "", nil
	}
	if m := hostPortRe.FindStringSubmatch(output); m != nil {
		ip := m[1]
		if ip == "0.0.0.0" {
			ip = "localhost"
		}
		return "http://" + ip + ":" + m[2], nil
	}
	if _, err := strconv.ParseUint(output, 10, 16); err == nil {
		return "http://localhost:" + output, nil
	}
	return "", fmt.Errorf("unrecognized instance address %q", output)
}
