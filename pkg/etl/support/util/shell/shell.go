// Package shell runs configured command templates through /bin/sh.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// CommandRunner executes a shell command line and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, command string) ([]byte, error)
}

// Runner executes commands with "sh -c". Standard error is logged at debug level and
// included in the returned error when the command fails.
type Runner struct {
	// Shell is the interpreter. Empty means "sh".
	Shell string
	// Dir is the working directory. Empty means the current directory.
	Dir string
}

var _ CommandRunner = (*Runner)(nil)

// Run implements CommandRunner.
func (r *Runner) Run(ctx context.Context, command string) ([]byte, error) {
	sh := r.Shell
	if sh == "" {
		sh = "sh"
	}
	cmd := exec.CommandContext(ctx, sh, "-c", command)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debugf("shell: %s", command)
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("command %q failed: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	if stderr.Len() > 0 {
		logger.Debugf("shell stderr: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Format replaces every "{NAME}" placeholder of template with values[NAME].
// Unknown placeholders are left untouched.
func Format(template string, values map[string]string) string {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(values)*2)
	for _, k := range names {
		pairs = append(pairs, "{"+k+"}", values[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Quote quotes s for safe use as one shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || strings.ContainsRune("-_./:=@%+,", c)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteAll quotes every element of words and joins them with spaces.
func QuoteAll(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = Quote(w)
	}
	return strings.Join(quoted, " ")
}
