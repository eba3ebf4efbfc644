package drepr

import (
	"context"
	"strings"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/support/util/shell"
)

// Compiler turns a mapping specification into an executable extraction program.
type Compiler interface {
	// Version identifies the compiler. It is part of every program cache key.
	Version(ctx context.Context) (string, error)
	// Compile writes the program compiled from spec to prog.
	Compile(ctx context.Context, spec, prog string) error
	// Run executes prog on input and returns the extracted document.
	Run(ctx context.Context, prog, input string) ([]byte, error)
}

// ShellCompiler runs configured command templates.
//
//	compile_command: placeholders {SPEC} and {PROG}
//	run_command:     placeholders {PROG} and {INPUT}; the document is read from stdout
//	version_command: prints the compiler version
type ShellCompiler struct {
	CompileCommand string
	RunCommand     string
	VersionCommand string
	// FixedVersion, when set, is returned by Version without running VersionCommand.
	FixedVersion string
	Dirs         map[model.BaseType]string
	Shell        shell.CommandRunner
}

var _ Compiler = (*ShellCompiler)(nil)

func (c *ShellCompiler) Version(ctx context.Context) (string, error) {
	if c.FixedVersion != "" {
		return c.FixedVersion, nil
	}
	if c.VersionCommand == "" {
		return "0", nil
	}
	out, err := c.Shell.Run(ctx, model.ResolveRefs(c.VersionCommand, c.Dirs))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *ShellCompiler) Compile(ctx context.Context, spec, prog string) error {
	_, err := c.Shell.Run(ctx, shell.Format(model.ResolveRefs(c.CompileCommand, c.Dirs), map[string]string{
		"SPEC": shell.Quote(spec),
		"PROG": shell.Quote(prog),
	}))
	return err
}

func (c *ShellCompiler) Run(ctx context.Context, prog, input string) ([]byte, error) {
	return c.Shell.Run(ctx, shell.Format(model.ResolveRefs(c.RunCommand, c.Dirs), map[string]string{
		"PROG":  shell.Quote(prog),
		"INPUT": shell.Quote(input),
	}))
}
