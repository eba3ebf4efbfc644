// Package drepr implements the declarative-mapping extraction service. Mapping specifications
// are compiled once into programs, which then turn every matching input file into an RDF
// document.
package drepr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/core/reconcile"
	"github.com/tigerroll/statickg/pkg/etl/core/service"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/fileutil"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

const (
	// Classpath is the configured implementation reference of the service.
	Classpath = "statickg.services.drepr.DReprService"
	// Alias is the short implementation reference.
	Alias = "drepr"

	// ProgramsMarker marks a directory as owned by this service.
	ProgramsMarker = ".statickg-generated"
)

// ProgramsDir returns the directory of generated programs inside workdir.
func ProgramsDir(workdir string) string {
	return filepath.Join(workdir, "services", "drepr", "gen_programs")
}

var extensions = map[string]string{"turtle": "ttl"}

// ConstructArgs are the constructor arguments.
type ConstructArgs struct {
	Path            []model.RelPath `yaml:"path"`
	Format          string          `yaml:"format"`
	CompileCommand  string          `yaml:"compile_command"`
	RunCommand      string          `yaml:"run_command"`
	VersionCommand  string          `yaml:"version_command"`
	CompilerVersion string          `yaml:"compiler_version"`
	ProgramExt      string          `yaml:"program_ext"`
	Parallelism     int             `yaml:"parallelism"`
}

type program struct {
	key  string
	path string
}

// DReprService extracts RDF documents from input files with compiled mapping programs.
type DReprService struct {
	service.BaseFileService

	compiler  Compiler
	extension string
	programs  map[string]program
	// single is set when exactly one specification is configured.
	single *program
}

var _ service.Service = (*DReprService)(nil)

// New is the service.Builder of DReprService. Programs are compiled through shell commands.
func New(ctx context.Context, env service.Env, args map[string]interface{}) (service.Service, error) {
	env = env.WithDefaults()
	var cargs ConstructArgs
	if err := service.BindArgs(env.Name, env.Dirs, args, &cargs); err != nil {
		return nil, err
	}
	if cargs.CompileCommand == "" || cargs.RunCommand == "" {
		return nil, exception.NewETLErrorf(env.Name, exception.ErrInvalidConfig, "compile_command and run_command are required")
	}
	compiler := &ShellCompiler{
		CompileCommand: cargs.CompileCommand,
		RunCommand:     cargs.RunCommand,
		VersionCommand: cargs.VersionCommand,
		FixedVersion:   cargs.CompilerVersion,
		Dirs:           env.Dirs,
		Shell:          env.Shell,
	}
	return NewWithCompiler(ctx, env, cargs, compiler)
}

// NewWithCompiler creates the service with an explicit compiler and compiles every
// specification whose program is missing or stale.
func NewWithCompiler(ctx context.Context, env service.Env, cargs ConstructArgs, compiler Compiler) (*DReprService, error) {
	env = env.WithDefaults()
	if env.Cache == nil {
		return nil, exception.NewETLErrorf(env.Name, exception.ErrInvalidConfig, "no cache backend")
	}
	if cargs.Format == "" {
		cargs.Format = "turtle"
	}
	ext, ok := extensions[cargs.Format]
	if !ok {
		return nil, exception.NewETLErrorf(env.Name, exception.ErrInvalidConfig, "unsupported output format %q", cargs.Format)
	}
	if len(cargs.Path) == 0 {
		return nil, exception.NewETLErrorf(env.Name, exception.ErrInvalidConfig, "no mapping specification configured")
	}
	if cargs.ProgramExt == "" {
		cargs.ProgramExt = ".py"
	}

	s := &DReprService{
		BaseFileService: service.NewBaseFileService(env),
		compiler:        compiler,
		extension:       ext,
		programs:        make(map[string]program, len(cargs.Path)),
	}
	if cargs.Parallelism > 0 {
		s.Parallelism = cargs.Parallelism
	}

	pkgdir, err := setupProgramsDir(ProgramsDir(env.WorkDir))
	if err != nil {
		return nil, exception.NewETLErrorf(env.Name, exception.ErrInvalidConfig, "unusable programs directory", err)
	}
	pkgdir = filepath.Join(pkgdir, env.Name)
	if err := os.MkdirAll(pkgdir, 0o755); err != nil {
		return nil, exception.NewETLErrorf(env.Name, exception.ErrTransformation, "failed to create %s", pkgdir, err)
	}

	version, err := compiler.Version(ctx)
	if err != nil {
		return nil, exception.NewETLErrorf(env.Name, exception.ErrTransformation, "failed to get compiler version", err)
	}

	programStore := env.Cache.Namespace(env.Name + "/programs")
	for _, spec := range cargs.Path {
		specPath := spec.Path()
		stem := model.InputFile{Path: specPath}.Stem()
		if _, dup := s.programs[stem]; dup {
			return nil, exception.NewETLErrorf(env.Name, exception.ErrInvalidConfig, "two mapping specifications are named %s", stem)
		}

		digest, err := fileutil.SHA256File(specPath)
		if err != nil {
			return nil, exception.NewETLErrorf(env.Name, exception.ErrTransformation, "failed to read mapping specification %s", spec.Ident(), err)
		}
		prog := program{
			key:  fmt.Sprintf("drepr:%s:%s", version, digest),
			path: filepath.Join(pkgdir, stem+cargs.ProgramExt),
		}

		ran, err := cache.Auto(ctx, programStore, spec.Ident(), prog.key, prog.path, func() error {
			if err := compiler.Compile(ctx, specPath, prog.path); err != nil {
				return exception.NewETLErrorf(env.Name, exception.ErrTransformation, "failed to compile %s", spec.Ident(), err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if ran {
			logger.Infof("[%s] generated program %s", env.Name, spec.Ident())
		} else {
			logger.Infof("[%s] reused program %s", env.Name, spec.Ident())
		}
		s.programs[stem] = prog
	}
	if len(s.programs) == 1 {
		for _, p := range s.programs {
			p := p
			s.single = &p
		}
	}
	return s, nil
}

// setupProgramsDir creates dir with its marker, or checks that an existing dir has one.
func setupProgramsDir(dir string) (string, error) {
	marker := filepath.Join(dir, ProgramsMarker)
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(marker, nil, 0o644); err != nil {
			return "", err
		}
		return dir, nil
	case err != nil:
		return "", err
	case !info.IsDir():
		return "", fmt.Errorf("%s is not a directory", dir)
	}
	if _, err := os.Stat(marker); err != nil {
		return "", fmt.Errorf("%s exists but was not created by statickg (missing %s)", dir, ProgramsMarker)
	}
	return dir, nil
}

func (s *DReprService) outputName(f model.InputFile) string {
	return f.Stem() + "." + s.extension
}

func (s *DReprService) programFor(f model.InputFile) (program, error) {
	if s.single != nil {
		return *s.single, nil
	}
	p, ok := s.programs[f.Stem()]
	if !ok {
		return program{}, exception.NewETLErrorf(s.Name, exception.ErrTransformation, "no mapping specification named %s for %s", f.Stem(), f.Ident())
	}
	return p, nil
}

// Forward extracts every file matching args.input into args.output.
func (s *DReprService) Forward(ctx context.Context, repo source.Repository, args map[string]interface{}, tracker *model.ETLFileTracker) error {
	var a service.FileTaskArgs
	if err := service.BindArgs(s.Name, s.Dirs, args, &a); err != nil {
		return err
	}

	files, err := s.ListFiles(ctx, repo, a.Input, service.ListOptions{Optional: a.Optional, UniqueName: s.outputName})
	if err != nil {
		return err
	}

	outdir := a.Output.Path()
	r := reconcile.NewReconciler(s.Name, s.Storage, s.Store, s.Recorder, s.outputName)
	if _, err := r.Reconcile(ctx, files, outdir, tracker); err != nil {
		return err
	}

	return s.ForEach(ctx, files, func(ctx context.Context, f model.InputFile) error {
		prog, err := s.programFor(f)
		if err != nil {
			return err
		}
		outfile := filepath.Join(outdir, s.outputName(f))
		existed := fileutil.Exists(outfile)
		ran, err := cache.Auto(ctx, s.Store, f.Ident(), prog.key+":"+f.Key, outfile, func() error {
			out, err := s.compiler.Run(ctx, prog.path, f.Path)
			if err != nil {
				return exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to process %s", f.Ident(), err)
			}
			if err := fileutil.WriteFileAtomic(outfile, out, 0o644); err != nil {
				return exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to write %s", outfile, err)
			}
			return nil
		})
		if err != nil {
			logger.Errorf("[%s] error when processing %s: %v", s.Name, f.Ident(), err)
			return err
		}
		if ran {
			s.Track(ctx, tracker, outfile, existed)
		}
		s.LogProgress(ctx, ran, f.Ident())
		return nil
	})
}

// Close implements service.Service.
func (s *DReprService) Close() error {
	return nil
}
