package drepr_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/statickg/pkg/etl/adapter/storage/local"
	"github.com/tigerroll/statickg/pkg/etl/component/service/drepr"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/service"
	"github.com/tigerroll/statickg/pkg/etl/infrastructure/cache/inmemory"
	fsrepo "github.com/tigerroll/statickg/pkg/etl/infrastructure/source/fs"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
)

// fakeCompiler "compiles" by copying the spec and "runs" by concatenating program and input.
// Inputs named failOn cannot be processed.
type fakeCompiler struct {
	version  string
	failOn   string
	compiles atomic.Int32
	runs     atomic.Int32
}

func (c *fakeCompiler) Version(context.Context) (string, error) {
	if c.version == "" {
		return "2.0", nil
	}
	return c.version, nil
}

func (c *fakeCompiler) Compile(_ context.Context, spec, prog string) error {
	c.compiles.Add(1)
	b, err := os.ReadFile(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(prog, b, 0o644)
}

func (c *fakeCompiler) Run(_ context.Context, prog, input string) ([]byte, error) {
	c.runs.Add(1)
	if c.failOn != "" && filepath.Base(input) == c.failOn {
		return nil, errors.New("mapping error: column not found")
	}
	p, err := os.ReadFile(prog)
	if err != nil {
		return nil, err
	}
	in, err := os.ReadFile(input)
	if err != nil {
		return nil, err
	}
	return append(p, in...), nil
}

type fixture struct {
	workdir string
	cfgDir  string
	repoDir string
	dirs    map[model.BaseType]string
	backend *inmemory.Backend
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{workdir: t.TempDir(), cfgDir: t.TempDir(), repoDir: t.TempDir(), backend: inmemory.NewBackend()}
	f.dirs = map[model.BaseType]string{
		model.BaseRepo:    f.repoDir,
		model.BaseCfgDir:  f.cfgDir,
		model.BaseDataDir: filepath.Join(f.workdir, "data"),
		model.BaseWorkDir: f.workdir,
	}
	require.NoError(t, os.MkdirAll(filepath.Join(f.repoDir, "tables"), 0o755))
	return f
}

func (f *fixture) write(t *testing.T, path, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) build(t *testing.T, compiler drepr.Compiler, specs ...string) *drepr.DReprService {
	paths := make([]model.RelPath, len(specs))
	for i, s := range specs {
		paths[i] = model.RelPath{BaseType: model.BaseCfgDir, BasePath: f.cfgDir, RelPath: s}
	}
	env := service.Env{Name: "extract", WorkDir: f.workdir, Dirs: f.dirs, Cache: f.backend, Storage: local.NewLocalProvider()}
	svc, err := drepr.NewWithCompiler(context.Background(), env, drepr.ConstructArgs{Path: paths, Format: "turtle"}, compiler)
	require.NoError(t, err)
	return svc
}

func TestDReprService(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, filepath.Join(fx.cfgDir, "mapping.yml"), "v1|")
	fx.write(t, filepath.Join(fx.repoDir, "tables", "a.csv"), "a")
	fx.write(t, filepath.Join(fx.repoDir, "tables", "b.csv"), "b")
	repo, err := fsrepo.NewRepository(fx.repoDir)
	require.NoError(t, err)

	args := map[string]interface{}{"input": "::REPO::tables/*.csv", "output": "::DATA_DIR::kg"}
	outdir := filepath.Join(fx.workdir, "data", "kg")

	compiler := &fakeCompiler{}
	svc := fx.build(t, compiler, "mapping.yml")
	assert.Equal(t, int32(1), compiler.compiles.Load())
	assert.FileExists(t, filepath.Join(drepr.ProgramsDir(fx.workdir), drepr.ProgramsMarker))

	tracker := model.NewETLFileTracker()
	require.NoError(t, svc.Forward(ctx, repo, args, tracker))
	assert.Equal(t, 2, tracker.Count(model.ChangeAdd))
	content, err := os.ReadFile(filepath.Join(outdir, "a.ttl"))
	require.NoError(t, err)
	assert.Equal(t, "v1|a", string(content))

	// Same spec, new service instance: nothing is recompiled or reprocessed.
	compiler = &fakeCompiler{}
	svc = fx.build(t, compiler, "mapping.yml")
	tracker = model.NewETLFileTracker()
	require.NoError(t, svc.Forward(ctx, repo, args, tracker))
	assert.Equal(t, int32(0), compiler.compiles.Load())
	assert.Equal(t, int32(0), compiler.runs.Load())
	assert.Empty(t, tracker.Changes())

	// A changed spec recompiles and reprocesses every file.
	fx.write(t, filepath.Join(fx.cfgDir, "mapping.yml"), "v2|")
	compiler = &fakeCompiler{}
	svc = fx.build(t, compiler, "mapping.yml")
	tracker = model.NewETLFileTracker()
	require.NoError(t, svc.Forward(ctx, repo, args, tracker))
	assert.Equal(t, int32(1), compiler.compiles.Load())
	assert.Equal(t, int32(2), compiler.runs.Load())
	assert.Equal(t, 2, tracker.Count(model.ChangeModify))
	content, err = os.ReadFile(filepath.Join(outdir, "b.ttl"))
	require.NoError(t, err)
	assert.Equal(t, "v2|b", string(content))
}

func TestDReprServiceFailedFileIsRetried(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, filepath.Join(fx.cfgDir, "mapping.yml"), "v1|")
	fx.write(t, filepath.Join(fx.repoDir, "tables", "a.csv"), "a")
	fx.write(t, filepath.Join(fx.repoDir, "tables", "b.csv"), "b")
	repo, err := fsrepo.NewRepository(fx.repoDir)
	require.NoError(t, err)
	args := map[string]interface{}{"input": "::REPO::tables/*.csv", "output": "::DATA_DIR::kg"}
	outdir := filepath.Join(fx.workdir, "data", "kg")

	svc := fx.build(t, &fakeCompiler{failOn: "b.csv"}, "mapping.yml")
	err = svc.Forward(ctx, repo, args, model.NewETLFileTracker())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrTransformation)
	assert.FileExists(t, filepath.Join(outdir, "a.ttl"))
	assert.NoFileExists(t, filepath.Join(outdir, "b.ttl"))

	store := fx.backend.Namespace("extract")
	_, found, err := store.Lookup(ctx, "::REPO::tables/b.csv")
	require.NoError(t, err)
	assert.False(t, found)
	status, found, err := store.Lookup(ctx, "::REPO::tables/a.csv")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, status.Succeeded)

	// only the failed file is processed again
	compiler := &fakeCompiler{}
	svc = fx.build(t, compiler, "mapping.yml")
	tracker := model.NewETLFileTracker()
	require.NoError(t, svc.Forward(ctx, repo, args, tracker))
	assert.Equal(t, int32(1), compiler.runs.Load())
	assert.Equal(t, []model.FileChange{{Path: filepath.Join(outdir, "b.ttl"), Change: model.ChangeAdd}}, tracker.Changes())
	content, err := os.ReadFile(filepath.Join(outdir, "b.ttl"))
	require.NoError(t, err)
	assert.Equal(t, "v1|b", string(content))
}

func TestDReprServiceCompilerUpgradeRecompiles(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, filepath.Join(fx.cfgDir, "mapping.yml"), "v1|")
	fx.write(t, filepath.Join(fx.repoDir, "tables", "a.csv"), "a")
	fx.write(t, filepath.Join(fx.repoDir, "tables", "b.csv"), "b")
	repo, err := fsrepo.NewRepository(fx.repoDir)
	require.NoError(t, err)
	args := map[string]interface{}{"input": "::REPO::tables/*.csv", "output": "::DATA_DIR::kg"}

	svc := fx.build(t, &fakeCompiler{version: "2.0"}, "mapping.yml")
	require.NoError(t, svc.Forward(ctx, repo, args, model.NewETLFileTracker()))

	compiler := &fakeCompiler{version: "2.1"}
	svc = fx.build(t, compiler, "mapping.yml")
	assert.Equal(t, int32(1), compiler.compiles.Load())

	tracker := model.NewETLFileTracker()
	require.NoError(t, svc.Forward(ctx, repo, args, tracker))
	assert.Equal(t, int32(2), compiler.runs.Load())
	assert.Equal(t, 2, tracker.Count(model.ChangeModify))
}

func TestDReprServiceProgramsByStem(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.write(t, filepath.Join(fx.cfgDir, "a.yml"), "A|")
	fx.write(t, filepath.Join(fx.cfgDir, "b.yml"), "B|")
	fx.write(t, filepath.Join(fx.repoDir, "tables", "a.csv"), "1")
	fx.write(t, filepath.Join(fx.repoDir, "tables", "b.csv"), "2")
	repo, err := fsrepo.NewRepository(fx.repoDir)
	require.NoError(t, err)

	svc := fx.build(t, &fakeCompiler{}, "a.yml", "b.yml")
	require.NoError(t, svc.Forward(ctx, repo, map[string]interface{}{"input": "::REPO::tables/*.csv", "output": "::DATA_DIR::kg"}, model.NewETLFileTracker()))

	a, err := os.ReadFile(filepath.Join(fx.workdir, "data", "kg", "a.ttl"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(fx.workdir, "data", "kg", "b.ttl"))
	require.NoError(t, err)
	assert.Equal(t, "A|1", string(a))
	assert.Equal(t, "B|2", string(b))

	fx.write(t, filepath.Join(fx.repoDir, "tables", "c.csv"), "3")
	err = svc.Forward(ctx, repo, map[string]interface{}{"input": "::REPO::tables/*.csv", "output": "::DATA_DIR::kg"}, model.NewETLFileTracker())
	assert.ErrorIs(t, err, exception.ErrTransformation)
}

func TestDReprServiceRejectsForeignProgramsDir(t *testing.T) {
	fx := newFixture(t)
	fx.write(t, filepath.Join(fx.cfgDir, "mapping.yml"), "x")
	require.NoError(t, os.MkdirAll(drepr.ProgramsDir(fx.workdir), 0o755))

	env := service.Env{Name: "extract", WorkDir: fx.workdir, Dirs: fx.dirs, Cache: fx.backend, Storage: local.NewLocalProvider()}
	paths := []model.RelPath{{BaseType: model.BaseCfgDir, BasePath: fx.cfgDir, RelPath: "mapping.yml"}}
	_, err := drepr.NewWithCompiler(context.Background(), env, drepr.ConstructArgs{Path: paths}, &fakeCompiler{})
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)
}

func TestShellCompiler(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	spec := filepath.Join(dir, "my spec.yml")
	input := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(spec, []byte("S"), 0o644))
	require.NoError(t, os.WriteFile(input, []byte("I"), 0o644))

	env := service.Env{}.WithDefaults()
	c := &drepr.ShellCompiler{
		CompileCommand: "cp {SPEC} {PROG}",
		RunCommand:     "cat {PROG} {INPUT}",
		VersionCommand: "echo 1.2.3",
		Shell:          env.Shell,
	}
	v, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)

	prog := filepath.Join(dir, "prog.py")
	require.NoError(t, c.Compile(ctx, spec, prog))
	out, err := c.Run(ctx, prog, input)
	require.NoError(t, err)
	assert.Equal(t, "SI", string(out))
}
