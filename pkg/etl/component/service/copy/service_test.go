package copy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/statickg/pkg/etl/adapter/storage/local"
	copysvc "github.com/tigerroll/statickg/pkg/etl/component/service/copy"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/service"
	"github.com/tigerroll/statickg/pkg/etl/infrastructure/cache/inmemory"
	fsrepo "github.com/tigerroll/statickg/pkg/etl/infrastructure/source/fs"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
)

func TestCopyService(t *testing.T) {
	ctx := context.Background()
	repoDir := t.TempDir()
	dataDir := t.TempDir()
	for name, content := range map[string]string{"a.csv": "1", "b.csv": "2", "c.csv": "3"} {
		require.NoError(t, os.MkdirAll(filepath.Join(repoDir, "data"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(repoDir, "data", name), []byte(content), 0o644))
	}
	repo, err := fsrepo.NewRepository(repoDir)
	require.NoError(t, err)

	dirs := map[model.BaseType]string{model.BaseRepo: repoDir, model.BaseDataDir: dataDir}
	f := service.NewFactory()
	copysvc.Register(f)
	svc, err := f.Build(ctx, copysvc.Alias, service.Env{Name: "copy", Dirs: dirs, Cache: inmemory.NewBackend(), Storage: local.NewLocalProvider()}, map[string]interface{}{"parallelism": 2})
	require.NoError(t, err)

	args := map[string]interface{}{
		"input":  "::REPO::data/*.csv",
		"output": "::DATA_DIR::out",
	}
	outdir := filepath.Join(dataDir, "out")

	// First run copies everything.
	tracker := model.NewETLFileTracker()
	require.NoError(t, svc.Forward(ctx, repo, args, tracker))
	assert.Equal(t, 3, tracker.Count(model.ChangeAdd))
	content, err := os.ReadFile(filepath.Join(outdir, "b.csv"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(content))

	// Unchanged inputs are skipped.
	tracker = model.NewETLFileTracker()
	require.NoError(t, svc.Forward(ctx, repo, args, tracker))
	assert.Empty(t, tracker.Changes())

	// b is deleted, a is modified.
	require.NoError(t, os.Remove(filepath.Join(repoDir, "data", "b.csv")))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "data", "a.csv"), []byte("10"), 0o644))
	tracker = model.NewETLFileTracker()
	require.NoError(t, svc.Forward(ctx, repo, args, tracker))
	assert.Equal(t, []model.FileChange{
		{Path: filepath.Join(outdir, "b.csv"), Change: model.ChangeRemove},
		{Path: filepath.Join(outdir, "a.csv"), Change: model.ChangeModify},
	}, tracker.Changes())
	assert.NoFileExists(t, filepath.Join(outdir, "b.csv"))
	content, err = os.ReadFile(filepath.Join(outdir, "a.csv"))
	require.NoError(t, err)
	assert.Equal(t, "10", string(content))

	// A deleted output is recreated even though its record is valid.
	require.NoError(t, os.Remove(filepath.Join(outdir, "c.csv")))
	tracker = model.NewETLFileTracker()
	require.NoError(t, svc.Forward(ctx, repo, args, tracker))
	assert.Equal(t, []model.FileChange{{Path: filepath.Join(outdir, "c.csv"), Change: model.ChangeAdd}}, tracker.Changes())

	require.NoError(t, svc.Close())
}

func TestCopyServiceRequiredInput(t *testing.T) {
	ctx := context.Background()
	repo, err := fsrepo.NewRepository(t.TempDir())
	require.NoError(t, err)
	dataDir := t.TempDir()
	dirs := map[model.BaseType]string{model.BaseRepo: repo.Root(), model.BaseDataDir: dataDir}

	svc, err := copysvc.New(ctx, service.Env{Name: "copy", Dirs: dirs, Cache: inmemory.NewBackend(), Storage: local.NewLocalProvider()}, nil)
	require.NoError(t, err)

	err = svc.Forward(ctx, repo, map[string]interface{}{"input": "::REPO::*.csv", "output": "::DATA_DIR::out"}, model.NewETLFileTracker())
	assert.ErrorIs(t, err, exception.ErrRequiredInputMissing)

	err = svc.Forward(ctx, repo, map[string]interface{}{"input": "::REPO::*.csv", "output": "::DATA_DIR::out", "optional": true}, model.NewETLFileTracker())
	assert.NoError(t, err)
}
