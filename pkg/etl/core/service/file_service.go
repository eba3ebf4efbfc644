package service

import (
	"context"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/fileutil"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// FileTaskArgs are the invocation arguments shared by file services.
type FileTaskArgs struct {
	Input    []model.RelPath `yaml:"input"`
	Output   model.RelPath   `yaml:"output"`
	Optional bool            `yaml:"optional"`
}

// ListOptions tunes BaseFileService.ListFiles.
type ListOptions struct {
	// Optional allows an empty result. Otherwise an empty result is ErrRequiredInputMissing.
	Optional bool
	// UniqueName, when set, maps each file to a name that must be unique among the results
	// (typically its output filename).
	UniqueName func(model.InputFile) string
}

// BaseFileService carries what every file service shares: its environment and cache table.
type BaseFileService struct {
	Env
	Store cache.Store
	// Parallelism bounds the per-file worker pool. Values below 1 mean 1.
	Parallelism int
}

// NewBaseFileService binds env to the cache namespace of the service. Store stays nil when env
// has no cache backend.
func NewBaseFileService(env Env) BaseFileService {
	env = env.WithDefaults()
	s := BaseFileService{Env: env, Parallelism: 1}
	if env.Cache != nil {
		s.Store = env.Cache.Namespace(env.Name)
	}
	return s
}

// ListFiles lists the files matching patterns. REPO patterns go through repo, which provides
// stable content keys; other bases are globbed on disk and keyed by sha256. A file matched by
// several patterns is returned once.
func (s *BaseFileService) ListFiles(ctx context.Context, repo source.Repository, patterns []model.RelPath, opts ListOptions) ([]model.InputFile, error) {
	var files []model.InputFile
	seen := make(map[string]struct{})
	names := make(map[string]string)

	for _, p := range patterns {
		var matched []model.InputFile
		var err error
		if p.BaseType == model.BaseRepo && repo != nil {
			matched, err = repo.Glob(ctx, p.RelPath)
		} else {
			root, pattern := p.BasePath, p.RelPath
			if p.BaseType == model.BaseAbsolute {
				root, pattern = splitAbsolutePattern(p.RelPath)
			}
			var found []fileutil.Match
			found, err = fileutil.Glob(ctx, root, pattern)
			for _, m := range found {
				f := model.InputFile{Key: m.Digest, RelPath: m.RelPath, Path: m.Path, BaseType: p.BaseType}
				if p.BaseType == model.BaseAbsolute {
					f.RelPath = filepath.ToSlash(m.Path)
				}
				matched = append(matched, f)
			}
		}
		if err != nil {
			return nil, exception.NewETLErrorf(s.Name, exception.ErrTransformation, "failed to list %s", p.Ident(), err)
		}

		for _, f := range matched {
			id := f.Ident()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if opts.UniqueName != nil {
				name := opts.UniqueName(f)
				if prev, dup := names[name]; dup {
					return nil, exception.NewETLErrorf(s.Name, exception.ErrInvalidConfig, "%s and %s map to the same output name %s", prev, id, name)
				}
				names[name] = id
			}
			files = append(files, f)
		}
	}

	if len(files) == 0 && !opts.Optional {
		return nil, exception.NewETLErrorf(s.Name, exception.ErrRequiredInputMissing, "no file matches %s", Patterns(patterns))
	}
	return files, nil
}

// splitAbsolutePattern splits an absolute glob into the longest directory prefix free of
// meta characters and the remaining pattern.
func splitAbsolutePattern(pattern string) (string, string) {
	dir := pattern
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		if !hasMeta(dir) {
			break
		}
	}
	rel, err := filepath.Rel(dir, pattern)
	if err != nil {
		return dir, pattern
	}
	return dir, filepath.ToSlash(rel)
}

func hasMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// ForEach calls fn for every file on a pool of at most s.Parallelism goroutines. The first
// error cancels the remaining work and is returned.
func (s *BaseFileService) ForEach(ctx context.Context, files []model.InputFile, fn func(ctx context.Context, f model.InputFile) error) error {
	limit := s.Parallelism
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, f)
		})
	}
	return g.Wait()
}

// Track records the outcome of one file whose work ran and updates the metrics.
// existed tells whether the output was present before the work.
func (s *BaseFileService) Track(ctx context.Context, tracker *model.ETLFileTracker, outfile string, existed bool) {
	change := model.ChangeAdd
	if existed {
		change = model.ChangeModify
	}
	if tracker != nil {
		tracker.Track(outfile, change)
	}
	s.Recorder.RecordFileProcessed(ctx, s.Name)
}

// LogProgress logs whether a file was processed or reused.
func (s *BaseFileService) LogProgress(ctx context.Context, processed bool, ident string) {
	if processed {
		logger.Infof("[%s] processed %s", s.Name, ident)
		return
	}
	s.Recorder.RecordFileSkipped(ctx, s.Name)
	logger.Debugf("[%s] skipped %s", s.Name, ident)
}
