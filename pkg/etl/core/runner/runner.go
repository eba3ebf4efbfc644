// Package runner executes a pipeline configuration against a repository.
package runner

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/statickg/pkg/etl/adapter/storage"
	"github.com/tigerroll/statickg/pkg/etl/adapter/storage/local"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/core/metrics"
	"github.com/tigerroll/statickg/pkg/etl/core/pipeline"
	"github.com/tigerroll/statickg/pkg/etl/core/service"
	"github.com/tigerroll/statickg/pkg/etl/engine/retry"
	"github.com/tigerroll/statickg/pkg/etl/infrastructure/cache/inmemory"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
	"github.com/tigerroll/statickg/pkg/etl/support/util/shell"
)

const moduleName = "runner"

// Options configure a Runner. Factory, WorkDir and ConfigPath are required. Cache defaults to
// an in-memory backend and Storage to the local file system; the other collaborators default
// to the service.Env defaults.
type Options struct {
	WorkDir    string
	ConfigPath string
	Factory    *service.Factory

	Cache    cache.Backend
	Storage  storage.StorageProvider
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	HTTP     *http.Client
	Retry    retry.RetryPolicy
	Shell    shell.CommandRunner

	// MetricsTextfile, when set and the recorder supports it, receives the metrics on Close.
	MetricsTextfile string
}

type textfileWriter interface {
	WriteTextfile(path string) error
}

// Runner owns the services of one pipeline configuration.
type Runner struct {
	opts     Options
	workdir  WorkDir
	repo     source.Repository
	dirs     map[model.BaseType]string
	cfg      *pipeline.ETLConfig
	services map[string]service.Service
	order    []string
}

// New prepares the working directory, checks the configuration snapshot and constructs every
// service in declaration order.
func New(ctx context.Context, repo source.Repository, opts Options) (*Runner, error) {
	if opts.Factory == nil {
		return nil, exception.NewETLError(moduleName, exception.ErrInvalidConfig, "no service factory", nil)
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Tracer == nil {
		opts.Tracer = metrics.NoopTracer{}
	}
	if opts.Cache == nil {
		opts.Cache = inmemory.NewBackend()
	}
	if opts.Storage == nil {
		opts.Storage = local.NewLocalProvider()
	}

	absWork, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "invalid working directory %s", opts.WorkDir, err)
	}
	workdir := WorkDir(absWork)
	if err := workdir.Prepare(); err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to prepare working directory %s", workdir, err)
	}
	cfgDir, err := filepath.Abs(filepath.Dir(opts.ConfigPath))
	if err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "invalid configuration path %s", opts.ConfigPath, err)
	}

	dirs := map[model.BaseType]string{
		model.BaseCfgDir:  cfgDir,
		model.BaseRepo:    repo.Root(),
		model.BaseDataDir: workdir.DataPath(),
		model.BaseWorkDir: string(workdir),
	}
	cfg, err := pipeline.ParseFile(opts.ConfigPath, dirs)
	if err != nil {
		return nil, err
	}
	if err := pipeline.EnsureSnapshot(workdir.SnapshotPath(), cfg); err != nil {
		return nil, err
	}

	r := &Runner{
		opts:     opts,
		workdir:  workdir,
		repo:     repo,
		dirs:     dirs,
		cfg:      cfg,
		services: make(map[string]service.Service),
	}
	for _, def := range cfg.ServiceList() {
		constructed := make(map[string]service.Service, len(r.services))
		for name, svc := range r.services {
			constructed[name] = svc
		}
		env := service.Env{
			Name:     def.Name,
			WorkDir:  string(workdir),
			Dirs:     dirs,
			Cache:    opts.Cache,
			Storage:  opts.Storage,
			Recorder: opts.Recorder,
			Tracer:   opts.Tracer,
			HTTP:     opts.HTTP,
			Retry:    opts.Retry,
			Shell:    opts.Shell,
			Services: constructed,
		}
		svc, err := opts.Factory.Build(ctx, def.Classpath, env, def.Args)
		if err != nil {
			if cerr := r.closeServices(); cerr != nil {
				logger.Warnf("Failed to close services after a construction error: %v", cerr)
			}
			return nil, err
		}
		r.services[def.Name] = svc
		r.order = append(r.order, def.Name)
		logger.Debugf("Constructed service %s (%s)", def.Name, def.Classpath)
	}
	return r, nil
}

// WorkDir returns the working directory.
func (r *Runner) WorkDir() WorkDir {
	return r.workdir
}

// Run executes the pipeline tasks in order and returns the changes they reported.
// The first failing task aborts the run.
func (r *Runner) Run(ctx context.Context) (*model.ETLFileTracker, error) {
	runID := uuid.NewString()
	tracker := model.NewETLFileTracker()
	started := time.Now()
	logger.Infof("Run %s: starting %d tasks", runID, len(r.cfg.Pipeline))

	for i, task := range r.cfg.Pipeline {
		svc := r.services[task.Service]
		taskCtx, end := r.opts.Tracer.StartTaskSpan(ctx, runID, i, task.Service)
		taskStart := time.Now()

		err := svc.Forward(taskCtx, r.repo, task.Args, tracker)

		status := "success"
		if err != nil {
			status = "failure"
		}
		r.opts.Recorder.RecordTaskDuration(ctx, task.Service, status, time.Since(taskStart))
		end(err)
		if err != nil {
			logger.Errorf("Run %s: task %d (%s) failed: %s", runID, i, task.Service, exception.ExtractErrorMessage(err))
			logger.Debugf("Run %s: task %d (%s) error chain: %v", runID, i, task.Service, err)
			return tracker, err
		}
		logger.Debugf("Run %s: task %d (%s) done in %s", runID, i, task.Service, time.Since(taskStart))
	}

	logger.Infof("Run %s: finished in %s (%d added, %d modified, %d removed)", runID, time.Since(started).Round(time.Millisecond),
		tracker.Count(model.ChangeAdd), tracker.Count(model.ChangeModify), tracker.Count(model.ChangeRemove))
	return tracker, nil
}

// Watch runs the pipeline whenever the repository reports new data, checking every interval
// until ctx is done. The first check always runs the pipeline.
func (r *Runner) Watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		changed, err := r.repo.Fetch(ctx)
		if err != nil {
			return exception.NewETLErrorf(moduleName, exception.ErrTransformation, "failed to fetch %s", r.repo.Root(), err)
		}
		if changed {
			if _, err := r.Run(ctx); err != nil {
				return err
			}
		} else {
			logger.Debugf("No new data in %s", r.repo.Root())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close closes every service in reverse construction order and writes the metrics text file.
func (r *Runner) Close() error {
	result := r.closeServices()
	if r.opts.MetricsTextfile != "" {
		if w, ok := r.opts.Recorder.(textfileWriter); ok {
			if err := w.WriteTextfile(r.opts.MetricsTextfile); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result
}

func (r *Runner) closeServices() error {
	var result *multierror.Error
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if err := r.services[name].Close(); err != nil {
			result = multierror.Append(result, exception.NewETLErrorf(moduleName, exception.ErrServiceLifecycle, "failed to close service %s", name, err))
		}
	}
	r.order = nil
	return result.ErrorOrNil()
}
