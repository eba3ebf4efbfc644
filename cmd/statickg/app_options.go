package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/statickg/pkg/etl/adapter/database"
	gormadapter "github.com/tigerroll/statickg/pkg/etl/adapter/database/gorm"
	_ "github.com/tigerroll/statickg/pkg/etl/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/statickg/pkg/etl/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/statickg/pkg/etl/adapter/database/gorm/sqlite"
	"github.com/tigerroll/statickg/pkg/etl/adapter/storage"
	"github.com/tigerroll/statickg/pkg/etl/adapter/storage/local"
	copysvc "github.com/tigerroll/statickg/pkg/etl/component/service/copy"
	"github.com/tigerroll/statickg/pkg/etl/component/service/drepr"
	"github.com/tigerroll/statickg/pkg/etl/component/service/fuseki"
	"github.com/tigerroll/statickg/pkg/etl/component/service/version"
	"github.com/tigerroll/statickg/pkg/etl/core/config"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/core/metrics"
	"github.com/tigerroll/statickg/pkg/etl/core/runner"
	"github.com/tigerroll/statickg/pkg/etl/core/service"
	"github.com/tigerroll/statickg/pkg/etl/engine/retry"
	"github.com/tigerroll/statickg/pkg/etl/infrastructure/cache/inmemory"
	sqlcache "github.com/tigerroll/statickg/pkg/etl/infrastructure/cache/sql"
	etlmetrics "github.com/tigerroll/statickg/pkg/etl/infrastructure/metrics"
	fsrepo "github.com/tigerroll/statickg/pkg/etl/infrastructure/source/fs"
	gitrepo "github.com/tigerroll/statickg/pkg/etl/infrastructure/source/git"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// cliOptions are the command line flags.
type cliOptions struct {
	ConfigPath string
	WorkDir    string
	RepoDir    string
	EnvFile    string
	AppConfig  string
	// Watch is the polling interval of watch mode. Zero runs the pipeline once.
	Watch time.Duration
}

// GetApplicationOptions returns the fx options of the statickg application.
func GetApplicationOptions(appCtx context.Context, opts cliOptions) []fx.Option {
	return []fx.Option{
		logger.Module,
		fx.Provide(
			fx.Annotated{Name: "envFilePath", Target: func() string { return opts.EnvFile }},
			fx.Annotated{Name: "appConfigPath", Target: func() string { return opts.AppConfig }},
			func() context.Context { return appCtx },
			func() cliOptions { return opts },
		),
		config.Module,
		gormadapter.Module,
		etlmetrics.Module,
		local.Module,
		fx.Provide(
			service.NewFactory,
			newWorkDir,
			newRepository,
			newCacheBackend,
			newHTTPClient,
			newRetryPolicy,
		),
		copysvc.Module,
		drepr.Module,
		version.Module,
		fuseki.Module,
		fx.Invoke(startPipeline),
	}
}

func newWorkDir(opts cliOptions, cfg *config.Config) (runner.WorkDir, error) {
	abs, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return "", err
	}
	wd := runner.WorkDir(abs)
	if err := wd.Prepare(); err != nil {
		return "", err
	}
	retention := time.Duration(cfg.Statickg.System.Logging.RetentionDays) * 24 * time.Hour
	if err := logger.AddFileSink(wd.LogsPath(), retention); err != nil {
		return "", err
	}
	return wd, nil
}

// newRepository opens a git checkout when opts.RepoDir has one, and a plain directory otherwise.
func newRepository(opts cliOptions) (source.Repository, error) {
	if _, err := os.Stat(filepath.Join(opts.RepoDir, ".git")); err == nil {
		logger.Infof("Using git repository %s", opts.RepoDir)
		repo, err := gitrepo.NewRepository(opts.RepoDir)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	logger.Infof("Using directory %s", opts.RepoDir)
	repo, err := fsrepo.NewRepository(opts.RepoDir)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func newCacheBackend(lc fx.Lifecycle, appCtx context.Context, cfg *config.Config, provider database.DBProvider, wd runner.WorkDir) (cache.Backend, error) {
	dbcfg := cfg.Statickg.Cache.Database
	if dbcfg.Type == config.CacheTypeMemory {
		logger.Warnf("Using the in-memory cache: every run starts from scratch")
		return inmemory.NewBackend(), nil
	}
	if dbcfg.Type == "sqlite" && dbcfg.Database == "" {
		dbcfg.Database = wd.CacheDBPath()
	}
	conn, err := provider.Open("cache", dbcfg)
	if err != nil {
		return nil, err
	}
	backend, err := sqlcache.NewBackend(appCtx, conn)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return backend.Close()
		},
	})
	return backend, nil
}

func newHTTPClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: time.Duration(cfg.Statickg.HTTP.TimeoutSeconds) * time.Second}
}

func newRetryPolicy(cfg *config.Config) retry.RetryPolicy {
	return retry.NewPolicy(cfg.Statickg.HTTP.Retry)
}

type pipelineParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	AppCtx     context.Context
	Opts       cliOptions
	Config     *config.Config
	WorkDir    runner.WorkDir
	Repo       source.Repository
	Factory    *service.Factory
	Cache      cache.Backend
	Storage    storage.StorageProvider
	Recorder   metrics.MetricRecorder
	Tracer     metrics.Tracer
	HTTP       *http.Client
	Retry      retry.RetryPolicy
}

// startPipeline runs the pipeline in the background once the application started and shuts
// the application down when it is done.
func startPipeline(p pipelineParams) {
	textfile := ""
	if p.Config.Statickg.Metrics.Enabled {
		textfile = p.Config.Statickg.Metrics.Textfile
		if textfile == "" {
			textfile = filepath.Join(p.WorkDir.LogsPath(), "metrics.prom")
		}
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("Panic recovered in pipeline run: %v", r)
						code = 1
					}
					if err := p.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
						logger.Errorf("Failed to shutdown application: %v", err)
					}
				}()
				if err := runPipeline(p, textfile); err != nil {
					logger.Errorf("Pipeline failed: %v", err)
					code = 1
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			logger.Infof("Application is shutting down.")
			return logger.CloseFileSink()
		},
	})
}

func runPipeline(p pipelineParams, textfile string) (err error) {
	r, err := runner.New(p.AppCtx, p.Repo, runner.Options{
		WorkDir:         string(p.WorkDir),
		ConfigPath:      p.Opts.ConfigPath,
		Factory:         p.Factory,
		Cache:           p.Cache,
		Storage:         p.Storage,
		Recorder:        p.Recorder,
		Tracer:          p.Tracer,
		HTTP:            p.HTTP,
		Retry:           p.Retry,
		MetricsTextfile: textfile,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			logger.Errorf("Failed to close the pipeline: %v", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()

	if p.Opts.Watch > 0 {
		logger.Infof("Watching %s every %s", p.Repo.Root(), p.Opts.Watch)
		return r.Watch(p.AppCtx, p.Opts.Watch)
	}
	_, err = r.Run(p.AppCtx)
	return err
}
