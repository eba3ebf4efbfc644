// Package service defines the contract of pipeline services and the factory that builds them
// from their configured classpath.
package service

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/tigerroll/statickg/pkg/etl/adapter/storage"
	"github.com/tigerroll/statickg/pkg/etl/core/config"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/source"
	"github.com/tigerroll/statickg/pkg/etl/core/metrics"
	"github.com/tigerroll/statickg/pkg/etl/engine/retry"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
	"github.com/tigerroll/statickg/pkg/etl/support/util/shell"
)

const moduleName = "service"

// Service is a named, stateful pipeline step implementation. It is constructed once per
// runner and invoked once per task bound to it.
type Service interface {
	// Forward executes one task. args are the task arguments with paths already resolved.
	Forward(ctx context.Context, repo source.Repository, args map[string]interface{}, tracker *model.ETLFileTracker) error
	// Close releases the resources held by the service.
	Close() error
}

// Env is everything a service receives at construction time.
type Env struct {
	// Name is the service name from the configuration. It is also the cache namespace.
	Name string
	// WorkDir is the working directory of the runner.
	WorkDir string
	// Dirs maps each base type to its absolute directory.
	Dirs map[model.BaseType]string

	Cache    cache.Backend
	Storage  storage.StorageProvider
	Recorder metrics.MetricRecorder
	Tracer   metrics.Tracer
	HTTP     *http.Client
	Retry    retry.RetryPolicy
	Shell    shell.CommandRunner

	// Services holds the services constructed before this one, by name.
	Services map[string]Service
}

// WithDefaults fills the unset collaborators of env with working defaults. Cache and Storage
// have no default and must be provided by the caller.
func (env Env) WithDefaults() Env {
	if env.Recorder == nil {
		env.Recorder = metrics.NoopRecorder{}
	}
	if env.HTTP == nil {
		env.HTTP = http.DefaultClient
	}
	if env.Shell == nil {
		env.Shell = &shell.Runner{}
	}
	if env.Retry == nil {
		env.Retry = retry.NewPolicy(config.RetryConfig{MaxAttempts: 1})
	}
	if env.Services == nil {
		env.Services = map[string]Service{}
	}
	return env
}

// Builder constructs a service from its constructor arguments.
type Builder func(ctx context.Context, env Env, args map[string]interface{}) (Service, error)

// Factory maps classpaths to builders.
type Factory struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{builders: make(map[string]Builder)}
}

// RegisterBuilder registers builder under every given classpath.
func (f *Factory) RegisterBuilder(builder Builder, classpaths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cp := range classpaths {
		f.builders[cp] = builder
		logger.Debugf("Service builder registered for classpath '%s'.", cp)
	}
}

// Classpaths returns the registered classpaths, sorted.
func (f *Factory) Classpaths() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.builders))
	for cp := range f.builders {
		out = append(out, cp)
	}
	sort.Strings(out)
	return out
}

// Build constructs the service registered under classpath.
func (f *Factory) Build(ctx context.Context, classpath string, env Env, args map[string]interface{}) (Service, error) {
	f.mu.RLock()
	builder, ok := f.builders[classpath]
	f.mu.RUnlock()
	if !ok {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "service %s: unknown classpath %q", env.Name, classpath)
	}
	svc, err := builder(ctx, env.WithDefaults(), args)
	if err != nil {
		if exception.IsETLError(err) {
			return nil, err
		}
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to construct service %s (%s)", env.Name, classpath, err)
	}
	return svc, nil
}
