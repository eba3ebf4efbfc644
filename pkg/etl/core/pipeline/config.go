// Package pipeline parses the pipeline configuration (ETLConfig) and guards it against drift
// between runs.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
)

const moduleName = "pipeline"

// SupportedVersion is the only accepted value of the "version" field.
const SupportedVersion = 1

// Service is a named service declaration.
type Service struct {
	Name      string
	Classpath string
	// Args are the constructor arguments. Path-valued strings are model.RelPath values.
	Args map[string]interface{}
}

// Task is one pipeline step.
type Task struct {
	Service string
	// Args are the invocation arguments. Path-valued strings are model.RelPath values.
	Args map[string]interface{}
}

// ETLConfig is a parsed pipeline configuration.
type ETLConfig struct {
	Services map[string]*Service
	Pipeline []Task

	order []string
}

type rawService struct {
	Name      string                 `yaml:"name"`
	Classpath string                 `yaml:"classpath"`
	Args      map[string]interface{} `yaml:"args"`
}

type rawTask struct {
	Service string                 `yaml:"service"`
	Args    map[string]interface{} `yaml:"args"`
}

type rawConfig struct {
	Version  int          `yaml:"version"`
	Services []rawService `yaml:"services"`
	Pipeline []rawTask    `yaml:"pipeline"`
}

// ParseFile reads and parses the configuration at path. The CFG_DIR base defaults to the
// directory of path when dirs does not set it.
func ParseFile(path string, dirs map[model.BaseType]string) (*ETLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to read pipeline configuration %s", path, err)
	}
	withCfg := make(map[model.BaseType]string, len(dirs)+1)
	for k, v := range dirs {
		withCfg[k] = v
	}
	if _, ok := withCfg[model.BaseCfgDir]; !ok {
		abs, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to resolve directory of %s", path, err)
		}
		withCfg[model.BaseCfgDir] = abs
	}
	return Parse(data, withCfg)
}

// Parse parses a configuration document. Strings starting with a "::BASE::" marker whose base
// is present in dirs become model.RelPath values.
func Parse(data []byte, dirs map[model.BaseType]string) (*ETLConfig, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to parse pipeline configuration", err)
	}
	if raw.Version != SupportedVersion {
		return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "unsupported configuration version %d, expected %d", raw.Version, SupportedVersion)
	}

	cfg := &ETLConfig{Services: make(map[string]*Service, len(raw.Services))}
	for _, s := range raw.Services {
		if s.Name == "" {
			return nil, exception.NewETLError(moduleName, exception.ErrInvalidConfig, "service without a name", nil)
		}
		if _, dup := cfg.Services[s.Name]; dup {
			return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "service %s is duplicated", s.Name)
		}
		if s.Classpath == "" {
			return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "service %s has no classpath", s.Name)
		}
		cfg.Services[s.Name] = &Service{
			Name:      s.Name,
			Classpath: s.Classpath,
			Args:      resolveArgs(s.Args, dirs),
		}
		cfg.order = append(cfg.order, s.Name)
	}

	for i, t := range raw.Pipeline {
		if _, ok := cfg.Services[t.Service]; !ok {
			return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "task %d uses unknown service %q", i, t.Service)
		}
		cfg.Pipeline = append(cfg.Pipeline, Task{
			Service: t.Service,
			Args:    resolveArgs(t.Args, dirs),
		})
	}
	return cfg, nil
}

// ServiceList returns the services in declaration order.
func (c *ETLConfig) ServiceList() []*Service {
	out := make([]*Service, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.Services[name])
	}
	return out
}

func resolveArgs(args map[string]interface{}, dirs map[model.BaseType]string) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	resolved, _ := resolvePaths(args, dirs).(map[string]interface{})
	return resolved
}

func resolvePaths(v interface{}, dirs map[model.BaseType]string) interface{} {
	switch val := v.(type) {
	case string:
		for _, bt := range model.BaseTypes {
			base, ok := dirs[bt]
			if !ok || !strings.HasPrefix(val, bt.Prefix()) {
				continue
			}
			return model.RelPath{BaseType: bt, BasePath: base, RelPath: strings.TrimPrefix(val, bt.Prefix())}
		}
		return val
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = resolvePaths(item, dirs)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolvePaths(item, dirs)
		}
		return out
	default:
		return v
	}
}

// String implements fmt.Stringer.
func (t Task) String() string {
	return fmt.Sprintf("task(%s)", t.Service)
}
