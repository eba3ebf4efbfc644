package config

import (
	"go.uber.org/fx"

	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

// Params are the fx inputs of NewConfigProvider.
type Params struct {
	fx.In
	EnvFilePath string `name:"envFilePath" optional:"true"`
	ConfigPath  string `name:"appConfigPath" optional:"true"`
}

// NewConfigProvider loads the configuration and applies the log level.
func NewConfigProvider(p Params) (*Config, error) {
	cfg, err := LoadConfigFile(p.EnvFilePath, p.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.Statickg.System.Logging.Level)
	logger.Debugf("Log level set to: %s", cfg.Statickg.System.Logging.Level)
	return cfg, nil
}

// Module provides *Config.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
)
