package config

import (
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/statickg/pkg/etl/support/util/configbinder"
	"github.com/tigerroll/statickg/pkg/etl/support/util/exception"
	"github.com/tigerroll/statickg/pkg/etl/support/util/logger"
)

const moduleName = "config"

// LoadConfig builds the application configuration in three layers: defaults from NewConfig,
// the YAML document (after environment placeholder expansion), then environment variable
// overrides named after the yaml path, e.g. STATICKG_SYSTEM_LOGGING_LEVEL.
//
// Parameters:
//
//	envFilePath: The .env file to load first. Empty means ".env" in the working directory, if any.
//	data: The YAML document. May be empty.
//
// Returns:
//
//	The loaded Config and an error if the YAML or an environment value is malformed.
func LoadConfig(envFilePath string, data []byte) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()

	if len(data) > 0 {
		// ${VAR} placeholders are expanded first; unset variables become empty.
		expanded := os.ExpandEnv(string(data))
		// Unmarshalling onto the defaults keeps every key the document leaves out.
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, exception.NewETLError(moduleName, exception.ErrInvalidConfig, "failed to unmarshal config", err)
		}
	}

	if overrides := envOverrides(reflect.TypeOf(*cfg), ""); len(overrides) > 0 {
		// Bound onto cfg, so keys without a variable keep their value.
		if err := configbinder.BindProperties(overrides, cfg); err != nil {
			return nil, exception.NewETLError(moduleName, exception.ErrInvalidConfig, "failed to load config from environment variables", err)
		}
	}
	return cfg, nil
}

// LoadConfigFile reads path and calls LoadConfig. An empty path loads defaults and environment only.
func LoadConfigFile(envFilePath, path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, exception.NewETLErrorf(moduleName, exception.ErrInvalidConfig, "failed to read config file %s", path, err)
		}
		data = b
	}
	return LoadConfig(envFilePath, data)
}

// envOverrides collects the environment variables named after the yaml paths of typ into a
// nested map. STATICKG_HTTP_RETRY_MAX_ATTEMPTS sets statickg.http.retry.max_attempts.
func envOverrides(typ reflect.Type, prefix string) map[string]interface{} {
	out := make(map[string]interface{})
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.ToUpper(prefix + tag)
		if field.Type.Kind() == reflect.Struct {
			if nested := envOverrides(field.Type, name+"_"); len(nested) > 0 {
				out[tag] = nested
			}
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			out[tag] = value
		}
	}
	return out
}
