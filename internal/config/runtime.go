package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix for every runtime environment variable.
const EnvPrefix = "PIPELINE"

// Runtime holds process settings that come from the environment rather than
// the dataset configuration.
type Runtime struct {
	ConfigFile      string        `envconfig:"CONFIG_FILE"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"INFO" validate:"oneof=DEBUG INFO WARN ERROR FATAL debug info warn error fatal"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s" validate:"gt=0"`
	ServerAddr      string        `envconfig:"SERVER_ADDR" default:":8080" validate:"required"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s" validate:"gt=0"`
	RunOnStart      bool          `envconfig:"RUN_ON_START" default:"true"`
}

// LoadRuntime reads PIPELINE_* environment variables.
func LoadRuntime() (*Runtime, error) {
	var rt Runtime
	if err := envconfig.Process(EnvPrefix, &rt); err != nil {
		return nil, fmt.Errorf("failed to load runtime config from env: %w", err)
	}
	if err := validate.Struct(&rt); err != nil {
		return nil, fmt.Errorf("invalid runtime config: %w", err)
	}
	return &rt, nil
}

// Dataset returns the dataset configuration named by ConfigFile, or the
// built-in default when no file is set.
func (rt *Runtime) Dataset() (*Config, error) {
	if rt.ConfigFile == "" {
		return Default(), nil
	}
	return Load(rt.ConfigFile)
}
