// Package config loads plexec settings from an optional YAML file and
// PLEXEC_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/plexec/internal/exec"
	"github.com/roach88/plexec/internal/logging"
)

// EnvPrefix prefixes every environment variable, e.g. PLEXEC_LOG_LEVEL.
const EnvPrefix = "PLEXEC"

// DefaultFileName is the config file looked up in the working directory
// when none is given.
const DefaultFileName = "plexec"

// Config holds all settings.
type Config struct {
	Exec    ExecConfig    `mapstructure:"exec"`
	Log     LogConfig     `mapstructure:"log"`
	Trace   TraceConfig   `mapstructure:"trace"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ExecConfig tunes the executive.
type ExecConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
	// ResourceFile is a YAML resource hierarchy. Empty means every command
	// is accepted.
	ResourceFile string `mapstructure:"resource_file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TraceConfig configures the SQLite trace recorder.
type TraceConfig struct {
	// Database is the SQLite file. Empty disables recording.
	Database string `mapstructure:"database"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of /metrics. Empty disables it.
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("exec.max_iterations", exec.DefaultMaxIterations)
	v.SetDefault("exec.resource_file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("trace.database", "")
	v.SetDefault("metrics.addr", "")
}

// Load reads configuration. With an empty path, plexec.yaml in the working
// directory is read if it exists. Environment variables override the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return NewFromViper(v)
}

// NewFromViper unmarshals and validates the settings held by v.
func NewFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings for sane values.
func (c *Config) Validate() error {
	if c.Exec.MaxIterations <= 0 {
		return fmt.Errorf("exec.max_iterations must be a positive integer")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must not be negative")
	}
	return nil
}

// LoggingOptions converts the log settings for logging.New.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
