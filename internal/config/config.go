// Package config provides configuration management for assetflow.
//
// Configuration is loaded from four sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (ASSETFLOW_ prefix)
//  3. Config file (.assetflow.yaml)
//  4. Built-in defaults
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Supported failure policies.
const (
	FailurePolicyTolerate = "tolerate"
	FailurePolicyFailFast = "fail-fast"
)

// Defaults.
const (
	DefaultPipelineFile = "assetflow.yaml"
	DefaultCacheDir     = ".assetflow/cache"
	DefaultDebounce     = 100 * time.Millisecond
	DefaultPreviewPort  = 3000
)

const (
	maxDebounce            = time.Minute
	maxPort                = 65535
	defaultConfigName      = ".assetflow"
	defaultConfigSubfolder = "assetflow"
)

// Config represents the global configuration for assetflow.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat"`

	// Quiet suppresses all log output below error level.
	Quiet bool `mapstructure:"quiet" json:"quiet"`

	// Pipeline is the path of the pipeline declaration file.
	Pipeline string `mapstructure:"pipeline" json:"pipeline"`

	// Workers bounds how many tasks of one wave run concurrently.
	Workers int `mapstructure:"workers" json:"workers"`

	// FailurePolicy decides what a failed task does to the rest of a build.
	// Valid values: tolerate, fail-fast.
	FailurePolicy string `mapstructure:"failure-policy" json:"failurePolicy"`

	// CacheDir is where the artifact cache is persisted.
	CacheDir string `mapstructure:"cache-dir" json:"cacheDir"`

	// NoCache disables the artifact cache entirely.
	NoCache bool `mapstructure:"no-cache" json:"noCache"`

	// Debounce is the quiet period after a file change before a rebuild.
	Debounce time.Duration `mapstructure:"debounce" json:"debounce"`

	// Proxy is the host:port of a backend the preview server forwards to.
	Proxy string `mapstructure:"proxy" json:"proxy"`

	// Port is the preview server listen port.
	Port int `mapstructure:"port" json:"port"`

	// Open launches the system browser once the preview server is up.
	Open bool `mapstructure:"open" json:"open"`

	// ServeDir is served statically when no proxy is configured.
	ServeDir string `mapstructure:"serve-dir" json:"serveDir"`

	// ServerCommand starts a backend process for the lifetime of a watch
	// session (for example "php -S 127.0.0.1:8000 -t app").
	ServerCommand string `mapstructure:"server-command" json:"serverCommand"`

	// NoPreview disables the preview server in watch mode.
	NoPreview bool `mapstructure:"no-preview" json:"noPreview"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load(), not read from config itself.
	ConfigFile string `mapstructure:"-" json:"-"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:      LogLevelInfo,
		LogFormat:     LogFormatText,
		Pipeline:      DefaultPipelineFile,
		Workers:       runtime.GOMAXPROCS(0),
		FailurePolicy: FailurePolicyTolerate,
		CacheDir:      DefaultCacheDir,
		Debounce:      DefaultDebounce,
		Port:          DefaultPreviewPort,
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		// valid
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	switch c.FailurePolicy {
	case FailurePolicyTolerate, FailurePolicyFailFast:
		// valid
	default:
		return fmt.Errorf("invalid failure policy %q: must be one of tolerate, fail-fast", c.FailurePolicy)
	}

	if strings.TrimSpace(c.Pipeline) == "" {
		return fmt.Errorf("pipeline file must not be empty")
	}

	if c.Workers < 1 {
		return fmt.Errorf("invalid workers %d: must be at least 1", c.Workers)
	}

	if c.Debounce < 0 || c.Debounce > maxDebounce {
		return fmt.Errorf("invalid debounce %s: must be between 0s and %s", c.Debounce, maxDebounce)
	}

	if c.Port < 0 || c.Port > maxPort {
		return fmt.Errorf("invalid port %d: must be between 0 and %d", c.Port, maxPort)
	}

	if !c.NoCache && strings.TrimSpace(c.CacheDir) == "" {
		return fmt.Errorf("cache-dir must not be empty unless no-cache is set")
	}

	return nil
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	return c.LogLevel
}

// Load initialises configuration from flags, environment variables, and an
// optional config file. A fresh viper instance is used on every call so that
// Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("quiet", d.Quiet)
	v.SetDefault("pipeline", d.Pipeline)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("failure-policy", d.FailurePolicy)
	v.SetDefault("cache-dir", d.CacheDir)
	v.SetDefault("no-cache", d.NoCache)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("proxy", d.Proxy)
	v.SetDefault("port", d.Port)
	v.SetDefault("open", d.Open)
	v.SetDefault("serve-dir", d.ServeDir)
	v.SetDefault("server-command", d.ServerCommand)
	v.SetDefault("no-preview", d.NoPreview)
}

// configureEnv sets up environment variable support.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("ASSETFLOW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// configureFile sets up the config file source.
func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	v.SetConfigName(defaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", defaultConfigSubfolder))
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file found is fine in auto-discovery.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}

		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}
