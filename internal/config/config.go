// Package config holds the viper-backed configuration tree for auxcli.
// Values come from defaults, an optional YAML file and AUXCLI_* environment
// variables, in ascending precedence.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by browser.backend and the --backend flag.
const (
	BackendStatic = "static"
	BackendChrome = "chrome"
)

// Config is the root of the configuration tree. Fields are exported so
// viper.Unmarshal can populate them through the mapstructure tags.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the ANSI color codes for console log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig selects and tunes the capability backend. Only the chrome
// backend reads the launch-related fields.
type BrowserConfig struct {
	Backend      string   `mapstructure:"backend" yaml:"backend"`
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	DisableGPU   bool     `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`
	Args         []string `mapstructure:"args" yaml:"args"`
}

// NetworkConfig tunes outbound behavior shared by both backends.
type NetworkConfig struct {
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	AcceptLanguage    string        `mapstructure:"accept_language" yaml:"accept_language"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	AllowedDomains    []string      `mapstructure:"allowed_domains" yaml:"allowed_domains"`
	BlockedDomains    []string      `mapstructure:"blocked_domains" yaml:"blocked_domains"`
}

// EngineConfig bounds engine calls made through the CLI.
type EngineConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	MaxParallel    int           `mapstructure:"max_parallel" yaml:"max_parallel"`
}

// ArchiveConfig enables the optional Postgres run archive. The DSN is kept
// out of YAML output since it usually carries credentials.
type ArchiveConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	DSN          string        `mapstructure:"dsn" yaml:"-"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers a default for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "auxcli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.backend", BackendStatic)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)

	// -- Network --
	v.SetDefault("network.user_agent", "")
	v.SetDefault("network.accept_language", "en-US,en;q=0.9")
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.requests_per_second", 0.0)
	v.SetDefault("network.allowed_domains", []string{})
	v.SetDefault("network.blocked_domains", []string{})

	// -- Engine --
	v.SetDefault("engine.default_timeout", "2m")
	v.SetDefault("engine.max_parallel", 4)

	// -- Archive --
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.write_timeout", "10s")
}

// NewConfigFromViper unmarshals and validates a configuration from a viper
// instance that already has defaults, file and env sources applied.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// The DSN carries credentials, so it gets a dedicated env binding on top
	// of the generic AUXCLI_* mapping.
	v.BindEnv("archive.dsn", "AUXCLI_ARCHIVE_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Browser.Backend {
	case BackendStatic, BackendChrome:
	default:
		return fmt.Errorf("browser.backend must be %q or %q, got %q", BackendStatic, BackendChrome, c.Browser.Backend)
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be positive integers")
	}
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.Network.RequestsPerSecond < 0 {
		return fmt.Errorf("network.requests_per_second cannot be negative")
	}
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine.default_timeout must be a positive duration")
	}
	if c.Engine.MaxParallel <= 0 {
		return fmt.Errorf("engine.max_parallel must be a positive integer")
	}
	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the archive settings. A disabled archive is always valid.
func (a *ArchiveConfig) Validate() error {
	if !a.Enabled {
		return nil
	}
	if a.DSN == "" {
		return fmt.Errorf("archive.dsn is required when the archive is enabled; set it in the config file or via AUXCLI_ARCHIVE_DSN")
	}
	if a.WriteTimeout <= 0 {
		return fmt.Errorf("archive.write_timeout must be a positive duration")
	}
	return nil
}
