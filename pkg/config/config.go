// Package config loads and validates the naming server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DRIFTNS_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/driftfs/driftfs/internal/bytesize"
)

// Config represents the naming server configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the client-facing TCP listener
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Heartbeat configures storage server liveness probing
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" yaml:"heartbeat"`

	// Paths configures on-disk locations for the registry, the LRU cache of
	// file contents, and the per-SS backup trees
	Paths PathsConfig `mapstructure:"paths" yaml:"paths"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Exec configures remote script execution
	Exec ExecConfig `mapstructure:"exec" yaml:"exec"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the TCP dispatcher.
type ServerConfig struct {
	// Port is the TCP port clients and storage servers connect to.
	// Default: 8080
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// MaxClients caps concurrently served connections; further accepts
	// block until a slot frees. Default: 100
	MaxClients int `mapstructure:"max_clients" validate:"gt=0" yaml:"max_clients"`

	// ShutdownTimeout bounds the graceful drain; connections still open
	// after it are force-closed. Default: 30s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// SSCallTimeout bounds each send+recv exchange on a storage server
	// control channel. Default: 5s
	SSCallTimeout time.Duration `mapstructure:"ss_call_timeout" validate:"required,gt=0" yaml:"ss_call_timeout"`
}

// HeartbeatConfig configures the storage server liveness monitor.
type HeartbeatConfig struct {
	// Interval between sweeps over registered storage servers. Default: 10s
	Interval time.Duration `mapstructure:"interval" validate:"required,gt=0" yaml:"interval"`

	// Window is the staleness threshold: a server silent for longer is
	// marked failed. Must exceed Interval. Default: 60s
	Window time.Duration `mapstructure:"window" validate:"required,gt=0,gtfield=Interval" yaml:"window"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// Registry is the metadata persistence file. Default: registry.dat
	Registry string `mapstructure:"registry" validate:"required" yaml:"registry"`

	// CacheDir holds cached copies of recently read files. Default: cache
	CacheDir string `mapstructure:"cache_dir" validate:"required" yaml:"cache_dir"`

	// BackupsDir holds per-SS backup trees used for failover reads.
	// Default: backups
	BackupsDir string `mapstructure:"backups_dir" validate:"required" yaml:"backups_dir"`

	// CacheLimit caps the total size of CacheDir; the oldest entries are
	// evicted past it. Accepts sizes like "64Mi". Zero disables the cap.
	// Default: 64Mi
	CacheLimit bytesize.ByteSize `mapstructure:"cache_limit" yaml:"cache_limit"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false no metrics endpoint is served.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the /metrics endpoint. Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ExecConfig configures the EXEC operation.
type ExecConfig struct {
	// Enabled controls whether EXEC requests are served at all. Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Shell is the interpreter the fetched script runs under.
	// Default: /bin/bash
	Shell string `mapstructure:"shell" yaml:"shell"`

	// Timeout bounds a single script execution. Default: 30s
	Timeout time.Duration `mapstructure:"timeout" validate:"required,gt=0" yaml:"timeout"`
}

// Load loads configuration from file, environment, and defaults.
// configPath may be empty, in which case the default location is searched and
// a missing file falls back to pure defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when an explicitly
// requested config file does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Generate one with:\n"+
				"  driftns init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures environment variable support and config file search.
// Environment variables use the DRIFTNS_ prefix with underscores, for example
// DRIFTNS_SERVER_PORT=9090.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DRIFTNS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// ApplyDefaults cannot tell an omitted exec.enabled from an explicit
	// false, so this default lives in viper
	v.SetDefault("exec.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error); a missing file is not an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME and falling back to ~/.config, then the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "driftns")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "driftns")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
