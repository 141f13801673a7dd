package config

import (
	"strings"
	"time"

	"github.com/driftfs/driftfs/internal/bytesize"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
// Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyHeartbeatDefaults(&cfg.Heartbeat)
	applyPathsDefaults(&cfg.Paths)
	applyMetricsDefaults(&cfg.Metrics)
	applyExecDefaults(&cfg.Exec)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize for a consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 100
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.SSCallTimeout == 0 {
		cfg.SSCallTimeout = 5 * time.Second
	}
}

func applyHeartbeatDefaults(cfg *HeartbeatConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Window == 0 {
		cfg.Window = 60 * time.Second
	}
}

func applyPathsDefaults(cfg *PathsConfig) {
	if cfg.Registry == "" {
		cfg.Registry = "registry.dat"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "cache"
	}
	if cfg.BackupsDir == "" {
		cfg.BackupsDir = "backups"
	}
	if cfg.CacheLimit == 0 {
		cfg.CacheLimit = 64 * bytesize.MiB
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	// Enabled defaults to false; port only matters when serving
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyExecDefaults(cfg *ExecConfig) {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/bash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
}

// GetDefaultConfig returns a Config with all default values applied. EXEC is
// enabled by default to match the behaviour clients expect.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Exec: ExecConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}
