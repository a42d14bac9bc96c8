// Package config loads rpcrt configuration using koanf/v2, layering a
// YAML file over built-in defaults with environment variable
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete rpcrt runtime configuration.
type Config struct {
	Directory DirectoryConfig `koanf:"directory"`
	RPC       RPCConfig       `koanf:"rpc"`
	Security  SecurityConfig  `koanf:"security"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
}

// DirectoryConfig addresses the world directory's HTTP API.
type DirectoryConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// RPCConfig holds the connection-lifecycle and zone-transition
// tunables.
type RPCConfig struct {
	HandshakeTimeout       time.Duration `koanf:"handshake_timeout"`
	ManifestRetries        int           `koanf:"manifest_retries"`
	WorldStatePeriod       time.Duration `koanf:"world_state_period"`
	HeartbeatPeriod        time.Duration `koanf:"heartbeat_period"`
	AvailableZonesPeriod   time.Duration `koanf:"available_zones_period"`
	BoundaryThresholdUnits float64       `koanf:"boundary_threshold_units"`
	NeighbourEvictionAge   time.Duration `koanf:"neighbour_eviction_age"`
}

// SecurityConfig selects the PSK handshake mode and session lifetime.
type SecurityConfig struct {
	Mode       string        `koanf:"mode"`
	SessionTTL time.Duration `koanf:"session_ttl"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultConfig returns a Config populated with the runtime's
// default tunables.
func DefaultConfig() *Config {
	return &Config{
		Directory: DirectoryConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 5 * time.Second,
		},
		RPC: RPCConfig{
			HandshakeTimeout:       10 * time.Second,
			ManifestRetries:        3,
			WorldStatePeriod:       16 * time.Millisecond,
			HeartbeatPeriod:        5 * time.Second,
			AvailableZonesPeriod:   2 * time.Second,
			BoundaryThresholdUnits: 50,
			NeighbourEvictionAge:   10 * time.Second,
		},
		Security: SecurityConfig{
			Mode:       "psk",
			SessionTTL: 4 * time.Hour,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

const envPrefix = "RPCRT_"

// Load reads configuration from a YAML file at path (if non-empty),
// overlays RPCRT_-prefixed environment variables, and merges on top of
// DefaultConfig(). A missing path is not an error: defaults plus
// environment overrides are used as-is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	Clamp(cfg)
	return cfg, nil
}

func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaultMap := map[string]any{
		"directory.base_url":              d.Directory.BaseURL,
		"directory.timeout":               d.Directory.Timeout.String(),
		"rpc.handshake_timeout":           d.RPC.HandshakeTimeout.String(),
		"rpc.manifest_retries":            d.RPC.ManifestRetries,
		"rpc.world_state_period":          d.RPC.WorldStatePeriod.String(),
		"rpc.heartbeat_period":            d.RPC.HeartbeatPeriod.String(),
		"rpc.available_zones_period":      d.RPC.AvailableZonesPeriod.String(),
		"rpc.boundary_threshold_units":    d.RPC.BoundaryThresholdUnits,
		"rpc.neighbour_eviction_age":      d.RPC.NeighbourEvictionAge.String(),
		"security.mode":                   d.Security.Mode,
		"security.session_ttl":            d.Security.SessionTTL.String(),
		"metrics.addr":                    d.Metrics.Addr,
		"metrics.path":                    d.Metrics.Path,
		"log.level":                       d.Log.Level,
		"log.format":                      d.Log.Format,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

var ErrEmptyDirectoryURL = errors.New("directory.base_url must not be empty")
var ErrEmptyServerID = errors.New("server_id must not be empty")

// Clamp enforces a "clamp, don't error" policy for
// out-of-range tunables: invalid numeric values fall back to their
// default rather than failing startup. Only a genuinely unusable field
// (an empty directory URL) is left for the caller to reject.
func Clamp(cfg *Config) {
	d := DefaultConfig()
	if cfg.RPC.HandshakeTimeout <= 0 {
		cfg.RPC.HandshakeTimeout = d.RPC.HandshakeTimeout
	}
	if cfg.Security.SessionTTL <= 0 {
		cfg.Security.SessionTTL = d.Security.SessionTTL
	}
	if cfg.RPC.ManifestRetries <= 0 {
		cfg.RPC.ManifestRetries = d.RPC.ManifestRetries
	}
	if cfg.RPC.WorldStatePeriod <= 0 {
		cfg.RPC.WorldStatePeriod = d.RPC.WorldStatePeriod
	}
	if cfg.RPC.HeartbeatPeriod <= 0 {
		cfg.RPC.HeartbeatPeriod = d.RPC.HeartbeatPeriod
	}
	if cfg.RPC.AvailableZonesPeriod <= 0 {
		cfg.RPC.AvailableZonesPeriod = d.RPC.AvailableZonesPeriod
	}
	if cfg.RPC.BoundaryThresholdUnits <= 0 {
		cfg.RPC.BoundaryThresholdUnits = d.RPC.BoundaryThresholdUnits
	}
	if cfg.RPC.NeighbourEvictionAge <= 0 {
		cfg.RPC.NeighbourEvictionAge = d.RPC.NeighbourEvictionAge
	}
	if cfg.Security.Mode == "" {
		cfg.Security.Mode = d.Security.Mode
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}

// Validate reports the one configuration error the runtime cannot
// paper over by clamping: an unset directory address.
func Validate(cfg *Config) error {
	if cfg.Directory.BaseURL == "" {
		return ErrEmptyDirectoryURL
	}
	return nil
}

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
