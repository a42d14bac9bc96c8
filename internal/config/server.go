package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ServerConfig holds the action server's own listen and identity
// settings. These are not part of the client-facing Config because
// rpcserver and rpcclient are separate binaries with disjoint
// bootstrap concerns; ServerConfig is loaded the same way (koanf over
// DefaultServerConfig) by cmd/rpcserver.
type ServerConfig struct {
	ServerID  string          `koanf:"server_id"`
	ListenUDP string          `koanf:"listen_udp"`
	Security  SecurityConfig  `koanf:"security"`
	Directory DirectoryConfig `koanf:"directory"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`

	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout"`
}

// DefaultServerConfig returns the action server's default tunables.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerID:  "action-server-1",
		ListenUDP: ":31001",
		Security: SecurityConfig{
			Mode: "psk",
		},
		Directory: DirectoryConfig{
			BaseURL: "http://localhost:8080",
			Timeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		HeartbeatTimeout: 20 * time.Second,
	}
}

const serverEnvPrefix = "RPCRT_SERVER_"

func serverEnvKeyMapper(s string) string {
	s = strings.TrimPrefix(s, serverEnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// LoadServer reads action-server configuration the same way Load does
// for the client: a YAML file overlaid with RPCRT_SERVER_-prefixed
// environment variables, merged on top of DefaultServerConfig().
func LoadServer(path string) (*ServerConfig, error) {
	k := koanf.New(".")
	d := DefaultServerConfig()

	defaultMap := map[string]any{
		"server_id":          d.ServerID,
		"listen_udp":         d.ListenUDP,
		"security.mode":      d.Security.Mode,
		"directory.base_url": d.Directory.BaseURL,
		"directory.timeout":  d.Directory.Timeout.String(),
		"metrics.addr":       d.Metrics.Addr,
		"metrics.path":       d.Metrics.Path,
		"log.level":          d.Log.Level,
		"log.format":         d.Log.Format,
		"heartbeat_timeout":  d.HeartbeatTimeout.String(),
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(serverEnvPrefix, ".", serverEnvKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &ServerConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
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
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = d.HeartbeatTimeout
	}
	return cfg, nil
}

// ValidateServer reports the one configuration error the server
// cannot paper over by clamping: a missing identity.
func ValidateServer(cfg *ServerConfig) error {
	if cfg.ServerID == "" {
		return ErrEmptyServerID
	}
	if cfg.Directory.BaseURL == "" {
		return ErrEmptyDirectoryURL
	}
	return nil
}
