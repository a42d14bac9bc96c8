package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))
}

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 50.0, cfg.RPC.BoundaryThresholdUnits)
	require.Equal(t, 16*time.Millisecond, cfg.RPC.WorldStatePeriod)
}

func TestLoadOverlaysYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rpcrt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rpc:\n  boundary_threshold_units: 75\nsecurity:\n  mode: none\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 75.0, cfg.RPC.BoundaryThresholdUnits)
	require.Equal(t, "none", cfg.Security.Mode)
}

func TestClampRejectsNonPositiveValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPC.ManifestRetries = -1
	cfg.RPC.BoundaryThresholdUnits = 0
	Clamp(cfg)
	require.Equal(t, 3, cfg.RPC.ManifestRetries)
	require.Equal(t, 50.0, cfg.RPC.BoundaryThresholdUnits)
}

func TestValidateRejectsEmptyDirectoryURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Directory.BaseURL = ""
	require.ErrorIs(t, Validate(cfg), ErrEmptyDirectoryURL)
}

func TestParseLogLevelUnknownDefaultsToInfo(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLogLevel("DEBUG"))
	require.Equal(t, slog.LevelInfo, ParseLogLevel("bogus"))
}
