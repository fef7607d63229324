package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 1000, cfg.CommitCap)
	assert.Equal(t, 0.7, cfg.RiskFraction)
	assert.Equal(t, 1.0, cfg.OverloadFraction)
	assert.Equal(t, 15.0, cfg.DefaultPressureThreshold)
	assert.Equal(t, 24*time.Hour, cfg.SweepInterval)
	assert.Equal(t, time.Hour, cfg.CommitSyncInterval)
	assert.Equal(t, "ProjectPulse", cfg.AppName)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PULSE_ADDR", ":9090")
	t.Setenv("PULSE_LOG_LEVEL", "debug")
	t.Setenv("PULSE_COMMIT_CAP", "500")
	t.Setenv("PULSE_SWEEP_INTERVAL", "1h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500, cfg.CommitCap)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	// Untouched values keep their defaults.
	assert.Equal(t, 0.7, cfg.RiskFraction)
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":7070\"\nlog_level: warn\n"), 0o600))
	t.Setenv("PULSE_CONFIG", path)
	t.Setenv("PULSE_LOG_LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr, "file overrides defaults")
	assert.Equal(t, "error", cfg.LogLevel, "env overrides file")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "rejects zero commit cap", key: "PULSE_COMMIT_CAP", value: "0"},
		{name: "rejects risk above overload", key: "PULSE_RISK_FRACTION", value: "1.5"},
		{name: "rejects negative sweep interval", key: "PULSE_SWEEP_INTERVAL", value: "-1h"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
