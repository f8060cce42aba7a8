// ABOUTME: Tests for configuration loading
// ABOUTME: Verifies YAML parsing, env expansion, duration parsing, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/bridge.db"

sessions:
  max_concurrent: 5
  resume_fail_limit: 2
  idle_timeout: "2h"
  warning_window: "10m"
  sweep_interval: "30s"

streaming:
  soft_limit: 2000
  hard_limit: 8000
  lookahead: 400
  debounce: "500ms"
  typing_interval: "5s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/bridge.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Sessions.MaxConcurrent)
	assert.Equal(t, 2, cfg.Sessions.ResumeFailLimit)
	assert.Equal(t, 2*time.Hour, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Sessions.WarningWindow)
	assert.Equal(t, 30*time.Second, cfg.Sessions.SweepInterval)
	assert.Equal(t, 2000, cfg.Streaming.SoftLimit)
	assert.Equal(t, 8000, cfg.Streaming.HardLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Streaming.Debounce)
	assert.Equal(t, 5*time.Second, cfg.Streaming.TypingInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/bridge.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Sessions.MaxConcurrent)
	assert.Equal(t, 3, cfg.Sessions.ResumeFailLimit)
	assert.Equal(t, 4*time.Hour, cfg.Sessions.IdleTimeout)
	assert.Equal(t, 3000, cfg.Streaming.SoftLimit)
	assert.Equal(t, 16000, cfg.Streaming.HardLimit)
	assert.Equal(t, 750*time.Millisecond, cfg.Streaming.Debounce)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("BRIDGE_DB_PATH", "/var/data/bridge.db")
	path := writeConfig(t, `
database:
  path: "${BRIDGE_DB_PATH}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/data/bridge.db", cfg.Database.Path)
}

func TestLoad_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "info"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path is required")
}

func TestLoad_SoftLimitAboveHard(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/bridge.db"

streaming:
  soft_limit: 9000
  hard_limit: 8000
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soft_limit must be below")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/bridge.db"

sessions:
  idle_timeout: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "idle_timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
