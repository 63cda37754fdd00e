package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 10*time.Minute, cfg.Rooms.Retention)
	assert.NotEmpty(t, cfg.WebRTC.ICEServers)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Address, cfg.Server.Address)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  address: ":9090"
rooms:
  retention: 5m
  sweep_interval: 30s
logging:
  level: "debug"
rate_limiting:
  enabled: true
  messages_per_second: 10
  burst: 20
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 5*time.Minute, cfg.Rooms.Retention)
	assert.Equal(t, 30*time.Second, cfg.Rooms.SweepInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.RateLimiting.Enabled)
	assert.Equal(t, float64(10), cfg.RateLimiting.MessagesPerSecond)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Signal.PingInterval)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  address: ""
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VC_SERVER_ADDRESS", ":7070")
	t.Setenv("VC_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rooms.Retention = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Signal.SendBuffer = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.MessagesPerSecond = 0
	assert.Error(t, cfg.Validate())
}
