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
	path := filepath.Join(t.TempDir(), "piston.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
service:
  name: piston
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, 60*time.Second, cfg.Engine.ExecTimeout)
	assert.Equal(t, 5*time.Second, cfg.Engine.GracePeriod)
	assert.Equal(t, 64*1024, cfg.Engine.MaxStderrBytes)
	assert.Equal(t, 256, cfg.Engine.EventBuffer)
	assert.Equal(t, time.Second, cfg.Tasks.TickInterval)
	assert.Equal(t, 4, cfg.Tasks.MaxAttempts)
	assert.False(t, cfg.API.Enabled)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `
engine:
  manifest: plugins.json
storage:
  path: data/piston.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	baseDir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(baseDir, "plugins.json"), cfg.Engine.Manifest)
	assert.Equal(t, filepath.Join(baseDir, "data/piston.db"), cfg.Storage.Path)
	assert.True(t, filepath.IsAbs(cfg.Service.PIDFile))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "service: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
service:
  log_level: verbose
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestEnvInterpolation(t *testing.T) {
	t.Setenv("PISTON_TEST_KEY", "sk-live-123")
	path := writeConfig(t, `
api:
  enabled: true
  auth:
    keys:
      - key: ${PISTON_TEST_KEY}
        scopes: [execute]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.API.Auth.Keys, 1)
	assert.Equal(t, "sk-live-123", cfg.API.Auth.Keys[0].Key)
}

func TestUnresolvedEnvVarInKeyIsFatal(t *testing.T) {
	path := writeConfig(t, `
api:
  enabled: true
  auth:
    keys:
      - key: ${PISTON_DEFINITELY_UNSET_VAR}
        scopes: [execute]
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PISTON_DEFINITELY_UNSET_VAR")
}

func TestEnabledAPIRequiresKeys(t *testing.T) {
	path := writeConfig(t, `
api:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.auth.keys")
}

func TestKeyScopesRequired(t *testing.T) {
	path := writeConfig(t, `
api:
  enabled: true
  auth:
    keys:
      - key: sk-test
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scopes")
}
