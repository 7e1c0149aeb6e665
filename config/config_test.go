package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/reflector"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svxreflector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// chdir moves into dir for the rest of the test so no stray config file is found.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen_port: 5301
auth_key: "s3cret"
sql_timeout: 120
sql_timeout_blocktime: 30
http_listen: "127.0.0.1:8080"
audio_timeout: 2s
heartbeat:
  udp_timeout: 45s
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5301, cfg.ListenPort)
	assert.Equal(t, "s3cret", cfg.AuthKey)
	assert.Equal(t, uint(120), cfg.SquelchTimeout)
	assert.Equal(t, 30, cfg.SquelchBlockTime)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPListen)
	assert.Equal(t, 2*time.Second, cfg.AudioTimeout)
	assert.Equal(t, 45*time.Second, cfg.Heartbeat.UDPTimeout)
	assert.Equal(t, Default().Heartbeat.Interval, cfg.Heartbeat.Interval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":5301", cfg.ListenAddr())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "auth_key: from-file\nlisten_port: 5301\n")
	t.Setenv("SVXREFLECTOR_AUTH_KEY", "from-env")
	t.Setenv("SVXREFLECTOR_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.AuthKey)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 5301, cfg.ListenPort)
}

func TestLoadEnvOnly(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SVXREFLECTOR_AUTH_KEY", "env-key")
	t.Setenv("SVXREFLECTOR_LISTEN_PORT", "6000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.AuthKey)
	assert.Equal(t, 6000, cfg.ListenPort)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "auth_key: via-env-path\n")
	t.Setenv("SVXREFLECTOR_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "via-env-path", cfg.AuthKey)
}

func TestLoadRejectsKeys(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	_, err := Load("")
	assert.ErrorIs(t, err, reflector.ErrMissingAuthKey)

	path := writeConfig(t, "auth_key: \"Change this key now!\"\n")
	_, err = Load(path)
	assert.ErrorIs(t, err, reflector.ErrPlaceholderAuthKey)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad log level", "auth_key: k\nlog:\n  level: loud\n"},
		{"bad log format", "auth_key: k\nlog:\n  format: xml\n"},
		{"bad port", "auth_key: k\nlisten_port: 70000\n"},
		{"bad yaml", "auth_key: [k\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestBlockTimeClamped(t *testing.T) {
	cfg, err := Load(writeConfig(t, "auth_key: k\nsql_timeout_blocktime: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.SquelchBlockTime)
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.AuthKey = "k"
	cfg.ListenHost = "127.0.0.1"
	cfg.SquelchTimeout = 90
	cfg.SquelchBlockTime = 45
	cfg.Heartbeat.SendQueueSize = 16

	o := cfg.Options()
	require.NoError(t, o.Validate())
	assert.Equal(t, "127.0.0.1:5300", o.ListenAddr)
	assert.Equal(t, "k", o.AuthKey)
	assert.Equal(t, uint(90), o.SquelchTimeout)
	assert.Equal(t, 45*time.Second, o.SquelchBlockTime)
	assert.Equal(t, uint(45), o.BlockTicks())
	assert.Equal(t, 16, o.Client.SendQueueSize)
	assert.Equal(t, "k", o.Client.AuthKey)
}
