package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
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

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRootCmdRejectsPlaceholderKey(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf("auth_key: %q\n", reflector.PlaceholderAuthKey))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path})
	cmd.SetOut(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, reflector.ErrPlaceholderAuthKey)
}

func TestRootCmdServesUntilCancelled(t *testing.T) {
	httpPort := freePort(t)
	path := writeConfig(t, "auth_key: test\nlisten_host: 127.0.0.1\nlisten_port: 0\nlog:\n  level: error\n")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "--http-listen", fmt.Sprintf("127.0.0.1:%d", httpPort)})
	cmd.SetOut(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", httpPort))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", httpPort))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "svxreflector_sessions")
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("command did not stop")
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	path := writeConfig(t, "auth_key: test\nlisten_port: 5301\n")

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--listen-port", "6001", "--log-level", "debug"}))

	cfg, err := loadConfig(cmd, flags{configPath: path, listenPort: 6001, logLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, 6001, cfg.ListenPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Empty(t, cfg.HTTPListen)
}

func TestVersionFlag(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--version"})
	cmd.SetOut(&out)

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), version)
}
