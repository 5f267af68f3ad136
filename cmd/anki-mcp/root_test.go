package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danieldreier/anki-mcp/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(args))
	return resolveConfig(cmd)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anki-mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `
anki_connect:
  url: http://anki.local:8765
  api_key: from-file
transport:
  mode: sse
  addr: ":9000"
log:
  level: warn
`)

	cfg, err := parse(t, "--config", path, "--api-key", "from-flag", "--timeout", "3s", "--no-rollback")
	require.NoError(t, err)

	assert.Equal(t, "http://anki.local:8765", cfg.AnkiConnect.URL)
	assert.Equal(t, "from-flag", cfg.AnkiConnect.APIKey)
	assert.Equal(t, 3*time.Second, cfg.AnkiConnect.Timeout)
	assert.Equal(t, config.TransportSSE, cfg.Transport.Mode)
	assert.Equal(t, ":9000", cfg.Transport.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Rename.Rollback)
}

func TestResolveConfig_UnsetFlagsKeepFileValues(t *testing.T) {
	path := writeConfig(t, "transport:\n  mode: sse\n  addr: \":7000\"\n")

	cfg, err := parse(t, "--config", path, "--log-level", "debug")
	require.NoError(t, err)

	// The flag defaults are stdio and :8080; the file must win over them.
	assert.Equal(t, config.TransportSSE, cfg.Transport.Mode)
	assert.Equal(t, ":7000", cfg.Transport.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Rename.Rollback)
}

func TestResolveConfig_Invalid(t *testing.T) {
	_, err := parse(t, "--transport", "carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.mode")

	_, err = parse(t, "--anki-url", "localhost:8765")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anki_connect.url")

	_, err = parse(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "anki-mcp "+version+"\n", out.String())
}
