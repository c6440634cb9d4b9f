package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":8765", config.Server.ListenAddr)
	assert.Equal(t, 100, config.Limits.BroadcastWorkers)
	assert.Equal(t, 10, config.Limits.ReplyWorkers)

	data, err := os.ReadFile(path)
	require.NoError(t, err, "default config file written on first load")
	assert.Contains(t, string(data), "listen_addr")
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	partial := `
[server]
listen_addr = ":9999"

[limits]
history_limit = 25
`
	require.NoError(t, os.WriteFile(path, []byte(partial), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", config.Server.ListenAddr)
	assert.Equal(t, 25, config.Limits.HistoryLimit)
	// Unspecified values fall back to defaults
	assert.Equal(t, ":9100", config.Server.MetricsAddr)
	assert.Equal(t, 100, config.Limits.BroadcastWorkers)
}

func TestLoadConfigRejectsInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not [valid toml"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	expanded, err := ExpandPath("~/.cryptochat/chat.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cryptochat/chat.db"), expanded)

	unchanged, err := ExpandPath("/var/lib/chat.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/chat.db", unchanged)
}
