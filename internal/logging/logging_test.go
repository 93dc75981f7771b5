package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("chatty")
	assert.ErrorContains(t, err, `invalid log level "chatty"`)
}

func TestSetup_ConsoleOnly(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer

	closeFn, err := Setup(Options{Level: "warn", Out: &buf})
	require.NoError(t, err)
	defer closeFn()

	slog.Info("hidden")
	slog.Warn("Prompt wait timed out", "host", "192.168.1.1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "Prompt wait timed out")
	assert.Contains(t, buf.String(), "host=192.168.1.1")
}

func TestSetup_FileFanout(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "netrun.log")

	closeFn, err := Setup(Options{Level: "debug", File: path, Out: &buf})
	require.NoError(t, err)

	slog.Debug("Sending command", "command", "show ip interface brief")
	closeFn()

	assert.Contains(t, buf.String(), "Sending command")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "Sending command", entry["msg"])
	assert.Equal(t, "show ip interface brief", entry["command"])
}

func TestSetup_InvalidLevel(t *testing.T) {
	_, err := Setup(Options{Level: "loud"})
	assert.Error(t, err)
}
