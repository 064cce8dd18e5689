package logger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseLevel("verbose")
	assert.Error(t, err)
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	_, err := Config{Level: "nope"}.Setup()
	assert.Error(t, err)
}

func TestSetupWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	lg, err := Config{Dir: dir, File: "test.log", Level: "debug"}.Setup()
	require.NoError(t, err)

	lg.Info("hello", "key", "value")

	b, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	line := strings.SplitN(strings.TrimSpace(string(b)), "\n", 2)[0]
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "value", rec["key"])
}

func TestPathResolution(t *testing.T) {
	assert.Equal(t, "", Config{}.path())
	assert.Equal(t, filepath.Join("logs", "fetchd.log"), Config{Dir: "logs"}.path())
	assert.Equal(t, filepath.Join("logs", "app.log"), Config{Dir: "logs", File: "app.log"}.path())
	assert.Equal(t, "/var/log/app.log", Config{Dir: "logs", File: "/var/log/app.log"}.path())
	assert.Equal(t, "app.log", Config{File: "app.log"}.path())
}
