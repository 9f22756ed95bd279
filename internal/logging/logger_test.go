package logging

import (
	"bytes"
	"encoding/json"
	"errors"
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
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.ErrorContains(t, err, `parse log level "loud"`)
}

func TestNew_RenamesErrorKey(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "info"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("plan rejected", "root", "Drive", "error", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "root=Drive")
	assert.Contains(t, out, "err=boom")
	assert.NotContains(t, out, "error=")
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("quiet")
	logger.Warn("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plexec.log")
	var console bytes.Buffer
	logger, closer, err := New(Options{Level: "debug", File: path, MaxSizeMB: 1}, &console)
	require.NoError(t, err)

	logger.With("run_id", "run-1").Debug("transition", "node", "Root/A")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "node=Root/A")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "transition", rec["msg"])
	assert.Equal(t, "run-1", rec["run_id"])
	assert.Equal(t, "Root/A", rec["node"])
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "chatty"}, nil)
	assert.Error(t, err)
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	require.NotNil(t, logger)
	logger.Error("discarded")
}
