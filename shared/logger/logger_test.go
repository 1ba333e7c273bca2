package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel string
		wantMsg   string
	}{
		{name: "debug", level: "debug", wantLevel: "DEBUG", wantMsg: "polling"},
		{name: "info", level: "info", wantLevel: "INFO", wantMsg: "tracking started"},
		{name: "warn", level: "warn", wantLevel: "WARN", wantMsg: "retrying"},
		{name: "error", level: "error", wantLevel: "ERROR", wantMsg: "giving up"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: output})
			require.NoError(t, err)

			logger.Debug("polling")
			logger.Info("tracking started")
			logger.Warn("retrying")
			logger.Error("giving up")

			entries := decodeLines(t, output)
			require.NotEmpty(t, entries)
			assert.Equal(t, tt.wantLevel, entries[0]["level"])
			assert.Equal(t, tt.wantMsg, entries[0]["msg"])
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", TimeFormat: time.RFC3339, writer: output})
	require.NoError(t, err)

	logger.Info("progress",
		slog.String("job_id", "42"),
		slog.Int("progress", 37),
		slog.Bool("has_started", true),
	)

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "42", entries[0]["job_id"])
	assert.Equal(t, float64(37), entries[0]["progress"])
	assert.Equal(t, true, entries[0]["has_started"])
	assert.Contains(t, entries[0], "time")
}

func TestNew_ConsoleFormat(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "console", writer: output})
	require.NoError(t, err)

	logger.Info("console test", slog.String("job_id", "42"))

	logOutput := output.String()
	assert.Contains(t, logOutput, "INF")
	assert.Contains(t, logOutput, "console test")
	assert.Contains(t, logOutput, "job_id=42")
	// a buffer is not a terminal so no ANSI escapes are written
	assert.NotContains(t, logOutput, "\x1b[")
}

func TestNew_SourceLocation(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: output})
	require.NoError(t, err)

	logger.Info("message with source")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.log")

	logger, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("job_id", "7"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"written to file"`)
	assert.Contains(t, string(data), `"job_id":"7"`)
}

func TestNew_FileOutputError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "tracker.log")

	logger, err := New(&Config{Output: path})
	require.Error(t, err)
	assert.Nil(t, logger)
	assert.Contains(t, err.Error(), "failed to open log file")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{level: "debug", expected: slog.LevelDebug},
		{level: "DEBUG", expected: slog.LevelDebug},
		{level: "info", expected: slog.LevelInfo},
		{level: "warn", expected: slog.LevelWarn},
		{level: "warning", expected: slog.LevelWarn},
		{level: "Error", expected: slog.LevelError},
		{level: "invalid", expected: slog.LevelInfo},
		{level: "", expected: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_With(t *testing.T) {
	output := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", writer: output})
	require.NoError(t, err)

	logger.With(slog.String("service", "tracker-service"), slog.Int("worker_id", 1)).Info("operation complete")

	entries := decodeLines(t, output)
	require.Len(t, entries, 1)
	assert.Equal(t, "tracker-service", entries[0]["service"])
	assert.Equal(t, float64(1), entries[0]["worker_id"])
	assert.Equal(t, "operation complete", entries[0]["msg"])
}
