package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests swap the package logger and cannot run in parallel.

func resetLogger(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		_ = Init(os.Stderr, "info", "text") //nolint:errcheck // constant arguments
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestInit_RejectsUnknownFormat(t *testing.T) {
	resetLogger(t)
	assert.Error(t, Init(&bytes.Buffer{}, "info", "xml"))
}

func TestContextAttributes(t *testing.T) {
	resetLogger(t)

	var buf bytes.Buffer
	require.NoError(t, Init(&buf, "debug", "json"))

	ctx := WithSession(WithComponent(context.Background(), "poller"), "abc123")
	Info(ctx, "status changed", slog.String("state", "running"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "status changed", line["msg"])
	assert.Equal(t, "poller", line["component"])
	assert.Equal(t, "abc123", line["session_id"])
	assert.Equal(t, "running", line["state"])
}

func TestLevelFiltering(t *testing.T) {
	resetLogger(t)

	var buf bytes.Buffer
	require.NoError(t, Init(&buf, "warn", "text"))

	Debug(context.Background(), "hidden")
	Info(context.Background(), "hidden too")
	Warn(context.Background(), "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogDuration(t *testing.T) {
	resetLogger(t)

	var buf bytes.Buffer
	require.NoError(t, Init(&buf, "debug", "json"))

	LogDuration(context.Background(), slog.LevelInfo, "download finished", time.Now().Add(-50*time.Millisecond))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	ms, ok := line["duration_ms"].(float64)
	require.True(t, ok, "duration_ms missing: %v", line)
	assert.GreaterOrEqual(t, ms, float64(50))
}
