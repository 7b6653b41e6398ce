package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", "text", &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "k=v")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", "json", &buf)
	require.NoError(t, err)

	log.Debug("hello", "n", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "DEBUG", rec["level"])
	assert.EqualValues(t, 3, rec["n"])
}

func TestNewInvalid(t *testing.T) {
	_, err := New("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
	_, err = New("loud", "text", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base, err := New("info", "text", &buf)
	require.NoError(t, err)

	FromContext(context.Background(), base).Info("plain")
	assert.NotContains(t, buf.String(), "session_id")

	FromContext(WithSession(context.Background(), "s-1"), base).Info("tagged")
	assert.Contains(t, buf.String(), "session_id=s-1")
}
