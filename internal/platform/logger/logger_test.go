package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleAndFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "worker.log")
	var console bytes.Buffer

	l := New(Options{Env: "prod", ConsoleLevel: "warn", FileLevel: "debug", File: logFile, App: "jobretry", Console: &console})

	l.Debug("retrying in place", slog.String("payload_id", "p1"))
	l.Warn("skipping unknown plugin", slog.String("plugin", "Typo"))
	require.NoError(t, Close(l))
	require.NoError(t, Close(l), "second close is a no-op")

	out := console.String()
	assert.NotContains(t, out, "retrying in place")
	assert.Contains(t, out, "skipping unknown plugin")

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "jobretry", rec["app"])
	assert.Equal(t, "p1", rec["payload_id"])
}

func TestNew_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	l := New(Options{Env: "dev", Console: &console})
	l.Info("hello")
	assert.Contains(t, console.String(), "hello")
	assert.NoError(t, Close(l))
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, levelFromString("DEBUG", slog.LevelInfo))
	assert.Equal(t, slog.LevelWarn, levelFromString("warning", slog.LevelInfo))
	assert.Equal(t, slog.LevelError, levelFromString("error", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, levelFromString("", slog.LevelInfo))
	assert.Equal(t, slog.LevelDebug, levelFromString("bogus", slog.LevelDebug))
}

func TestRedactingHandler(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil), SensitiveKeys))

	l.With(slog.String("token", "123:abc")).Info("connect",
		slog.String("Password", "hunter2"),
		slog.String("url", "postgres://app:s3cret@db:5432/jobs?sslmode=disable"),
		slog.Group("redis", slog.String("secret", "x"), slog.String("addr", "localhost:6379")),
		slog.String("class", "Mail"),
	)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, redacted, rec["token"])
	assert.Equal(t, redacted, rec["Password"])
	assert.Equal(t, "postgres://app:[REDACTED]@db:5432/jobs?sslmode=disable", rec["url"])
	assert.Equal(t, "Mail", rec["class"])

	group := rec["redis"].(map[string]any)
	assert.Equal(t, redacted, group["secret"])
	assert.Equal(t, "localhost:6379", group["addr"])
	assert.NotContains(t, buf.String(), "hunter2")
	assert.NotContains(t, buf.String(), "s3cret")
}

func TestMultiHandler(t *testing.T) {
	var info, debug bytes.Buffer
	h := NewMultiHandler(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	l := slog.New(h).WithGroup("retry").With("attempt", 2)

	l.Debug("only debug")
	l.Info("both")

	assert.NotContains(t, info.String(), "only debug")
	assert.Contains(t, info.String(), "both")
	assert.Contains(t, debug.String(), "only debug")
	assert.Contains(t, debug.String(), "retry.attempt=2")
}
