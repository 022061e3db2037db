package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestConsoleHandler_Format(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := slog.New(NewConsoleHandler(&buf, slog.LevelInfo)).
		With(slog.String("component", "resume"))

	logger.Warn("guild skipped", slog.String("guild", "42"))
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "[WARN] [RESUME] guild skipped guild=42")
	assert.NotContains(t, out, "hidden")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestInit_InstallsDefault(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	prev := slog.Default()
	defer slog.SetDefault(prev)

	_, closer := Init(Options{Level: "info", Writer: &buf})
	defer closer.Close()

	Component("storage").Info("opened")
	assert.Contains(t, buf.String(), "[INFO] [STORAGE] opened")
}
