package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetup_WritesConsoleAndFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "catalog.log")
	logger, closer := setup(Options{Level: "info", File: path, MaxSizeMB: 1}, &console)

	logger.With("component", "ingest.reader").Info("opened export", "offset", 30)
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "component=ingest.reader")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"component":"ingest.reader"`), "file log: %s", data)
	assert.Contains(t, string(data), `"offset":30`)
}

func TestComponent_UsesDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var console bytes.Buffer
	setup(Options{Level: "debug"}, &console)
	Component("jobs").Debug("tick")

	assert.Contains(t, console.String(), "component=jobs")
}
