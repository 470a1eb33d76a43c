package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileLoggerWritesStructuredEntries(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "api.log")

	logger, closeFunc, err := NewFileLogger(logPath, "api", slog.LevelInfo)
	require.NoError(t, err)

	logger.Info("Starting sync endpoint server", "addr", "0.0.0.0:5001")
	logger.Debug("below the configured level")
	require.NoError(t, closeFunc())

	file, err := os.Open(logPath)
	require.NoError(t, err, "the log directory is created on demand")
	defer file.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, entries, 1, "entries below the configured level are dropped")
	assert.Equal(t, "api", entries[0]["service"])
	assert.Equal(t, "Starting sync endpoint server", entries[0]["msg"])
	assert.Equal(t, "0.0.0.0:5001", entries[0]["addr"])
}

func TestNewFileLoggerAppliesCustomLevelNames(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "trace.log")

	logger, closeFunc, err := NewFileLogger(logPath, "api", LevelTrace)
	require.NoError(t, err)

	logger.Log(context.Background(), LevelTrace, "tracing")
	require.NoError(t, closeFunc())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "TRACE", entry["level"])
}

func TestFilePathForNamesServiceLogs(t *testing.T) {
	path := FilePathFor("datastore")
	assert.Equal(t, "datastore.log", filepath.Base(path))
	assert.NotEqual(t, ".", filepath.Dir(path), "service logs live in a dedicated directory")
}

func TestSetLevelChangesVerbosity(t *testing.T) {
	var structured, human strings.Builder
	SetOutput(&structured, &human)
	defer Init()

	SetLevel(slog.LevelWarn)
	Debug("quiet")
	Warn("loud")

	assert.NotContains(t, structured.String(), "quiet")
	assert.Contains(t, structured.String(), "loud")

	SetLevel(slog.LevelDebug)
	Debug("audible now")
	assert.Contains(t, structured.String(), "audible now")
}
