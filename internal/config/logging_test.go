package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFileWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "viewer.log")
	rw, err := NewRotatingFileWriter(path, 16, 2)
	require.NoError(t, err)
	defer rw.Close()

	for _, line := range []string{"first line\n", "second line\n", "third line\n", "fourth line\n"} {
		_, err := rw.Write([]byte(line))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fourth line\n", string(current))

	backup1, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "third line\n", string(backup1))

	backup2, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "second line\n", string(backup2))

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingFileWriterClosed(t *testing.T) {
	rw, err := NewRotatingFileWriter(filepath.Join(t.TempDir(), "viewer.log"), 0, 1)
	require.NoError(t, err)
	require.NoError(t, rw.Close())
	require.NoError(t, rw.Close())

	_, err = rw.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingFileWriterFallsBackWhenReopenFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.log")
	rw, err := NewRotatingFileWriter(path, 8, 0)
	require.NoError(t, err)
	defer rw.Close()

	var fallback bytes.Buffer
	rw.fallback = &fallback

	// A directory in place of the log file makes the reopen fail.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))

	for _, line := range []string{"first line\n", "second line\n"} {
		n, err := rw.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}

	out := fallback.String()
	assert.Equal(t, 1, strings.Count(out, "failed to reopen log file"))
	assert.Contains(t, out, "first line\n")
	assert.Contains(t, out, "second line\n")
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.log")
	logger, cleanup, err := NewLogger(LoggingConfig{
		Level:       "DEBUG",
		File:        path,
		MaxBytes:    1 << 20,
		BackupCount: 1,
	})
	require.NoError(t, err)

	logger.Named("capture").Debug("frame delivered")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"logger":"capture"`)
	assert.Contains(t, string(data), "frame delivered")
}

func TestNewLoggerBadLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.log")
	logger, cleanup, err := NewLogger(LoggingConfig{Level: "chatty", File: path, MaxBytes: 1 << 20, BackupCount: 1})
	require.Error(t, err)
	require.NotNil(t, logger)

	logger.Debug("hidden")
	logger.Info("shown")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hidden"))
	assert.Contains(t, string(data), "shown")
}
