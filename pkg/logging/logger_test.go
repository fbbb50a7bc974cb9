// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParse verifies level name mapping, including the unknown fallback.
func TestParse(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Parse("debug"))
	assert.Equal(t, slog.LevelWarn, Parse("WARN"))
	assert.Equal(t, slog.LevelError, Parse(" error "))
	assert.Equal(t, slog.LevelInfo, Parse(""))
	assert.Equal(t, slog.LevelInfo, Parse("bogus"))
}

// TestFileSink verifies that a log file receives JSON records.
func TestFileSink(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "session.log")

	logger, err := New(Config{Level: LevelInfo, Service: "test", LogFile: logFile})
	require.NoError(t, err)

	logger.Info("hello", "phase", "PLAN")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"service":"test"`)
	assert.Contains(t, string(data), `"phase":"PLAN"`)
}

// TestDebugFiltered verifies that debug records are dropped at info level.
func TestDebugFiltered(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "session.log")

	logger, err := New(Config{Level: LevelInfo, LogFile: logFile})
	require.NoError(t, err)

	logger.Debug("invisible")
	logger.Info("visible")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "invisible"))
	assert.Contains(t, string(data), "visible")
}

// TestCloseTwice verifies Close is idempotent.
func TestCloseTwice(t *testing.T) {
	logger, err := New(Config{LogFile: filepath.Join(t.TempDir(), "a.log")})
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}
