// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for AAv3 components.
//
// The logger is built on the standard library slog package. By default it
// writes text to stderr (the deliberation transcript owns stdout); a session
// may additionally attach a JSON log file under its artifacts directory.
//
// # Basic Usage
//
//	logger := logging.Default().With("service", "orchestrator")
//	logger.Info("phase complete", "phase", "PLAN", "duration_ms", 1234)
//
// # Security Considerations
//
// This package does NOT redact sensitive data. Callers must never log API
// keys, secret values, or full LLM payloads at Info level.
package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level names accepted by Parse and Config.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// Service is attached to every record as the "service" attribute.
	Service string

	// LogFile, when non-empty, receives a JSON copy of every record in
	// addition to stderr. Parent directories are created.
	LogFile string
}

// Logger wraps slog with an optional file sink that must be closed.
type Logger struct {
	*slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Parse converts a level name to a slog.Level. Unknown names map to info.
func Parse(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger from the config.
//
// Inputs:
//
//	cfg - Logger configuration.
//
// Outputs:
//
//	*Logger - The configured logger.
//	error - Non-nil if the log file cannot be created.
func New(cfg Config) (*Logger, error) {
	level := Parse(cfg.Level)

	l := &Logger{}

	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	var handler slog.Handler = stderrHandler

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		handler = fanoutHandler{
			stderrHandler,
			slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}),
		}
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	l.Logger = logger
	return l, nil
}

// Default returns a stderr-only logger at info level.
func Default() *Logger {
	l, _ := New(Config{Level: LevelInfo})
	return l
}

// Close flushes and closes the file sink, if any. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// fanoutHandler duplicates records to every wrapped handler.
type fanoutHandler []slog.Handler

func (h fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, hh := range h {
		if hh.Enabled(ctx, record.Level) {
			errs = append(errs, hh.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithAttrs(attrs)
	}
	return out
}

func (h fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(h))
	for i, hh := range h {
		out[i] = hh.WithGroup(name)
	}
	return out
}
