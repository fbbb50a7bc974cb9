// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package memory implements the session's append-only conversation log.
//
// Every message is durably serialized to conversation.jsonl before Append
// returns, so the next agent's prompt is always built from persisted state.
// Messages are never edited or deleted.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/custodire/aav3/services/deliberation/datatypes"
	"github.com/custodire/aav3/services/deliberation/errs"
)

// Message is one entry in the shared conversation.
type Message struct {
	FromAgent   string         `json:"from_agent"`
	Role        string         `json:"role"`
	MessageType string         `json:"message_type"`
	Content     map[string]any `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
}

// SharedMemory is the append-only message log for one session.
//
// Thread Safety: SharedMemory is safe for concurrent use, though the core
// runs single-threaded.
type SharedMemory struct {
	mu       sync.RWMutex
	messages []Message
	logFile  *os.File
	now      func() time.Time
}

// Option configures a SharedMemory.
type Option func(*SharedMemory)

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *SharedMemory) { m.now = now }
}

// New creates a SharedMemory writing through to logPath. An empty logPath
// keeps the log in memory only (tests).
func New(logPath string, opts ...Option) (*SharedMemory, error) {
	m := &SharedMemory{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("%w: open conversation log: %v", errs.ErrFilesystem, err)
		}
		m.logFile = f
	}
	return m, nil
}

// Append adds a message to the end of the log and persists it.
//
// The message timestamp is assigned here and clamped to be monotonically
// non-decreasing. The jsonl record is flushed before Append returns.
func (m *SharedMemory) Append(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg.Timestamp = m.now().UTC()
	if n := len(m.messages); n > 0 && msg.Timestamp.Before(m.messages[n-1].Timestamp) {
		msg.Timestamp = m.messages[n-1].Timestamp
	}

	if m.logFile != nil {
		line, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("%w: marshal message: %v", errs.ErrFilesystem, err)
		}
		if _, err := m.logFile.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("%w: write conversation log: %v", errs.ErrFilesystem, err)
		}
		if err := m.logFile.Sync(); err != nil {
			return fmt.Errorf("%w: sync conversation log: %v", errs.ErrFilesystem, err)
		}
	}

	m.messages = append(m.messages, msg)
	return nil
}

// History returns a read-only view of the log, order preserved.
//
// Inputs:
//
//	lastN - Tail window size; 0 or negative means all messages.
//	roles - Optional role filter; empty means all roles.
func (m *SharedMemory) History(lastN int, roles ...string) []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roleSet := map[string]bool{}
	for _, r := range roles {
		roleSet[r] = true
	}

	var out []Message
	for _, msg := range m.messages {
		if len(roleSet) > 0 && !roleSet[msg.Role] {
			continue
		}
		out = append(out, msg)
	}
	if lastN > 0 && len(out) > lastN {
		out = out[len(out)-lastN:]
	}
	// Copy so callers cannot mutate the log through the slice.
	cp := make([]Message, len(out))
	copy(cp, out)
	return cp
}

// Len returns the number of messages appended so far.
func (m *SharedMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// LatestImplementation returns the most recent implementation-role message
// decoded as an Implementation, or nil when none exists.
//
// Implementation messages always carry a complete file list, not a diff.
func (m *SharedMemory) LatestImplementation() *datatypes.Implementation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role != datatypes.RoleImplementation {
			continue
		}
		data, err := json.Marshal(m.messages[i].Content)
		if err != nil {
			return nil
		}
		var impl datatypes.Implementation
		if err := json.Unmarshal(data, &impl); err != nil {
			return nil
		}
		return &impl
	}
	return nil
}

// Close releases the conversation log file handle.
func (m *SharedMemory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logFile == nil {
		return nil
	}
	err := m.logFile.Close()
	m.logFile = nil
	return err
}
