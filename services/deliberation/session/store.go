// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session owns the per-session directory tree.
//
//	aav3_<session_id>/
//	├── environment.json
//	├── plan.json
//	├── research.json
//	├── implementation.json
//	├── implementation_history/round_0.json, round_1.json, ...
//	├── review.json
//	├── test_result.json
//	├── test_history/round_0.json, ...
//	├── consensus.json
//	├── conversation.jsonl
//	├── verdict.json
//	└── workspace/
//
// Current files are written with a temp-then-rename discipline so external
// observers never see partial JSON; history directories are append-only.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/custodire/aav3/services/deliberation/datatypes"
	"github.com/custodire/aav3/services/deliberation/errs"
)

// History subdirectories.
const (
	ImplementationHistory = "implementation_history"
	TestHistory           = "test_history"
)

// Store manages one session directory.
type Store struct {
	root string
}

// NewStore creates the session directory tree eagerly.
//
// Inputs:
//
//	artifactsRoot - Parent directory for all sessions.
//	sessionID - The session's opaque id; the directory is aav3_<id>.
//
// Outputs:
//
//	*Store - The store rooted at the session directory.
//	error - Wraps errs.ErrFilesystem on creation failure.
func NewStore(artifactsRoot, sessionID string) (*Store, error) {
	root := filepath.Join(artifactsRoot, "aav3_"+sessionID)
	for _, dir := range []string{
		root,
		filepath.Join(root, ImplementationHistory),
		filepath.Join(root, TestHistory),
		filepath.Join(root, "workspace"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", errs.ErrFilesystem, dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Dir returns the session directory.
func (s *Store) Dir() string { return s.root }

// WorkspaceDir returns the Coder-owned workspace directory.
func (s *Store) WorkspaceDir() string { return filepath.Join(s.root, "workspace") }

// ConversationLogPath returns the jsonl conversation log path.
func (s *Store) ConversationLogPath() string { return filepath.Join(s.root, "conversation.jsonl") }

// WriteJSON writes a current artifact (plan.json, verdict.json, ...)
// atomically: marshal, write temp, rename.
func (s *Store) WriteJSON(name string, v any) error {
	return writeJSONAtomic(filepath.Join(s.root, name), v)
}

// WriteHistoryJSON freezes a per-round copy under a history directory.
func (s *Store) WriteHistoryJSON(historyDir string, round int, v any) error {
	return writeJSONAtomic(filepath.Join(s.root, historyDir, fmt.Sprintf("round_%d.json", round)), v)
}

// WriteWorkspaceFiles materializes the Coder's file list.
//
// Every path is validated for workspace containment before any byte is
// written: absolute paths and ".." traversal are rejected with
// errs.ErrFilesystem and the whole batch is refused. Writes are atomic per
// file (create parent dirs, write temp, rename).
func (s *Store) WriteWorkspaceFiles(files []datatypes.FileSpec) error {
	workspace := s.WorkspaceDir()

	resolved := make([]string, len(files))
	for i, f := range files {
		path, err := resolveWorkspacePath(workspace, f.Path)
		if err != nil {
			return err
		}
		resolved[i] = path
	}

	for i, f := range files {
		if err := os.MkdirAll(filepath.Dir(resolved[i]), 0o755); err != nil {
			return fmt.Errorf("%w: create parent for %s: %v", errs.ErrFilesystem, f.Path, err)
		}
		if err := writeFileAtomic(resolved[i], []byte(f.Content)); err != nil {
			return err
		}
	}
	return nil
}

// resolveWorkspacePath validates containment and returns the absolute path.
func resolveWorkspacePath(workspace, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty file path", errs.ErrFilesystem)
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: absolute path %q escapes workspace", errs.ErrFilesystem, rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes workspace", errs.ErrFilesystem, rel)
	}
	return filepath.Join(workspace, clean), nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", errs.ErrFilesystem, filepath.Base(path), err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".aav3-*")
	if err != nil {
		return fmt.Errorf("%w: temp for %s: %v", errs.ErrFilesystem, filepath.Base(path), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %v", errs.ErrFilesystem, filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %v", errs.ErrFilesystem, filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename %s: %v", errs.ErrFilesystem, filepath.Base(path), err)
	}
	return nil
}
