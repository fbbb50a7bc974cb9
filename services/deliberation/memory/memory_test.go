// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodire/aav3/services/deliberation/datatypes"
)

func msg(from, role, mtype string, content map[string]any) Message {
	return Message{FromAgent: from, Role: role, MessageType: mtype, Content: content}
}

// TestAppendOnly verifies history length and stability across appends.
func TestAppendOnly(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(msg("planner", datatypes.RolePlan, "proposal",
			map[string]any{"n": i})))
	}
	before := m.History(0)
	require.Len(t, before, 5)

	require.NoError(t, m.Append(msg("coder", datatypes.RoleImplementation, "artifact",
		map[string]any{"status": "complete"})))

	after := m.History(0)
	require.Len(t, after, 6)
	for i := range before {
		assert.Equal(t, before[i], after[i], "message %d changed after append", i)
	}
}

// TestHistoryWindowAndRoleFilter verifies tail windows and role filters.
func TestHistoryWindowAndRoleFilter(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)

	roles := []string{datatypes.RolePlan, datatypes.RoleResearch, datatypes.RolePlan,
		datatypes.RoleImplementation, datatypes.RolePlan}
	for i, r := range roles {
		require.NoError(t, m.Append(msg("a", r, "t", map[string]any{"i": i})))
	}

	assert.Len(t, m.History(2), 2)
	assert.Equal(t, 4, m.History(1)[0].Content["i"])

	plans := m.History(0, datatypes.RolePlan)
	require.Len(t, plans, 3)
	for _, p := range plans {
		assert.Equal(t, datatypes.RolePlan, p.Role)
	}

	// Window applies after filtering.
	assert.Len(t, m.History(2, datatypes.RolePlan), 2)
}

// TestTimestampsMonotonic verifies clamping against a backwards clock.
func TestTimestampsMonotonic(t *testing.T) {
	times := []time.Time{
		time.Date(2025, 6, 1, 12, 0, 2, 0, time.UTC),
		time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC), // clock stepped back
		time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC),
	}
	i := 0
	m, err := New("", WithClock(func() time.Time { t := times[i]; i++; return t }))
	require.NoError(t, err)

	for range times {
		require.NoError(t, m.Append(msg("a", datatypes.RoleSystem, "t", nil)))
	}

	hist := m.History(0)
	for j := 1; j < len(hist); j++ {
		assert.False(t, hist[j].Timestamp.Before(hist[j-1].Timestamp),
			"timestamp %d went backwards", j)
	}
}

// TestWriteThroughJSONL verifies one compact JSON object per line, persisted
// before Append returns.
func TestWriteThroughJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conversation.jsonl")
	m, err := New(path)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Append(msg("planner", datatypes.RolePlan, "proposal",
		map[string]any{"strategy": "s"})))
	require.NoError(t, m.Append(msg("coder", datatypes.RoleImplementation, "artifact",
		map[string]any{"status": "complete"})))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		var rec Message
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "planner", lines[0].FromAgent)
	assert.Equal(t, "complete", lines[1].Content["status"])
}

// TestLatestImplementation verifies the typed view returns the newest
// implementation message.
func TestLatestImplementation(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)

	assert.Nil(t, m.LatestImplementation())

	first := map[string]any{
		"files_to_create": []any{map[string]any{"path": "a.py", "content": "x = 1"}},
		"status":          "complete",
	}
	second := map[string]any{
		"files_to_create": []any{
			map[string]any{"path": "a.py", "content": "x = 2"},
			map[string]any{"path": "b.py", "content": "y = 3"},
		},
		"status": "complete",
	}
	require.NoError(t, m.Append(msg("coder", datatypes.RoleImplementation, "artifact", first)))
	require.NoError(t, m.Append(msg("reviewer", datatypes.RoleReview, "review",
		map[string]any{"verdict": "approved"})))
	require.NoError(t, m.Append(msg("coder", datatypes.RoleImplementation, "artifact_fixed", second)))

	impl := m.LatestImplementation()
	require.NotNil(t, impl)
	require.Len(t, impl.FilesToCreate, 2)
	assert.Equal(t, "x = 2", impl.FilesToCreate[0].Content)
	assert.Equal(t, "b.py", impl.FilesToCreate[1].Path)
}
