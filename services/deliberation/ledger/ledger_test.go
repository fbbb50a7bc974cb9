// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRecordAndRecent verifies the insert/read round trip and ordering.
func TestRecordAndRecent(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"aaa", "bbb", "ccc"} {
		require.NoError(t, db.Record(Entry{
			SessionID:    id,
			TaskHash:     TaskHash("task " + id),
			Status:       "done",
			Approved:     i%2 == 0,
			ApprovalRate: 0.8,
			RoundsUsed:   i,
			DurationMs:   1000,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := db.Recent(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ccc", entries[0].SessionID, "newest first")
	assert.Equal(t, "bbb", entries[1].SessionID)
	assert.True(t, entries[0].Approved)
	assert.Equal(t, 2, entries[0].RoundsUsed)
}

// TestRecordReplaces verifies re-recording a session id overwrites the row.
func TestRecordReplaces(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	entry := Entry{SessionID: "s", TaskHash: "h", Status: "error", CreatedAt: time.Now()}
	require.NoError(t, db.Record(entry))
	entry.Status = "done"
	require.NoError(t, db.Record(entry))

	entries, err := db.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "done", entries[0].Status)
}

// TestTaskHashStable verifies hashing is deterministic and compact.
func TestTaskHashStable(t *testing.T) {
	a := TaskHash("build a hello module")
	b := TaskHash("build a hello module")
	c := TaskHash("different task")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}
