// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodire/aav3/services/deliberation/errs"
)

// TestDefaults verifies the hardcoded defaults from the option table.
func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 0.67, cfg.ConsensusThreshold)
	assert.Equal(t, 50, cfg.MaxRounds)
	assert.Equal(t, "gpt-4", cfg.Model)
	assert.Equal(t, 900, cfg.LLMTimeoutSec)
	assert.Equal(t, 30, cfg.PythonSyntaxTimeoutSec)
	assert.Equal(t, 600, cfg.DockerBuildTimeoutSec)
	assert.Equal(t, 120, cfg.UnitTestTimeoutSec)
	assert.Equal(t, "high", cfg.SecurityFailSeverity)
}

// TestPriorityCLIOverEnvOverFile verifies the strict resolution order.
func TestPriorityCLIOverEnvOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aav3.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_rounds: 7\nmodel: file-model\n"), 0o644))

	t.Setenv("AAV3_MAX_ROUNDS", "9")
	t.Setenv("OPENAI_MODEL", "env-model")

	// Env beats file.
	cfg, err := Resolve(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxRounds)
	assert.Equal(t, "env-model", cfg.Model)

	// CLI beats env.
	maxRounds := 3
	model := "cli-model"
	cfg, err = Resolve(path, Overrides{MaxRounds: &maxRounds, Model: &model})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxRounds)
	assert.Equal(t, "cli-model", cfg.Model)
}

// TestFileLayerAppliesWhenEnvUnset verifies the yaml layer beats defaults.
func TestFileLayerAppliesWhenEnvUnset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aav3.yaml")
	require.NoError(t, os.WriteFile(path, []byte("consensus_threshold: 0.5\n"), 0o644))

	cfg, err := Resolve(path, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.ConsensusThreshold)
	// Untouched options keep defaults.
	assert.Equal(t, 50, cfg.MaxRounds)
}

// TestThresholdOutOfRangeIsConfigError verifies validation wraps ErrConfig.
func TestThresholdOutOfRangeIsConfigError(t *testing.T) {
	bad := 1.5
	_, err := Resolve("", Overrides{ConsensusThreshold: &bad})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

// TestBadEnvValueIsConfigError verifies unparseable env vars fail fast.
func TestBadEnvValueIsConfigError(t *testing.T) {
	t.Setenv("AAV3_CONSENSUS_THRESHOLD", "two-thirds")
	_, err := Resolve("", Overrides{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

// TestMissingConfigFileIsConfigError verifies an explicit path must exist.
func TestMissingConfigFileIsConfigError(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope.yaml"), Overrides{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

// TestInvalidBackendRejected verifies backend enum validation.
func TestInvalidBackendRejected(t *testing.T) {
	backend := "bedrock"
	_, err := Resolve("", Overrides{LLMBackend: &backend})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}
