// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config resolves session configuration.
//
// Resolution priority is strict: CLI flag > environment variable > yaml
// config file > hardcoded default. Validation happens once, at session
// start; invalid configuration is ErrConfig and is never retried.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/custodire/aav3/services/deliberation/errs"
)

// LLM backend selectors.
const (
	BackendAuto      = "auto"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// Config holds every tunable the core recognizes.
type Config struct {
	// ConsensusThreshold is the approval share required for approved=true.
	ConsensusThreshold float64 `yaml:"consensus_threshold" validate:"gte=0,lte=1"`

	// MaxRounds bounds the test/fix iterations.
	MaxRounds int `yaml:"max_rounds" validate:"gt=0"`

	// Model is the LLM model identifier.
	Model string `yaml:"model" validate:"required"`

	// LLMBackend selects the vendor; auto resolves from the model name.
	LLMBackend string `yaml:"llm_backend" validate:"oneof=auto openai anthropic"`

	// Per-operation timeouts, in seconds.
	LLMTimeoutSec          int `yaml:"llm_timeout_sec" validate:"gt=0"`
	PythonSyntaxTimeoutSec int `yaml:"python_syntax_timeout_sec" validate:"gt=0"`
	DockerBuildTimeoutSec  int `yaml:"docker_build_timeout_sec" validate:"gt=0"`
	UnitTestTimeoutSec     int `yaml:"unit_test_timeout_sec" validate:"gt=0"`
	RustCheckTimeoutSec    int `yaml:"rust_check_timeout_sec" validate:"gt=0"`
	GPUSmokeTimeoutSec     int `yaml:"gpu_smoke_timeout_sec" validate:"gt=0"`
	ProbeTimeoutSec        int `yaml:"probe_timeout_sec" validate:"gt=0"`

	// SecurityFailSeverity is the minimum vulnerability severity that fails
	// the security suite.
	SecurityFailSeverity string `yaml:"security_fail_severity" validate:"oneof=low medium high critical"`

	// ArtifactsRoot is the parent directory for session directories.
	ArtifactsRoot string `yaml:"artifacts_root" validate:"required"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Defaults returns the hardcoded default configuration.
func Defaults() Config {
	return Config{
		ConsensusThreshold:     0.67,
		MaxRounds:              50,
		Model:                  "gpt-4",
		LLMBackend:             BackendAuto,
		LLMTimeoutSec:          900,
		PythonSyntaxTimeoutSec: 30,
		DockerBuildTimeoutSec:  600,
		UnitTestTimeoutSec:     120,
		RustCheckTimeoutSec:    300,
		GPUSmokeTimeoutSec:     30,
		ProbeTimeoutSec:        5,
		SecurityFailSeverity:   "high",
		ArtifactsRoot:          "reports/aav3_sessions",
		LogLevel:               "info",
	}
}

// Overrides carries CLI flag values. Nil fields were not set on the command
// line and do not participate in resolution.
type Overrides struct {
	ConsensusThreshold *float64
	MaxRounds          *int
	Model              *string
	LLMBackend         *string
	LLMTimeoutSec      *int
	ArtifactsRoot      *string
	LogLevel           *string
}

// Resolve merges defaults, an optional yaml file, environment variables, and
// CLI overrides, in ascending priority, then validates the result.
//
// Inputs:
//
//	configPath - Optional yaml file path; empty skips the file layer.
//	over - CLI flag overrides; nil fields are ignored.
//
// Outputs:
//
//	Config - The resolved configuration.
//	error - Wraps ErrConfig on any load or validation failure.
func Resolve(configPath string, over Overrides) (Config, error) {
	cfg := Defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("%w: read %s: %v", errs.ErrConfig, configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", errs.ErrConfig, configPath, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyOverrides(&cfg, over)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", errs.ErrConfig, err)
	}
	return cfg, nil
}

// applyEnv overlays recognized environment variables.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("AAV3_CONSENSUS_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: AAV3_CONSENSUS_THRESHOLD=%q: %v", errs.ErrConfig, v, err)
		}
		cfg.ConsensusThreshold = f
	}
	if v := os.Getenv("AAV3_MAX_ROUNDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: AAV3_MAX_ROUNDS=%q: %v", errs.ErrConfig, v, err)
		}
		cfg.MaxRounds = n
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AAV3_LLM_BACKEND"); v != "" {
		cfg.LLMBackend = v
	}
	if v := os.Getenv("AAV3_LLM_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: AAV3_LLM_TIMEOUT_SEC=%q: %v", errs.ErrConfig, v, err)
		}
		cfg.LLMTimeoutSec = n
	}
	if v := os.Getenv("AAV3_ARTIFACTS_ROOT"); v != "" {
		cfg.ArtifactsRoot = v
	}
	if v := os.Getenv("AAV3_SECURITY_FAIL_SEVERITY"); v != "" {
		cfg.SecurityFailSeverity = v
	}
	if v := os.Getenv("AAV3_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

func applyOverrides(cfg *Config, over Overrides) {
	if over.ConsensusThreshold != nil {
		cfg.ConsensusThreshold = *over.ConsensusThreshold
	}
	if over.MaxRounds != nil {
		cfg.MaxRounds = *over.MaxRounds
	}
	if over.Model != nil {
		cfg.Model = *over.Model
	}
	if over.LLMBackend != nil {
		cfg.LLMBackend = *over.LLMBackend
	}
	if over.LLMTimeoutSec != nil {
		cfg.LLMTimeoutSec = *over.LLMTimeoutSec
	}
	if over.ArtifactsRoot != nil {
		cfg.ArtifactsRoot = *over.ArtifactsRoot
	}
	if over.LogLevel != nil {
		cfg.LogLevel = *over.LogLevel
	}
}

// Duration helpers keep time math out of callers.

func (c Config) LLMTimeout() time.Duration   { return time.Duration(c.LLMTimeoutSec) * time.Second }
func (c Config) ProbeTimeout() time.Duration { return time.Duration(c.ProbeTimeoutSec) * time.Second }

func (c Config) PythonSyntaxTimeout() time.Duration {
	return time.Duration(c.PythonSyntaxTimeoutSec) * time.Second
}

func (c Config) DockerBuildTimeout() time.Duration {
	return time.Duration(c.DockerBuildTimeoutSec) * time.Second
}

func (c Config) UnitTestTimeout() time.Duration {
	return time.Duration(c.UnitTestTimeoutSec) * time.Second
}

func (c Config) RustCheckTimeout() time.Duration {
	return time.Duration(c.RustCheckTimeoutSec) * time.Second
}

func (c Config) GPUSmokeTimeout() time.Duration {
	return time.Duration(c.GPUSmokeTimeoutSec) * time.Second
}
