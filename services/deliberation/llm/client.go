// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the vendor-facing LLM call used by every agent.
//
// A backend is resolved once, at session construction, from config: either
// explicitly (llm_backend) or from the model name (claude-* routes to
// Anthropic, everything else to OpenAI). The client has exactly one job:
// (system prompt, user prompt, timeout) -> trimmed text. It never touches
// the filesystem or the shared memory.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/custodire/aav3/services/deliberation/config"
	"github.com/custodire/aav3/services/deliberation/errs"
)

// Call defaults. The long timeout is deliberate: agents regularly emit
// entire file contents as JSON, and cutting a planner off mid-thought
// desynchronizes the conversation more than waiting does.
const (
	DefaultMaxTokens = 4000
	DefaultTimeout   = 900 * time.Second
)

// CallRequest is one LLM invocation.
type CallRequest struct {
	SystemPrompt string
	UserPrompt   string

	// MaxTokens defaults to DefaultMaxTokens when zero; callers may raise
	// it per call (the Coder does, for large file payloads).
	MaxTokens int

	// Timeout defaults to DefaultTimeout when zero.
	Timeout time.Duration
}

// Client is the standard interface for any LLM backend.
type Client interface {
	// Call returns the raw textual response, trimmed of surrounding
	// whitespace. Errors wrap errs.ErrLLMTimeout, errs.ErrLLMTransport, or
	// errs.ErrLLMAuth.
	Call(ctx context.Context, req CallRequest) (string, error)

	// Model returns the model identifier this client was built with.
	Model() string
}

// NewFromConfig resolves and constructs the backend for cfg.
//
// Outputs:
//
//	Client - The vendor client.
//	error - Wraps errs.ErrLLMAuth when credentials are missing, or
//	errs.ErrConfig for an unknown backend selector.
func NewFromConfig(cfg config.Config) (Client, error) {
	backend := cfg.LLMBackend
	if backend == config.BackendAuto {
		if strings.HasPrefix(cfg.Model, "claude") {
			backend = config.BackendAnthropic
		} else {
			backend = config.BackendOpenAI
		}
	}
	switch backend {
	case config.BackendOpenAI:
		return NewOpenAIClient(cfg.Model)
	case config.BackendAnthropic:
		return NewAnthropicClient(cfg.Model)
	default:
		return nil, fmt.Errorf("%w: unknown llm backend %q", errs.ErrConfig, backend)
	}
}

// loadAPIKey reads a credential from the environment, falling back to a
// container secret file the way the deployment images mount them.
func loadAPIKey(envVar, secretPath string) (string, error) {
	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	if content, err := os.ReadFile(secretPath); err == nil {
		return strings.TrimSpace(string(content)), nil
	}
	return "", fmt.Errorf("%w: %s not set and %s not found", errs.ErrLLMAuth, envVar, secretPath)
}

// applyDefaults fills zero fields on a request.
func applyDefaults(req CallRequest) CallRequest {
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	return req
}

// classifyCallError maps a transport-layer error to the taxonomy, honoring
// the call deadline.
func classifyCallError(ctx context.Context, err error, statusCode int) error {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%w: %v", errs.ErrLLMTimeout, err)
	case statusCode == 401 || statusCode == 403:
		return fmt.Errorf("%w: %v", errs.ErrLLMAuth, err)
	default:
		return fmt.Errorf("%w: %v", errs.ErrLLMTransport, err)
	}
}
