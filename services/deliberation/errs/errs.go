// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package errs defines the session error taxonomy.
//
// Errors are reserved for conditions the orchestrator cannot usefully
// continue past. Test failures and adapter timeouts are values
// (testexec.Record), never errors.
package errs

import (
	"context"
	"errors"
)

// Sentinel errors for the deliberation core.
var (
	// ErrLLMTimeout indicates an LLM call exceeded its timeout.
	ErrLLMTimeout = errors.New("llm call timed out")

	// ErrLLMTransport indicates a network or vendor-side LLM failure.
	ErrLLMTransport = errors.New("llm transport failure")

	// ErrLLMAuth indicates missing or invalid LLM credentials. Not retried.
	ErrLLMAuth = errors.New("llm credentials missing or invalid")

	// ErrMalformedOutput indicates an agent reply could not be parsed or
	// failed shape validation.
	ErrMalformedOutput = errors.New("malformed agent output")

	// ErrFilesystem indicates a workspace or artifact file could not be
	// created, written, or renamed. Fatal.
	ErrFilesystem = errors.New("filesystem error")

	// ErrSubprocess indicates a test adapter process failed to launch
	// (distinct from a failing test).
	ErrSubprocess = errors.New("subprocess launch failed")

	// ErrConfig indicates invalid configuration, detected at session start.
	ErrConfig = errors.New("invalid configuration")

	// ErrCancelled indicates an external stop was requested.
	ErrCancelled = errors.New("session cancelled")
)

// Kind strings recorded in verdict.json error entries.
const (
	KindLLMTimeout      = "llm_timeout"
	KindLLMTransport    = "llm_transport"
	KindLLMAuth         = "llm_auth"
	KindMalformedOutput = "malformed_agent_output"
	KindFilesystem      = "filesystem"
	KindSubprocess      = "subprocess"
	KindConfig          = "config"
	KindCancelled       = "cancelled"
	KindUnknown         = "unknown"
)

// Kind classifies any error into the taxonomy for auditing.
//
// Context cancellation is reported as cancelled; a context deadline maps to
// llm_timeout because the deadline in this core always belongs to an LLM
// call (subprocess deadlines surface as records, not errors).
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLLMAuth):
		return KindLLMAuth
	case errors.Is(err, ErrLLMTimeout):
		return KindLLMTimeout
	case errors.Is(err, ErrLLMTransport):
		return KindLLMTransport
	case errors.Is(err, ErrMalformedOutput):
		return KindMalformedOutput
	case errors.Is(err, ErrFilesystem):
		return KindFilesystem
	case errors.Is(err, ErrSubprocess):
		return KindSubprocess
	case errors.Is(err, ErrConfig):
		return KindConfig
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindLLMTimeout
	default:
		return KindUnknown
	}
}

// Retryable reports whether a single same-prompt retry is allowed for err.
// Auth, config, filesystem, and cancellation are never retried.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindLLMTimeout, KindLLMTransport, KindMalformedOutput:
		return true
	default:
		return false
	}
}
