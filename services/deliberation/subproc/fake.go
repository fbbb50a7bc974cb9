// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package subproc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/custodire/aav3/services/deliberation/errs"
)

// ScriptedRunner replays canned results keyed by command line. Commands
// with no script entry behave like a missing binary (launch failure), which
// matches how capability gating treats unknown tools.
//
// Used by probe, adapter, and orchestrator tests; kept out of _test.go files
// so every package can share it.
type ScriptedRunner struct {
	mu sync.Mutex

	// Scripts maps "name arg1 arg2 ..." prefixes to results. The longest
	// matching prefix wins.
	Scripts map[string]Result

	// Calls records every command line executed, in order.
	Calls []Spec
}

// NewScriptedRunner creates an empty scripted runner.
func NewScriptedRunner() *ScriptedRunner {
	return &ScriptedRunner{Scripts: map[string]Result{}}
}

// On registers a result for a command-line prefix.
func (r *ScriptedRunner) On(prefix string, res Result) *ScriptedRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Scripts[prefix] = res
	return r
}

// OnOk registers a clean zero-exit result with the given stdout.
func (r *ScriptedRunner) OnOk(prefix, stdout string) *ScriptedRunner {
	return r.On(prefix, Result{Stdout: stdout, ExitCode: 0})
}

// Run implements Runner.
func (r *ScriptedRunner) Run(_ context.Context, spec Spec) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, spec)

	line := spec.Name
	if len(spec.Args) > 0 {
		line += " " + strings.Join(spec.Args, " ")
	}

	bestLen := -1
	var best Result
	for prefix, res := range r.Scripts {
		if strings.HasPrefix(line, prefix) && len(prefix) > bestLen {
			bestLen = len(prefix)
			best = res
		}
	}
	if bestLen < 0 {
		return Result{}, fmt.Errorf("%w: %s: executable file not found", errs.ErrSubprocess, spec.Name)
	}
	return best, nil
}

// CommandLines returns the executed command lines, for assertions.
func (r *ScriptedRunner) CommandLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
	}
	return out
}
