// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package testexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/custodire/aav3/services/deliberation/config"
	"github.com/custodire/aav3/services/deliberation/datatypes"
	"github.com/custodire/aav3/services/deliberation/envprobe"
	"github.com/custodire/aav3/services/deliberation/subproc"
)

// Executor runs every applicable adapter for a round.
//
// All commands execute with cwd = workspace and workspace-relative file
// paths; absolute paths passed to subprocesses have caused "no such file or
// directory" failures and are forbidden here.
type Executor struct {
	runner    subproc.Runner
	caps      envprobe.Capabilities
	cfg       config.Config
	sessionID string
	logger    *slog.Logger
}

// New creates an executor bound to one session's capabilities and config.
func New(runner subproc.Runner, caps envprobe.Capabilities, cfg config.Config, sessionID string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{runner: runner, caps: caps, cfg: cfg, sessionID: sessionID, logger: logger}
}

// Run executes all adapters against the workspace for the given files.
//
// Inputs:
//
//	ctx - Cancellation context; an in-flight subprocess is allowed to
//	finish or time out.
//	workspace - The session workspace directory (cwd for every command).
//	files - The files the Coder asked to create, workspace-relative.
//
// Outputs:
//
//	Result - Aggregated verdict and records. Never an error: adapter
//	problems are fail or skip records.
func (e *Executor) Run(ctx context.Context, workspace string, files []datatypes.FileSpec) Result {
	var records []Record

	records = append(records, e.workspaceChecks(workspace, files)...)
	records = append(records, e.pythonSyntax(ctx, workspace, files)...)
	records = append(records, e.pythonUnitTests(ctx, workspace)...)
	records = append(records, e.rustCheck(ctx, workspace)...)
	records = append(records, e.dockerBuild(ctx, workspace, files)...)
	records = append(records, e.gpuSmoke(ctx, workspace)...)
	records = append(records, e.securityScan(ctx, workspace)...)

	result := Aggregate(records)
	e.logger.Info("test round complete",
		"verdict", result.Verdict,
		"executed", result.TestsExecuted,
		"passed", result.TestsPassed,
		"failed", result.TestsFailed)
	return result
}

// workspaceChecks verifies each requested file was materialized.
func (e *Executor) workspaceChecks(workspace string, files []datatypes.FileSpec) []Record {
	var records []Record
	for _, f := range files {
		rec := Record{
			TestName: "File exists: " + f.Path,
			Suite:    SuiteWorkspace,
		}
		info, err := os.Stat(filepath.Join(workspace, f.Path))
		if err != nil || info.IsDir() {
			rec.Result = ResultFail
			rec.Reason = "file not found"
		} else {
			rec.Result = ResultPass
		}
		records = append(records, rec)
	}
	return records
}

// record converts a subprocess outcome to a Record with the shared timeout
// and launch-failure semantics.
func record(name, suite string, res subproc.Result, err error) Record {
	rec := Record{
		TestName:      name,
		Suite:         suite,
		StdoutExcerpt: excerpt(res.Stdout),
		StderrExcerpt: excerpt(res.Stderr),
		ExitCode:      res.ExitCode,
		DurationMs:    res.Duration.Milliseconds(),
	}
	switch {
	case err != nil:
		rec.Result = ResultFail
		rec.Reason = ReasonLaunchFailed
		rec.StderrExcerpt = excerpt(err.Error())
	case res.TimedOut:
		rec.Result = ResultFail
		rec.Reason = ReasonTimeout
	case res.ExitCode == 0:
		rec.Result = ResultPass
	default:
		rec.Result = ResultFail
	}
	return rec
}

// skip builds a skip record for a missing prerequisite.
func skip(name, suite, reason string) Record {
	return Record{TestName: name, Suite: suite, Result: ResultSkip, Reason: reason}
}

// run executes one command in the workspace with a bounded lifetime.
func (e *Executor) run(ctx context.Context, workspace string, timeout time.Duration, name string, args ...string) (subproc.Result, error) {
	return e.runner.Run(ctx, subproc.Spec{
		Dir:     workspace,
		Timeout: timeout,
		Name:    name,
		Args:    args,
	})
}

// imageTag names a Docker build product for this session.
func (e *Executor) imageTag(index int) string {
	return fmt.Sprintf("aav3-session-%s-%d", e.sessionID, index)
}
