// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodire/aav3/services/deliberation/config"
	"github.com/custodire/aav3/services/deliberation/datatypes"
	"github.com/custodire/aav3/services/deliberation/envprobe"
	"github.com/custodire/aav3/services/deliberation/errs"
	"github.com/custodire/aav3/services/deliberation/memory"
	"github.com/custodire/aav3/services/deliberation/testexec"
)

// stubAgents is a configurable RoleCaller.
type stubAgents struct {
	planErrs    []error // consumed per ProposePlan call
	planCalls   int
	coderCalls  int
	implQueue   []*datatypes.Implementation
	reviewOut   *datatypes.Review
	voteByAgent map[string]string
}

func (s *stubAgents) ProposePlan(_ context.Context, task, envContext string, _ []memory.Message) (*datatypes.Plan, error) {
	s.planCalls++
	if len(s.planErrs) > 0 {
		err := s.planErrs[0]
		s.planErrs = s.planErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &datatypes.Plan{Strategy: "direct", Steps: []string{"implement", "test"}}, nil
}

func (s *stubAgents) Research(_ context.Context, _ string, _ []string, _ []memory.Message) (*datatypes.Research, error) {
	return &datatypes.Research{Findings: []string{"nothing blocking"}, Recommendation: "proceed", Confidence: "high"}, nil
}

func (s *stubAgents) nextImpl() *datatypes.Implementation {
	s.coderCalls++
	if len(s.implQueue) == 0 {
		return &datatypes.Implementation{Status: "complete"}
	}
	impl := s.implQueue[0]
	if len(s.implQueue) > 1 {
		s.implQueue = s.implQueue[1:]
	}
	return impl
}

func (s *stubAgents) Implement(_ context.Context, _ string, _ *datatypes.Plan, _ *datatypes.Research, _ []memory.Message) (*datatypes.Implementation, error) {
	return s.nextImpl(), nil
}

func (s *stubAgents) FixImplementation(_ context.Context, _ string, _ *datatypes.Implementation, _ *testexec.Result) (*datatypes.Implementation, error) {
	return s.nextImpl(), nil
}

func (s *stubAgents) Review(_ context.Context, _ string, _ *datatypes.Implementation, _ []memory.Message) (*datatypes.Review, error) {
	if s.reviewOut != nil {
		return s.reviewOut, nil
	}
	return &datatypes.Review{Verdict: datatypes.ReviewApproved}, nil
}

func (s *stubAgents) ProposeTests(_ context.Context, _ string, _ *datatypes.Implementation, _ []memory.Message) (*datatypes.TestFocus, error) {
	return &datatypes.TestFocus{FocusAreas: []string{"syntax"}}, nil
}

func (s *stubAgents) Vote(_ context.Context, voter string, _ *datatypes.Review, testResult *testexec.Result) datatypes.Vote {
	if s.voteByAgent != nil {
		return datatypes.Vote{Vote: s.voteByAgent[voter], Reason: "scripted"}
	}
	if testResult != nil && testResult.Verdict == testexec.VerdictPass {
		return datatypes.Vote{Vote: "approve", Reason: "tests passed"}
	}
	return datatypes.Vote{Vote: "reject", Reason: "tests failed"}
}

// stubProber returns fixed capabilities.
type stubProber struct{ caps envprobe.Capabilities }

func (s stubProber) Run(context.Context) envprobe.Capabilities { return s.caps }

// syntaxExecutor fails any file whose content contains "SYNTAX_ERROR".
type syntaxExecutor struct{ runs int }

func (e *syntaxExecutor) Run(_ context.Context, _ string, files []datatypes.FileSpec) testexec.Result {
	e.runs++
	var records []testexec.Record
	for _, f := range files {
		rec := testexec.Record{TestName: "Python syntax: " + f.Path, Suite: testexec.SuitePythonSyntax}
		if containsMarker(f.Content) {
			rec.Result = testexec.ResultFail
			rec.StderrExcerpt = "SyntaxError: invalid syntax"
		} else {
			rec.Result = testexec.ResultPass
		}
		records = append(records, rec)
	}
	return testexec.Aggregate(records)
}

func containsMarker(content string) bool {
	for i := 0; i+12 <= len(content); i++ {
		if content[i:i+12] == "SYNTAX_ERROR" {
			return true
		}
	}
	return false
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Defaults()
	cfg.ArtifactsRoot = t.TempDir()
	return cfg
}

func goodImpl() *datatypes.Implementation {
	return &datatypes.Implementation{
		FilesToCreate: []datatypes.FileSpec{
			{Path: "hello.py", Content: "def greet(name):\n    return 'Hello, ' + name\n"},
			{Path: "test_hello.py", Content: "import unittest\n"},
		},
		Status: "complete",
	}
}

func badImpl() *datatypes.Implementation {
	return &datatypes.Implementation{
		FilesToCreate: []datatypes.FileSpec{
			{Path: "hello.py", Content: "def greet(name) SYNTAX_ERROR\n"},
		},
		Status: "complete",
	}
}

func newTestOrchestrator(cfg config.Config, a RoleCaller, exec TestRunner) *Orchestrator {
	return New(cfg, Deps{
		Agents: a,
		Prober: stubProber{caps: envprobe.Capabilities{
			Languages: map[string]envprobe.Language{"python": {Available: true}},
			Summary:   "✓ Languages: python",
		}},
		ExecutorFactory: func(envprobe.Capabilities, string) TestRunner { return exec },
	})
}

func readSessionJSON(t *testing.T, dir, name string, out any) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err, name)
	require.NoError(t, json.Unmarshal(data, out), name)
}

// TestTrivialSuccess covers the first end-to-end scenario: one implement
// pass, first-round test pass, unanimous approval.
func TestTrivialSuccess(t *testing.T) {
	cfg := testConfig(t)
	a := &stubAgents{implQueue: []*datatypes.Implementation{goodImpl()}}
	exec := &syntaxExecutor{}

	verdict, err := newTestOrchestrator(cfg, a, exec).Run(context.Background(), "Create hello.py", "sess1")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, verdict.Status)
	assert.True(t, verdict.Approved)
	assert.Equal(t, 1.0, verdict.ApprovalRate)
	assert.Equal(t, 0, verdict.RoundsUsed)
	assert.Equal(t, testexec.VerdictPass, verdict.TestResult.Verdict)
	assert.Equal(t, datatypes.ReviewApproved, verdict.ReviewVerdict)
	assert.Equal(t, 1, exec.runs)
	assert.Equal(t, 1, a.coderCalls)

	sessionDir := filepath.Join(cfg.ArtifactsRoot, "aav3_sess1")
	for _, f := range []string{
		"environment.json", "plan.json", "research.json", "implementation.json",
		"review.json", "test_result.json", "consensus.json", "conversation.jsonl", "verdict.json",
	} {
		_, err := os.Stat(filepath.Join(sessionDir, f))
		assert.NoError(t, err, f)
	}
	data, err := os.ReadFile(filepath.Join(sessionDir, "workspace", "hello.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "greet")
	_, err = os.Stat(filepath.Join(sessionDir, "workspace", "test_hello.py"))
	assert.NoError(t, err)
}

// TestSyntaxErrorRepaired covers the fix-loop scenario: round 0 fails on a
// syntax error, round 1 passes, rounds_used is 1.
func TestSyntaxErrorRepaired(t *testing.T) {
	cfg := testConfig(t)
	a := &stubAgents{implQueue: []*datatypes.Implementation{badImpl(), goodImpl()}}
	exec := &syntaxExecutor{}

	verdict, err := newTestOrchestrator(cfg, a, exec).Run(context.Background(), "task", "sess2")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, verdict.Status)
	assert.Equal(t, 1, verdict.RoundsUsed)
	assert.Equal(t, testexec.VerdictPass, verdict.TestResult.Verdict)
	assert.Equal(t, 2, a.coderCalls, "one initial, one fix")
	assert.Equal(t, 2, exec.runs)

	sessionDir := filepath.Join(cfg.ArtifactsRoot, "aav3_sess2")

	var round0 testexec.Result
	readSessionJSON(t, sessionDir, filepath.Join("test_history", "round_0.json"), &round0)
	assert.Equal(t, testexec.VerdictNeedsFixes, round0.Verdict)
	require.NotEmpty(t, round0.IssuesFound)
	assert.Equal(t, testexec.SuitePythonSyntax, round0.IssuesFound[0].Suite)

	for _, f := range []string{
		filepath.Join("implementation_history", "round_0.json"),
		filepath.Join("implementation_history", "round_1.json"),
		filepath.Join("test_history", "round_1.json"),
	} {
		_, err := os.Stat(filepath.Join(sessionDir, f))
		assert.NoError(t, err, f)
	}

	// The workspace holds the fixed snapshot.
	data, err := os.ReadFile(filepath.Join(sessionDir, "workspace", "hello.py"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "SYNTAX_ERROR")
}

// TestMaxRoundsExceeded covers the forced-review scenario: the Coder never
// fixes the error, the loop stops at max_rounds, and the session still
// completes with status done and approved=false.
func TestMaxRoundsExceeded(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRounds = 3
	a := &stubAgents{implQueue: []*datatypes.Implementation{badImpl()}} // repeats forever
	exec := &syntaxExecutor{}

	verdict, err := newTestOrchestrator(cfg, a, exec).Run(context.Background(), "task", "sess3")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, verdict.Status)
	assert.False(t, verdict.Approved)
	assert.Equal(t, cfg.MaxRounds, verdict.RoundsUsed)
	assert.Equal(t, testexec.VerdictNeedsFixes, verdict.TestResult.Verdict)
	assert.Equal(t, cfg.MaxRounds+1, a.coderCalls, "one initial plus at most max_rounds fixes")
	assert.Equal(t, 0.0, verdict.ApprovalRate)
}

// TestNoChangeFixExitsLoop verifies a zero-file fix does not overwrite and
// the loop exits after one re-test instead of spinning.
func TestNoChangeFixExitsLoop(t *testing.T) {
	cfg := testConfig(t)
	a := &stubAgents{implQueue: []*datatypes.Implementation{
		badImpl(),
		{Status: "complete"}, // zero files: no change
	}}
	exec := &syntaxExecutor{}

	verdict, err := newTestOrchestrator(cfg, a, exec).Run(context.Background(), "task", "sess4")
	require.NoError(t, err)

	assert.Equal(t, StatusDone, verdict.Status)
	assert.Equal(t, 2, exec.runs, "initial test plus exactly one re-test")
	assert.Equal(t, 2, a.coderCalls)
	assert.Equal(t, testexec.VerdictNeedsFixes, verdict.TestResult.Verdict)

	// Workspace still holds the round-0 snapshot.
	data, err := os.ReadFile(filepath.Join(cfg.ArtifactsRoot, "aav3_sess4", "workspace", "hello.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "SYNTAX_ERROR")
}

// TestThresholdSensitivity covers the vote arithmetic scenario with a 3/5
// split across thresholds, including the epsilon boundary.
func TestThresholdSensitivity(t *testing.T) {
	votes := map[string]string{
		datatypes.AgentPlanner:    "approve",
		datatypes.AgentResearcher: "approve",
		datatypes.AgentCoder:      "approve",
		datatypes.AgentReviewer:   "reject",
		datatypes.AgentTester:     "reject",
	}

	cases := []struct {
		threshold float64
		approved  bool
	}{
		{0.5, true},
		{0.67, false},
		{0.6 - 1e-6, true},
		{0.6, true}, // epsilon tolerance at the exact share
	}

	for _, c := range cases {
		t.Run(fmt.Sprintf("threshold=%v", c.threshold), func(t *testing.T) {
			cfg := testConfig(t)
			cfg.ConsensusThreshold = c.threshold
			a := &stubAgents{implQueue: []*datatypes.Implementation{goodImpl()}, voteByAgent: votes}

			verdict, err := newTestOrchestrator(cfg, a, &syntaxExecutor{}).Run(context.Background(), "task", "")
			require.NoError(t, err)
			assert.Equal(t, 0.6, verdict.ApprovalRate)
			assert.Equal(t, c.approved, verdict.Approved)
			assert.Equal(t, StatusDone, verdict.Status)
		})
	}
}

// TestMissingVoteIsReject verifies an agent absent from the vote map counts
// as a rejection.
func TestMissingVoteIsReject(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConsensusThreshold = 0.5
	// Only two agents vote approve; the map returns "" for the others,
	// which must not count as approval.
	a := &stubAgents{
		implQueue: []*datatypes.Implementation{goodImpl()},
		voteByAgent: map[string]string{
			datatypes.AgentPlanner: "approve",
			datatypes.AgentCoder:   "approve",
		},
	}
	verdict, err := newTestOrchestrator(cfg, a, &syntaxExecutor{}).Run(context.Background(), "task", "")
	require.NoError(t, err)
	assert.Equal(t, 0.4, verdict.ApprovalRate)
	assert.False(t, verdict.Approved)
}

// TestTransientLLMFailureRetried verifies the phase retry policy: one
// transport failure is retried once and the session completes.
func TestTransientLLMFailureRetried(t *testing.T) {
	cfg := testConfig(t)
	a := &stubAgents{
		implQueue: []*datatypes.Implementation{goodImpl()},
		planErrs:  []error{fmt.Errorf("%w: blip", errs.ErrLLMTransport)},
	}
	verdict, err := newTestOrchestrator(cfg, a, &syntaxExecutor{}).Run(context.Background(), "task", "sess6")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, verdict.Status)
	assert.Equal(t, 2, a.planCalls, "exactly one retry")
}

// TestPersistentLLMFailureEndsSession verifies the second failure ends the
// session with the phase and kind recorded.
func TestPersistentLLMFailureEndsSession(t *testing.T) {
	cfg := testConfig(t)
	a := &stubAgents{planErrs: []error{
		fmt.Errorf("%w: down", errs.ErrLLMTransport),
		fmt.Errorf("%w: down", errs.ErrLLMTransport),
	}}
	verdict, err := newTestOrchestrator(cfg, a, &syntaxExecutor{}).Run(context.Background(), "task", "sess7")
	require.Error(t, err)
	require.NotNil(t, verdict)
	assert.Equal(t, StatusError, verdict.Status)
	require.Len(t, verdict.Errors, 1)
	assert.Equal(t, StatePlan.String(), verdict.Errors[0].Phase)
	assert.Equal(t, errs.KindLLMTransport, verdict.Errors[0].Kind)

	// verdict.json is still written for auditability.
	var onDisk Verdict
	readSessionJSON(t, filepath.Join(cfg.ArtifactsRoot, "aav3_sess7"), "verdict.json", &onDisk)
	assert.Equal(t, StatusError, onDisk.Status)
}

// TestAuthFailureNotRetried verifies LLMAuth ends the session on the first
// failure.
func TestAuthFailureNotRetried(t *testing.T) {
	cfg := testConfig(t)
	a := &stubAgents{planErrs: []error{fmt.Errorf("%w: no key", errs.ErrLLMAuth)}}
	verdict, err := newTestOrchestrator(cfg, a, &syntaxExecutor{}).Run(context.Background(), "task", "")
	require.Error(t, err)
	assert.Equal(t, StatusError, verdict.Status)
	assert.Equal(t, 1, a.planCalls)
	assert.Equal(t, errs.KindLLMAuth, verdict.Errors[0].Kind)
}

// TestCancellationWritesVerdict verifies an external cancel yields status
// cancelled and a persisted verdict.
func TestCancellationWritesVerdict(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &stubAgents{implQueue: []*datatypes.Implementation{goodImpl()}}
	verdict, err := newTestOrchestrator(cfg, a, &syntaxExecutor{}).Run(ctx, "task", "sess8")
	require.NoError(t, err, "cancellation is a clean exit")
	assert.Equal(t, StatusCancelled, verdict.Status)

	var onDisk Verdict
	readSessionJSON(t, filepath.Join(cfg.ArtifactsRoot, "aav3_sess8"), "verdict.json", &onDisk)
	assert.Equal(t, StatusCancelled, onDisk.Status)
}

// TestConversationPersistedPerPhase verifies every agent message lands in
// conversation.jsonl.
func TestConversationPersistedPerPhase(t *testing.T) {
	cfg := testConfig(t)
	a := &stubAgents{implQueue: []*datatypes.Implementation{goodImpl()}}
	_, err := newTestOrchestrator(cfg, a, &syntaxExecutor{}).Run(context.Background(), "task", "sess9")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(cfg.ArtifactsRoot, "aav3_sess9", "conversation.jsonl"))
	require.NoError(t, err)
	text := string(data)
	for _, role := range []string{
		datatypes.RoleSystem, datatypes.RolePlan, datatypes.RoleResearch,
		datatypes.RoleImplementation, datatypes.RoleTestResult,
		datatypes.RoleReview, datatypes.RoleConsensus,
	} {
		assert.Contains(t, text, fmt.Sprintf("%q", role), "missing role %s", role)
	}
}

// TestThresholdMonotonicity verifies approved(V, t) is non-increasing in t.
func TestThresholdMonotonicity(t *testing.T) {
	rate := 0.6
	prev := true
	for _, threshold := range []float64{0.0, 0.2, 0.4, 0.6, 0.61, 0.8, 1.0} {
		cur := thresholdMet(rate, threshold)
		if !prev {
			assert.False(t, cur, "raising threshold may never re-approve (t=%v)", threshold)
		}
		prev = cur
	}
}
