// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator drives one deliberation session through the
// six-phase state machine: PROBE, PLAN, RESEARCH, IMPLEMENT, TEST (with the
// bounded auto-fix loop), REVIEW, and CONSENSUS.
//
// The orchestrator owns every filesystem effect: agents produce file lists,
// only the orchestrator writes them. The fix-loop decision is structural —
// if the test verdict is needs_fixes and rounds remain, the Coder runs
// again; the LLM never decides whether to continue.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodire/aav3/pkg/ux"
	"github.com/custodire/aav3/services/deliberation/agents"
	"github.com/custodire/aav3/services/deliberation/config"
	"github.com/custodire/aav3/services/deliberation/datatypes"
	"github.com/custodire/aav3/services/deliberation/envprobe"
	"github.com/custodire/aav3/services/deliberation/errs"
	"github.com/custodire/aav3/services/deliberation/ledger"
	"github.com/custodire/aav3/services/deliberation/memory"
	"github.com/custodire/aav3/services/deliberation/session"
	"github.com/custodire/aav3/services/deliberation/subproc"
	"github.com/custodire/aav3/services/deliberation/testexec"
)

// RoleCaller is the agent surface the orchestrator drives. Satisfied by
// *agents.Agents; stubbed in tests.
type RoleCaller interface {
	ProposePlan(ctx context.Context, task, envContext string, history []memory.Message) (*datatypes.Plan, error)
	Research(ctx context.Context, task string, unknowns []string, history []memory.Message) (*datatypes.Research, error)
	Implement(ctx context.Context, task string, plan *datatypes.Plan, research *datatypes.Research, history []memory.Message) (*datatypes.Implementation, error)
	FixImplementation(ctx context.Context, task string, prev *datatypes.Implementation, testResult *testexec.Result) (*datatypes.Implementation, error)
	Review(ctx context.Context, task string, impl *datatypes.Implementation, history []memory.Message) (*datatypes.Review, error)
	ProposeTests(ctx context.Context, task string, impl *datatypes.Implementation, history []memory.Message) (*datatypes.TestFocus, error)
	Vote(ctx context.Context, voter string, review *datatypes.Review, testResult *testexec.Result) datatypes.Vote
}

// TestRunner executes one round of objective tests.
type TestRunner interface {
	Run(ctx context.Context, workspace string, files []datatypes.FileSpec) testexec.Result
}

// Prober computes host capabilities once per session.
type Prober interface {
	Run(ctx context.Context) envprobe.Capabilities
}

// Deps carries the orchestrator's collaborators. All configuration is
// injected here; the package holds no global state.
type Deps struct {
	Agents RoleCaller
	Prober Prober

	// ExecutorFactory builds the test runner once capabilities are known.
	// Nil uses the real testexec executor over os/exec.
	ExecutorFactory func(caps envprobe.Capabilities, sessionID string) TestRunner

	// Ledger records finished sessions; nil disables the ledger. Ledger
	// failures are logged, never fatal.
	Ledger *ledger.DB

	Logger *slog.Logger
}

// Orchestrator runs deliberation sessions. One instance serves one session
// at a time; callers embedding this in a server construct one per request.
type Orchestrator struct {
	cfg  config.Config
	deps Deps
	sm   *StateMachine
}

// New creates an orchestrator.
func New(cfg config.Config, deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ExecutorFactory == nil {
		deps.ExecutorFactory = func(caps envprobe.Capabilities, sessionID string) TestRunner {
			return testexec.New(subproc.ExecRunner{}, caps, cfg, sessionID, deps.Logger)
		}
	}
	return &Orchestrator{cfg: cfg, deps: deps, sm: NewStateMachine()}
}

// NewSessionID generates an opaque hex session id.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// run holds the mutable state of one session.
type run struct {
	o         *Orchestrator
	ctx       context.Context
	task      string
	sessionID string
	store     *session.Store
	mem       *memory.SharedMemory
	verdict   *Verdict
	state     State
	started   time.Time
	logger    *slog.Logger
}

// Run executes one full session.
//
// Inputs:
//
//	ctx - Cancellation context; a cancel finishes the in-flight call,
//	writes verdict.json with status cancelled, and returns.
//	task - The prose task brief.
//	sessionID - Optional; empty generates one.
//
// Outputs:
//
//	*Verdict - Always non-nil when the session directory could be created;
//	also persisted as verdict.json.
//	error - Non-nil only for status "error" (or when even the session
//	directory could not be created).
func (o *Orchestrator) Run(ctx context.Context, task, sessionID string) (*Verdict, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	store, err := session.NewStore(o.cfg.ArtifactsRoot, sessionID)
	if err != nil {
		return nil, err
	}
	mem, err := memory.New(store.ConversationLogPath())
	if err != nil {
		return nil, err
	}
	defer mem.Close()

	r := &run{
		o:         o,
		ctx:       ctx,
		task:      task,
		sessionID: sessionID,
		store:     store,
		mem:       mem,
		started:   time.Now(),
		state:     StateInit,
		logger:    o.deps.Logger.With("session_id", sessionID),
		verdict: &Verdict{
			SessionID:          sessionID,
			Status:             StatusDone,
			ConsensusThreshold: o.cfg.ConsensusThreshold,
			Errors:             []PhaseError{},
		},
	}

	r.logger.Info("session starting", "task_chars", len(task), "max_rounds", o.cfg.MaxRounds)
	return r.execute()
}

// execute walks the state machine to a terminal state.
func (r *run) execute() (*Verdict, error) {
	// PROBE
	r.advance(StateProbe)
	ux.Banner("PHASE 0: ENVIRONMENT PROBE")
	caps := r.o.deps.Prober.Run(r.ctx)
	if err := r.store.WriteJSON("environment.json", caps); err != nil {
		return r.finish(StateProbe, err)
	}
	ux.Info("%s", caps.Summary)
	r.post(datatypes.AgentOrchestrator, datatypes.RoleSystem, "environment",
		map[string]any{"summary": caps.Summary})
	envContext := envprobe.PlannerContext(caps)
	executor := r.o.deps.ExecutorFactory(caps, r.sessionID)

	if err := r.cancelled(); err != nil {
		return r.finish(StateProbe, err)
	}

	// PLAN
	r.advance(StatePlan)
	ux.Banner("PHASE 1: PLANNING")
	var plan *datatypes.Plan
	if err := r.withRetry(StatePlan, func() error {
		p, err := r.o.deps.Agents.ProposePlan(r.ctx, r.task, envContext, r.mem.History(0))
		plan = p
		return err
	}); err != nil {
		return r.finish(StatePlan, err)
	}
	if err := r.store.WriteJSON("plan.json", plan); err != nil {
		return r.finish(StatePlan, err)
	}
	r.post(datatypes.AgentPlanner, datatypes.RolePlan, "proposal", toContent(plan))
	ux.Info("strategy: %s (%d steps, %d unknowns)", plan.Strategy, len(plan.Steps), len(plan.Unknowns))

	// RESEARCH — always invoked, even with zero unknowns.
	r.advance(StateResearch)
	ux.Banner("PHASE 2: RESEARCH")
	var research *datatypes.Research
	if err := r.withRetry(StateResearch, func() error {
		res, err := r.o.deps.Agents.Research(r.ctx, r.task, plan.Unknowns, r.mem.History(0))
		research = res
		return err
	}); err != nil {
		return r.finish(StateResearch, err)
	}
	if err := r.store.WriteJSON("research.json", research); err != nil {
		return r.finish(StateResearch, err)
	}
	r.post(datatypes.AgentResearcher, datatypes.RoleResearch, "answer", toContent(research))

	// IMPLEMENT
	r.advance(StateImplement)
	ux.Banner("PHASE 3: IMPLEMENTATION")
	var impl *datatypes.Implementation
	if err := r.withRetry(StateImplement, func() error {
		i, err := r.o.deps.Agents.Implement(r.ctx, r.task, plan, research, r.mem.History(0))
		impl = i
		return err
	}); err != nil {
		return r.finish(StateImplement, err)
	}
	if err := r.materialize(impl, 0); err != nil {
		return r.finish(StateImplement, err)
	}

	// TEST with the bounded fix loop.
	round := 0
	noChange := false
	var testResult testexec.Result
	for {
		r.advance(StateTest)
		ux.Banner(fmt.Sprintf("PHASE 4: TESTING (round %d)", round))

		var focus *datatypes.TestFocus
		if err := r.withRetry(StateTest, func() error {
			f, err := r.o.deps.Agents.ProposeTests(r.ctx, r.task, impl, r.mem.History(0))
			focus = f
			return err
		}); err != nil {
			return r.finish(StateTest, err)
		}
		r.post(datatypes.AgentTester, datatypes.RoleTestResult, "focus_proposal", toContent(focus))

		testResult = executor.Run(r.ctx, r.store.WorkspaceDir(), impl.FilesToCreate)
		if err := r.store.WriteJSON("test_result.json", testResult); err != nil {
			return r.finish(StateTest, err)
		}
		if err := r.store.WriteHistoryJSON(session.TestHistory, round, testResult); err != nil {
			return r.finish(StateTest, err)
		}
		r.post(datatypes.AgentOrchestrator, datatypes.RoleTestResult, "test_round", toContent(testResult))
		r.printRecords(testResult)

		if testResult.Verdict == testexec.VerdictPass {
			break
		}
		if noChange {
			// The Coder declined to change anything and the re-test agrees
			// with the previous round; exit rather than spin.
			r.logger.Warn("coder produced no change, leaving fix loop", "round", round)
			break
		}
		if round >= r.o.cfg.MaxRounds {
			r.logger.Warn("round budget exhausted, forcing review", "rounds", round)
			break
		}
		if err := r.cancelled(); err != nil {
			return r.finish(StateTest, err)
		}

		// Fix pass: the Coder sees only the previous implementation and the
		// failing records, not the full history.
		r.advance(StateImplement)
		ux.Info("verdict: needs_fixes — invoking coder fix pass")
		var fixed *datatypes.Implementation
		if err := r.withRetry(StateImplement, func() error {
			f, err := r.o.deps.Agents.FixImplementation(r.ctx, r.task, impl, &testResult)
			fixed = f
			return err
		}); err != nil {
			return r.finish(StateImplement, err)
		}
		round++

		if len(fixed.FilesToCreate) == 0 && len(impl.FilesToCreate) > 0 {
			noChange = true
			r.post(datatypes.AgentCoder, datatypes.RoleImplementation, "artifact_unchanged", toContent(impl))
		} else {
			impl = fixed
			if err := r.materialize(impl, round); err != nil {
				return r.finish(StateImplement, err)
			}
		}
	}
	r.verdict.RoundsUsed = round
	r.verdict.TestResult = &testResult

	// REVIEW
	r.advance(StateReview)
	ux.Banner("PHASE 5: REVIEW")
	var review *datatypes.Review
	if err := r.withRetry(StateReview, func() error {
		rev, err := r.o.deps.Agents.Review(r.ctx, r.task, impl, r.mem.History(0))
		review = rev
		return err
	}); err != nil {
		return r.finish(StateReview, err)
	}
	if err := r.store.WriteJSON("review.json", review); err != nil {
		return r.finish(StateReview, err)
	}
	r.post(datatypes.AgentReviewer, datatypes.RoleReview, "review", toContent(review))
	r.verdict.ReviewVerdict = review.Verdict
	ux.Info("review verdict: %s (%d issues)", review.Verdict, len(review.Issues))

	// CONSENSUS — recorded but never gates termination.
	r.advance(StateConsensus)
	ux.Banner("PHASE 6: FINAL CONSENSUS")
	consensus := r.consensus(review, &testResult)
	if err := r.store.WriteJSON("consensus.json", consensus); err != nil {
		return r.finish(StateConsensus, err)
	}
	r.post(datatypes.AgentOrchestrator, datatypes.RoleConsensus, "votes_in", toContent(consensus))
	r.verdict.Approved = consensus.Approved
	r.verdict.ApprovalRate = consensus.ApprovalRate

	r.advance(StateDone)
	return r.finalize(nil)
}

// consensus polls every agent. A vote missing from the map counts as
// reject.
func (r *run) consensus(review *datatypes.Review, testResult *testexec.Result) datatypes.ConsensusResult {
	voters := datatypes.AllVoters()
	votes := make(map[string]string, len(voters))
	reasons := make(map[string]string, len(voters))

	for _, voter := range voters {
		vote := r.o.deps.Agents.Vote(r.ctx, voter, review, testResult)
		votes[voter] = vote.Vote
		reasons[voter] = vote.Reason
		ux.Info("  [%s] %s — %s", voter, vote.Vote, vote.Reason)
	}

	approvals := 0
	for _, voter := range voters {
		if votes[voter] == "approve" {
			approvals++
		}
	}
	rate := float64(approvals) / float64(len(voters))
	approved := thresholdMet(rate, r.o.cfg.ConsensusThreshold)

	return datatypes.ConsensusResult{
		Votes:        votes,
		Reasons:      reasons,
		ApprovalRate: rate,
		Approved:     approved,
		Reason:       fmt.Sprintf("%d/%d agents approved", approvals, len(voters)),
	}
}

// materialize writes the implementation artifacts and workspace files for a
// round. A zero-file implementation only records artifacts.
func (r *run) materialize(impl *datatypes.Implementation, round int) error {
	if len(impl.FilesToCreate) > 0 {
		if err := r.store.WriteWorkspaceFiles(impl.FilesToCreate); err != nil {
			return err
		}
		for _, f := range impl.FilesToCreate {
			ux.Pass("wrote %s (%d bytes)", f.Path, len(f.Content))
		}
	}
	if err := r.store.WriteJSON("implementation.json", impl); err != nil {
		return err
	}
	if err := r.store.WriteHistoryJSON(session.ImplementationHistory, round, impl); err != nil {
		return err
	}
	msgType := "artifact"
	if round > 0 {
		msgType = "artifact_fixed"
	}
	r.post(datatypes.AgentCoder, datatypes.RoleImplementation, msgType, toContent(impl))
	return nil
}

// withRetry applies the phase failure policy: one same-prompt retry for
// transient kinds, then surface the error.
func (r *run) withRetry(state State, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if errs.Retryable(err) && r.ctx.Err() == nil {
		r.logger.Warn("phase failed, retrying once", "phase", state.String(), "error", err)
		err = fn()
	}
	return err
}

// cancelled translates context cancellation into the session error domain.
func (r *run) cancelled() error {
	if r.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", errs.ErrCancelled, r.ctx.Err())
	}
	return nil
}

// finish records a phase failure and terminates the session. Cancelled
// sessions are a clean exit; everything else is status error.
func (r *run) finish(state State, err error) (*Verdict, error) {
	kind := errs.Kind(err)
	r.verdict.Errors = append(r.verdict.Errors, PhaseError{
		Phase:   state.String(),
		Kind:    kind,
		Message: err.Error(),
	})
	if kind == errs.KindCancelled {
		r.verdict.Status = StatusCancelled
		r.logger.Info("session cancelled", "phase", state.String())
		_, retErr := r.finalize(nil)
		return r.verdict, retErr
	}
	r.verdict.Status = StatusError
	r.logger.Error("session failed", "phase", state.String(), "kind", kind, "error", err)
	r.state = StateError
	return r.finalize(err)
}

// finalize writes verdict.json, records the ledger row, and prints the
// outcome. The verdict is written for completed, errored, and cancelled
// sessions alike.
func (r *run) finalize(sessionErr error) (*Verdict, error) {
	r.verdict.DurationSec = time.Since(r.started).Seconds()

	if err := r.store.WriteJSON("verdict.json", r.verdict); err != nil {
		r.logger.Error("verdict write failed", "error", err)
		if sessionErr == nil {
			sessionErr = err
		}
	}

	if r.o.deps.Ledger != nil {
		entry := ledger.Entry{
			SessionID:    r.sessionID,
			TaskHash:     ledger.TaskHash(r.task),
			Status:       r.verdict.Status,
			Approved:     r.verdict.Approved,
			ApprovalRate: r.verdict.ApprovalRate,
			RoundsUsed:   r.verdict.RoundsUsed,
			DurationMs:   int64(r.verdict.DurationSec * 1000),
			CreatedAt:    r.started,
		}
		if err := r.o.deps.Ledger.Record(entry); err != nil {
			r.logger.Warn("ledger record failed", "error", err)
		}
	}

	ux.Info("\n%s", ux.VerdictBox(r.verdict.Approved, r.verdict.ApprovalRate, r.verdict.RoundsUsed))
	r.logger.Info("session finished",
		"status", r.verdict.Status,
		"approved", r.verdict.Approved,
		"rounds", r.verdict.RoundsUsed,
		"duration_sec", r.verdict.DurationSec)
	return r.verdict, sessionErr
}

// advance moves the state machine, treating an invalid transition as a
// programming error worth a loud log rather than a crash.
func (r *run) advance(to State) {
	next, err := r.o.sm.Transition(r.state, to)
	if err != nil {
		r.logger.Error("invalid transition", "from", r.state.String(), "to", to.String())
	}
	r.state = next
}

// post appends a message to shared memory; a write-through failure here is
// fatal for the same reason workspace writes are, but by this point the
// session can still record the error in its verdict, so it is only logged.
func (r *run) post(from, role, msgType string, content map[string]any) {
	err := r.mem.Append(memory.Message{
		FromAgent:   from,
		Role:        role,
		MessageType: msgType,
		Content:     content,
	})
	if err != nil {
		r.logger.Error("conversation append failed", "error", err)
	}
}

// printRecords renders each test record as a transcript line.
func (r *run) printRecords(result testexec.Result) {
	for _, rec := range result.Records {
		switch rec.Result {
		case testexec.ResultPass:
			ux.Pass("%s", rec.TestName)
		case testexec.ResultSkip:
			ux.Skip("%s", rec.TestName)
		default:
			ux.Fail("%s (%s)", rec.TestName, rec.Reason)
		}
	}
}

// toContent converts a typed artifact to the message content mapping.
func toContent(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// Ensure the real agents implementation satisfies the interface.
var _ RoleCaller = (*agents.Agents)(nil)
