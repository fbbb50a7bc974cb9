// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agents implements the five role-specialized LLM invocations.
//
// Each role is a pure function of (task, environment constraints, history
// window, role prompt). No agent reads or writes the workspace; filesystem
// effects are applied by the orchestrator from the Coder's file list.
//
// Every role call runs the same pipeline: build prompt, call the LLM,
// extract JSON, unmarshal, validate the shape. A shape failure earns one
// retry with an appended "return JSON matching exactly this shape" nudge;
// a second failure surfaces errs.ErrMalformedOutput for the orchestrator
// to handle.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/custodire/aav3/services/deliberation/datatypes"
	"github.com/custodire/aav3/services/deliberation/errs"
	"github.com/custodire/aav3/services/deliberation/jsonextract"
	"github.com/custodire/aav3/services/deliberation/llm"
	"github.com/custodire/aav3/services/deliberation/memory"
	"github.com/custodire/aav3/services/deliberation/testexec"
)

// Prompt assembly limits, carried over from the tuned deliberation loop.
const (
	historyWindow         = 10
	historyPreviewRunes   = 500
	coderMaxTokens        = 16000
	fixIssueLimit         = 10
	structuredNudgePrefix = "Your previous reply was not valid; return ONLY a JSON object matching exactly this shape: "
)

// Agents performs role calls against a shared LLM client.
type Agents struct {
	client   llm.Client
	validate *validator.Validate
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates the role caller.
//
// Inputs:
//
//	client - The vendor LLM client.
//	timeout - Per-call timeout (llm_timeout_sec).
//	logger - Structured logger; nil uses the default.
func New(client llm.Client, timeout time.Duration, logger *slog.Logger) *Agents {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agents{
		client:   client,
		validate: validator.New(),
		timeout:  timeout,
		logger:   logger,
	}
}

// renderHistory formats the shared conversation tail as prompt blocks.
func renderHistory(history []memory.Message) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	var b strings.Builder
	b.WriteString("\n\nCONVERSATION HISTORY:\n")
	for _, msg := range history {
		content, _ := json.Marshal(msg.Content)
		preview := string(content)
		if runes := []rune(preview); len(runes) > historyPreviewRunes {
			preview = string(runes[:historyPreviewRunes])
		}
		fmt.Fprintf(&b, "\n[%s/%s] %s: %s\n", msg.FromAgent, msg.Role, msg.MessageType, preview)
	}
	return b.String()
}

// callJSON runs the shared prompt/extract/validate pipeline into out.
func (a *Agents) callJSON(ctx context.Context, role, systemPrompt, userPrompt, shape string, maxTokens int, out any) error {
	prompt := userPrompt
	for attempt := 0; attempt < 2; attempt++ {
		text, err := a.client.Call(ctx, llm.CallRequest{
			SystemPrompt: systemPrompt,
			UserPrompt:   prompt,
			MaxTokens:    maxTokens,
			Timeout:      a.timeout,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", role, err)
		}

		parseErr := a.decodeAndValidate(text, out)
		if parseErr == nil {
			return nil
		}
		if attempt == 0 {
			a.logger.Warn("agent output invalid, nudging once",
				"role", role, "error", parseErr)
			prompt = userPrompt + "\n\n" + structuredNudgePrefix + shape
			continue
		}
		return fmt.Errorf("%s: %w", role, parseErr)
	}
	return nil
}

func (a *Agents) decodeAndValidate(text string, out any) error {
	raw, err := jsonextract.ExtractRaw(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrMalformedOutput, err)
	}
	if err := a.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: shape validation: %v", errs.ErrMalformedOutput, err)
	}
	return nil
}

// ProposePlan runs the Planner over the task with the probe's constraint
// block prepended.
func (a *Agents) ProposePlan(ctx context.Context, task, envContext string, history []memory.Message) (*datatypes.Plan, error) {
	userPrompt := fmt.Sprintf(`%s

TASK:
%s

Analyze this task and propose a concrete, actionable plan. Consider what
steps are needed, what is unknown and needs research, and why your approach
is best.%s`, envContext, task, renderHistory(history))

	var plan datatypes.Plan
	if err := a.callJSON(ctx, datatypes.AgentPlanner, plannerSystemPrompt, userPrompt, planShape, 0, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Research runs the Researcher over the Plan's unknowns. It is invoked even
// with zero unknowns; confirmations are still useful to later agents.
func (a *Agents) Research(ctx context.Context, task string, unknowns []string, history []memory.Message) (*datatypes.Research, error) {
	questions := "- (none; confirm the plan's assumptions)"
	if len(unknowns) > 0 {
		questions = "- " + strings.Join(unknowns, "\n- ")
	}
	userPrompt := fmt.Sprintf(`TASK:
%s

Research questions:
%s

Verify versions, compatibility, requirements, and best practices.%s`,
		task, questions, renderHistory(history))

	var research datatypes.Research
	if err := a.callJSON(ctx, datatypes.AgentResearcher, researcherSystemPrompt, userPrompt, researchShape, 0, &research); err != nil {
		return nil, err
	}
	return &research, nil
}

// Implement runs the Coder over the plan and research.
func (a *Agents) Implement(ctx context.Context, task string, plan *datatypes.Plan, research *datatypes.Research, history []memory.Message) (*datatypes.Implementation, error) {
	planText, _ := json.MarshalIndent(plan, "", "  ")
	researchText := []byte("No research provided")
	if research != nil {
		researchText, _ = json.MarshalIndent(research, "", "  ")
	}
	userPrompt := fmt.Sprintf(`TASK:
%s

Plan to implement:
%s

Research findings:
%s

Implement this plan. Return every file with its complete contents.%s`,
		task, planText, researchText, renderHistory(history))

	var impl datatypes.Implementation
	if err := a.callJSON(ctx, datatypes.AgentCoder, coderSystemPrompt, userPrompt, implShape, coderMaxTokens, &impl); err != nil {
		return nil, err
	}
	return &impl, nil
}

// FixImplementation runs the Coder over a bounded fix context: the previous
// implementation plus the failing test records, not the full history. The
// returned implementation is a complete snapshot that overwrites the
// workspace.
func (a *Agents) FixImplementation(ctx context.Context, task string, prev *datatypes.Implementation, testResult *testexec.Result) (*datatypes.Implementation, error) {
	issues := testResult.IssuesFound
	if len(issues) > fixIssueLimit {
		issues = issues[:fixIssueLimit]
	}
	prevText, _ := json.MarshalIndent(prev, "", "  ")
	issuesText, _ := json.MarshalIndent(issues, "", "  ")

	userPrompt := fmt.Sprintf(`TASK:
%s

Your previous implementation:
%s

Objective test failures (fix all of these):
%s

Return the COMPLETE corrected file set; the workspace is overwritten with
exactly what you return.`, task, prevText, issuesText)

	var impl datatypes.Implementation
	if err := a.callJSON(ctx, datatypes.AgentCoder, coderSystemPrompt, userPrompt, implShape, coderMaxTokens, &impl); err != nil {
		return nil, err
	}
	return &impl, nil
}

// Review runs the Reviewer over the latest implementation.
func (a *Agents) Review(ctx context.Context, task string, impl *datatypes.Implementation, history []memory.Message) (*datatypes.Review, error) {
	implText, _ := json.MarshalIndent(impl, "", "  ")
	userPrompt := fmt.Sprintf(`TASK:
%s

Review this implementation:
%s

Assess code quality, potential bugs, security, completeness, and
improvements.%s`, task, implText, renderHistory(history))

	var review datatypes.Review
	if err := a.callJSON(ctx, datatypes.AgentReviewer, reviewerSystemPrompt, userPrompt, reviewShape, 0, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// ProposeTests runs the Tester, who proposes focus areas; the orchestrator
// executes the actual tests.
func (a *Agents) ProposeTests(ctx context.Context, task string, impl *datatypes.Implementation, history []memory.Message) (*datatypes.TestFocus, error) {
	implText, _ := json.MarshalIndent(impl, "", "  ")
	userPrompt := fmt.Sprintf(`TASK:
%s

Implementation under test:
%s

What should the objective test executor focus on, and what is most likely
to break?%s`, task, implText, renderHistory(history))

	var focus datatypes.TestFocus
	if err := a.callJSON(ctx, datatypes.AgentTester, testerSystemPrompt, userPrompt, testFocusShape, 0, &focus); err != nil {
		return nil, err
	}
	return &focus, nil
}
