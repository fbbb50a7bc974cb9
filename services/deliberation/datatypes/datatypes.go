// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the role output shapes exchanged between agents,
// the orchestrator, and the session store.
package datatypes

// Agent names participating in a session.
const (
	AgentPlanner      = "planner"
	AgentResearcher   = "researcher"
	AgentCoder        = "coder"
	AgentReviewer     = "reviewer"
	AgentTester       = "tester"
	AgentOrchestrator = "orchestrator"
)

// AllVoters lists the agents polled during consensus, in vote order.
func AllVoters() []string {
	return []string{AgentPlanner, AgentResearcher, AgentCoder, AgentReviewer, AgentTester}
}

// Message roles in the shared conversation.
const (
	RolePlan           = "plan"
	RoleResearch       = "research"
	RoleImplementation = "implementation"
	RoleReview         = "review"
	RoleTestResult     = "test_result"
	RoleConsensus      = "consensus"
	RoleSystem         = "system"
)

// Plan is the Planner's output.
type Plan struct {
	Strategy string   `json:"strategy" validate:"required"`
	Steps    []string `json:"steps" validate:"required,min=1,dive,required"`
	Unknowns []string `json:"unknowns"`

	// FilesToCreate carries optional path hints for the Coder.
	FilesToCreate []string `json:"files_to_create,omitempty"`
}

// Research is the Researcher's output.
type Research struct {
	Findings       []string `json:"findings" validate:"required"`
	Recommendation string   `json:"recommendation" validate:"required"`
	Confidence     string   `json:"confidence" validate:"required,oneof=low medium high"`
}

// FileSpec is one file the Coder wants materialized, relative to the
// session workspace.
type FileSpec struct {
	Path    string `json:"path" validate:"required"`
	Content string `json:"content"`
}

// Implementation is the Coder's output. FilesToCreate is always a complete
// snapshot, never a diff.
type Implementation struct {
	FilesToCreate []FileSpec `json:"files_to_create" validate:"dive"`
	KeyDecisions  []string   `json:"key_decisions"`
	Status        string     `json:"status" validate:"required"`
}

// Review verdicts.
const (
	ReviewApproved      = "approved"
	ReviewNeedsRevision = "needs_revision"
	ReviewRejected      = "rejected"
)

// Review is the Reviewer's output.
type Review struct {
	Verdict     string   `json:"verdict" validate:"required,oneof=approved needs_revision rejected"`
	Strengths   []string `json:"strengths"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// TestFocus is the Tester's output: what to look for. The orchestrator runs
// the actual tests.
type TestFocus struct {
	FocusAreas []string `json:"focus_areas" validate:"required"`
	Risks      []string `json:"risks"`
}

// Vote is any agent's consensus ballot.
type Vote struct {
	Vote   string `json:"vote" validate:"required,oneof=approve reject"`
	Reason string `json:"reason"`
}

// ConsensusResult summarizes the final vote.
type ConsensusResult struct {
	Votes        map[string]string `json:"votes"`
	Reasons      map[string]string `json:"reasons,omitempty"`
	ApprovalRate float64           `json:"approval_rate"`
	Approved     bool              `json:"approved"`
	Reason       string            `json:"reason"`
}
