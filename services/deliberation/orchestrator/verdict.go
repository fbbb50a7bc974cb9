// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"github.com/custodire/aav3/services/deliberation/testexec"
)

// Session terminal statuses.
const (
	StatusDone      = "done"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// consensusEpsilon absorbs floating-point error at exact-share boundaries
// like 2/3, so a 0.6 threshold approves a 3/5 vote.
const consensusEpsilon = 1e-9

// PhaseError is one recorded failure for the verdict's errors list.
type PhaseError struct {
	Phase   string `json:"phase"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Verdict is the final session summary, written as verdict.json for every
// completed, errored, or cancelled session.
type Verdict struct {
	SessionID          string           `json:"session_id"`
	Status             string           `json:"status"`
	Approved           bool             `json:"approved"`
	ApprovalRate       float64          `json:"approval_rate"`
	ConsensusThreshold float64          `json:"consensus_threshold"`
	RoundsUsed         int              `json:"rounds_used"`
	TestResult         *testexec.Result `json:"test_result"`
	ReviewVerdict      string           `json:"review_verdict"`
	DurationSec        float64          `json:"duration_sec"`
	Errors             []PhaseError     `json:"errors"`
}

// thresholdMet applies the epsilon-tolerant comparison. For a fixed vote
// map, raising the threshold never turns a reject into an approve.
func thresholdMet(approvalRate, threshold float64) bool {
	return approvalRate+consensusEpsilon >= threshold
}
