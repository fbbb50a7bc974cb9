// Copyright (C) 2025 Custodire Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"context"
	"fmt"

	"github.com/custodire/aav3/services/deliberation/datatypes"
	"github.com/custodire/aav3/services/deliberation/testexec"
)

// Vote casts one agent's consensus ballot.
//
// The decision is structural, not conversational: approve iff the test
// verdict is pass. An earlier iteration let agents decide and the vote map
// drifted from the objective evidence; now the LLM only supplies the
// recorded reason. A failed reason call never fails the vote.
func (a *Agents) Vote(ctx context.Context, voter string, review *datatypes.Review, testResult *testexec.Result) datatypes.Vote {
	decision := "reject"
	if testResult != nil && testResult.Verdict == testexec.VerdictPass {
		decision = "approve"
	}

	reviewVerdict := "unknown"
	if review != nil {
		reviewVerdict = review.Verdict
	}
	testVerdict := "unknown"
	passed, failed := 0, 0
	if testResult != nil {
		testVerdict = testResult.Verdict
		passed, failed = testResult.TestsPassed, testResult.TestsFailed
	}

	systemPrompt := fmt.Sprintf(
		"You are the %s agent voting on whether the session's work is complete. "+
			"The vote itself is decided by the objective test verdict; explain it from "+
			"your role's perspective. Return ONLY a JSON object: %s", voter, voteShape)
	userPrompt := fmt.Sprintf(`The vote has been determined by objective evidence: %q.

Review verdict: %s
Test verdict: %s (%d passed, %d failed)

Give a one-sentence reason for this %q vote from the %s perspective.`,
		decision, reviewVerdict, testVerdict, passed, failed, decision, voter)

	vote := datatypes.Vote{Vote: decision}

	var reply datatypes.Vote
	if err := a.callJSON(ctx, voter+"-vote", systemPrompt, userPrompt, voteShape, 0, &reply); err != nil {
		a.logger.Warn("vote reason call failed, using canned reason", "voter", voter, "error", err)
		vote.Reason = fmt.Sprintf("test verdict is %s", testVerdict)
		return vote
	}
	vote.Reason = reply.Reason
	if vote.Reason == "" {
		vote.Reason = fmt.Sprintf("test verdict is %s", testVerdict)
	}
	return vote
}
