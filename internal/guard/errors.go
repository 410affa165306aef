package guard

import (
	"fmt"
	"strings"

	"actionguard/internal/core"
)

// BlockedError is the structured refusal returned when an action is
// stopped by a blocking verdict. It is the normal, expected output of
// the pipeline for disallowed actions, not an infrastructure failure.
type BlockedError struct {
	Verdict         core.Verdict
	Reason          string
	PolicyTriggered string
	WhatHappened    string
	HowToFix        string
}

func (e *BlockedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "action blocked (%s): %s", e.Verdict, e.Reason)
	if e.PolicyTriggered != "" {
		fmt.Fprintf(&b, "\n  Policy triggered: %s", e.PolicyTriggered)
	}
	if e.WhatHappened != "" {
		fmt.Fprintf(&b, "\n  What happened: %s", e.WhatHappened)
	}
	if e.HowToFix != "" {
		b.WriteString("\n  How to fix:\n")
		for _, line := range strings.Split(e.HowToFix, "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// newBlockedError assembles the refusal for a blocking evaluator result,
// deriving remediation hints from the evaluator's metadata.
func newBlockedError(result core.EvaluatorResult, policyTriggered string) *BlockedError {
	return &BlockedError{
		Verdict:         result.Verdict,
		Reason:          result.Reason,
		PolicyTriggered: policyTriggered,
		WhatHappened:    result.Reason,
		HowToFix:        howToFix(result),
	}
}

// howToFix builds actionable remediation text keyed off the evaluator
// that produced the blocking result.
func howToFix(result core.EvaluatorResult) string {
	switch result.EvaluatorName {
	case "rate_limiter":
		return strings.Join([]string{
			"1. Reduce the call frequency for this tool",
			"2. Raise the limit in your config:",
			"   rate_limits:",
			"     per_tool:",
			"       <action_type>: \"120/min\"",
			"3. Add a backoff/retry strategy in your agent logic",
		}, "\n")
	case "cost_estimator", "global_budgeter":
		lines := []string{
			"1. Reduce estimated_cost, or split the work into smaller actions",
			"2. Raise the budget in your config:",
			"   budget:",
		}
		if v, ok := result.Metadata["task_budget"]; ok {
			lines = append(lines, fmt.Sprintf("     per_task: %.2f", toFloat(v)*2))
		} else if v, ok := result.Metadata["agent_budget"]; ok {
			lines = append(lines, fmt.Sprintf("     per_agent_per_run: %.2f", toFloat(v)*2))
		} else {
			lines = append(lines, "     per_task: <higher limit>")
		}
		lines = append(lines, "3. Start a new task context to reset the counters")
		return strings.Join(lines, "\n")
	case "cascade_controller":
		return strings.Join([]string{
			"1. Flatten the delegation chain or remove the repeated agent",
			"2. Raise the limits in your config:",
			"   global:",
			"     max_delegation_depth: <deeper>",
			"     max_concurrent_delegations: <more>",
		}, "\n")
	case "policy_engine":
		return strings.Join([]string{
			"1. Adjust the action's parameters so the policy condition no longer matches",
			"2. Revise or remove the policy in your config if it is too broad",
			"3. Use dry-run (explain) to see which policies an intent would trigger",
		}, "\n")
	case "risk_scorer":
		return strings.Join([]string{
			"1. Reduce the action's blast radius (avoid wildcards and bulk targets)",
			"2. Provide a task_context that matches the action being taken",
			"3. Lower the action's baseline risk_level if it is overstated",
		}, "\n")
	case "human_gate":
		return "Wire an approval callback, or ask a human operator to approve this action type."
	case "schema_validator":
		return "Populate the missing intent fields; action_type, tool_name, and agent_id are required."
	default:
		return "Inspect the audit entry for this action to see every evaluator's reasoning."
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
