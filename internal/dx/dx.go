// Package dx holds the developer-experience helpers: dry-run
// explanations, policy testing, and pipeline visualization. Nothing here
// executes actions or mutates guard state beyond what the evaluators do
// internally.
package dx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"actionguard/internal/core"
	"actionguard/internal/evaluators"
	"actionguard/internal/guard"
)

// EvaluatorTrace is one row of an explanation: what a single evaluator
// decided and how long it took.
type EvaluatorTrace struct {
	Name       string       `json:"name"`
	Verdict    core.Verdict `json:"verdict,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Skipped    bool         `json:"skipped"`
	Disabled   bool         `json:"disabled"`
	Error      string       `json:"error,omitempty"`
	DurationMs float64      `json:"duration_ms"`
}

// Explanation is the full dry-run report for an intent.
type Explanation struct {
	Intent       core.Intent      `json:"intent"`
	Traces       []EvaluatorTrace `json:"traces"`
	FinalVerdict core.Verdict     `json:"final_verdict"`
	FinalReason  string           `json:"final_reason"`
	RiskScore    float64          `json:"risk_score"`
	PolicyName   string           `json:"policy_name,omitempty"`
}

// Explain runs the intent through every pipeline evaluator without
// executing anything, recording per-evaluator verdicts and timings.
// Evaluators after the first BLOCK are reported as skipped, mirroring
// what a real run would do.
func Explain(g *guard.Guard, intent core.Intent) Explanation {
	ctx := context.Background()
	exp := Explanation{
		Intent:       intent,
		FinalVerdict: core.VerdictAllow,
		FinalReason:  "No policies triggered",
	}

	blocked := false
	var results []core.EvaluatorResult

	for _, ev := range g.Pipeline().Evaluators() {
		if !ev.Enabled() {
			exp.Traces = append(exp.Traces, EvaluatorTrace{Name: ev.Name(), Disabled: true})
			continue
		}
		if blocked {
			exp.Traces = append(exp.Traces, EvaluatorTrace{Name: ev.Name(), Skipped: true})
			continue
		}

		start := time.Now()
		result, err := ev.Evaluate(ctx, intent)
		elapsed := float64(time.Since(start).Microseconds()) / 1000

		if err != nil {
			exp.Traces = append(exp.Traces, EvaluatorTrace{
				Name: ev.Name(), Error: err.Error(), DurationMs: elapsed,
			})
			continue
		}

		results = append(results, result)
		exp.Traces = append(exp.Traces, EvaluatorTrace{
			Name:       ev.Name(),
			Verdict:    result.Verdict,
			Reason:     result.Reason,
			DurationMs: elapsed,
		})

		if v, ok := result.Metadata["risk_score"]; ok {
			if f, ok := v.(float64); ok {
				exp.RiskScore = f
			}
		}
		if v, ok := result.Metadata["policy_name"]; ok {
			if s, ok := v.(string); ok && s != "" {
				exp.PolicyName = s
			}
		}

		if result.Verdict == core.VerdictBlock {
			blocked = true
		}
	}

	for _, r := range results {
		if core.Worst(exp.FinalVerdict, r.Verdict) != exp.FinalVerdict {
			exp.FinalVerdict = r.Verdict
			exp.FinalReason = r.Reason
		}
	}
	return exp
}

// Render formats an Explanation for terminals.
func (e Explanation) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent %s (%s) by %s\n", e.Intent.ActionID, e.Intent.ActionType, e.Intent.AgentID)
	b.WriteString(strings.Repeat("-", 60) + "\n")
	for _, tr := range e.Traces {
		switch {
		case tr.Disabled:
			fmt.Fprintf(&b, "  -  %-20s DISABLED\n", tr.Name)
		case tr.Skipped:
			fmt.Fprintf(&b, "  -  %-20s SKIP (not reached)\n", tr.Name)
		case tr.Error != "":
			fmt.Fprintf(&b, "  !  %-20s ERROR (%s)\n", tr.Name, tr.Error)
		default:
			fmt.Fprintf(&b, "  %-2s %-20s %-8s (%.1fms) %s\n",
				verdictMark(tr.Verdict), tr.Name, tr.Verdict, tr.DurationMs, tr.Reason)
		}
	}
	b.WriteString(strings.Repeat("-", 60) + "\n")
	fmt.Fprintf(&b, "Final verdict: %s", e.FinalVerdict)
	if e.PolicyName != "" {
		fmt.Fprintf(&b, " (policy: %s)", e.PolicyName)
	}
	fmt.Fprintf(&b, "\nRisk score: %.4f\n", e.RiskScore)
	return b.String()
}

func verdictMark(v core.Verdict) string {
	switch v {
	case core.VerdictAllow:
		return "ok"
	case core.VerdictWarn:
		return "~"
	case core.VerdictBlock:
		return "X"
	case core.VerdictEscalate:
		return "^"
	case core.VerdictDefer:
		return ".."
	default:
		return "?"
	}
}

// PolicyTestResult is the outcome of evaluating one policy against one
// sample intent.
type PolicyTestResult struct {
	IntentIndex int          `json:"intent_index"`
	ActionType  string       `json:"action_type"`
	Matched     bool         `json:"matched"`
	Triggered   bool         `json:"triggered"`
	Verdict     core.Verdict `json:"verdict,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// TestPolicy compiles a single policy and evaluates it against every
// sample intent, without touching the guard's loaded policy set. Used
// for validating a policy change in CI before deploying it.
func TestPolicy(policy *evaluators.Policy, samples []core.Intent) ([]PolicyTestResult, error) {
	engine := evaluators.NewPolicyEngine()
	if err := engine.AddPolicy(policy); err != nil {
		return nil, fmt.Errorf("compile policy %q: %w", policy.Name, err)
	}

	results := make([]PolicyTestResult, 0, len(samples))
	for i, intent := range samples {
		report := engine.DryRun(intent)
		r := PolicyTestResult{IntentIndex: i, ActionType: intent.ActionType}
		for _, entry := range report.Results {
			if entry.PolicyName != policy.Name {
				continue
			}
			r.Matched = entry.ActionTypeMatched
			r.Triggered = entry.Triggered
			r.Error = entry.Error
			if entry.Triggered {
				r.Verdict = entry.Verdict
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// VisualizePipeline renders the configured evaluator order with
// priorities and enabled state.
func VisualizePipeline(g *guard.Guard) string {
	evs := g.Pipeline().Evaluators()
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].Priority() < evs[j].Priority() })

	var b strings.Builder
	b.WriteString("Evaluation pipeline\n")
	b.WriteString(strings.Repeat("=", 44) + "\n")
	for i, ev := range evs {
		state := "enabled"
		if !ev.Enabled() {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%2d. [%2d] %-20s %s\n", i+1, ev.Priority(), ev.Name(), state)
	}
	b.WriteString(strings.Repeat("=", 44) + "\n")
	cfg := g.Config()
	fmt.Fprintf(&b, "budget: %s %.2f/task, %s %.2f/agent\n",
		cfg.Budget.Currency, cfg.Budget.PerTask, cfg.Budget.Currency, cfg.Budget.PerAgentPerRun)
	fmt.Fprintf(&b, "rate limit default: %s\n", cfg.RateLimits.Default)
	fmt.Fprintf(&b, "rollback: %v, policies: %d\n", cfg.Rollback.Enabled, len(cfg.Policies))
	return b.String()
}
