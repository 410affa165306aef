package dx

import (
	"strings"
	"testing"

	"actionguard/internal/config"
	"actionguard/internal/core"
	"actionguard/internal/evaluators"
	"actionguard/internal/guard"
)

func newGuard(t *testing.T) *guard.Guard {
	t.Helper()
	cfg := config.Default()
	cfg.Observability.Exporters = nil
	cfg.Rollback.SnapshotDir = t.TempDir()
	cfg.Policies = []config.PolicyConfig{{
		Name:        "no_etc",
		ActionTypes: []string{"file.*"},
		Condition:   "parameters.path.startswith('/etc')",
		Verdict:     "BLOCK",
	}}
	g, err := guard.New(cfg, nil)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	return g
}

func TestExplainBlockedIntent(t *testing.T) {
	g := newGuard(t)
	intent := core.NewIntent("file.delete", "rm", "agent-1", map[string]any{"path": "/etc/hosts"})

	exp := Explain(g, intent)
	if exp.FinalVerdict != core.VerdictBlock {
		t.Fatalf("final verdict = %s, want BLOCK", exp.FinalVerdict)
	}
	if exp.PolicyName != "no_etc" {
		t.Errorf("policy name = %q, want no_etc", exp.PolicyName)
	}

	// Evaluators after the blocking policy engine are reported skipped.
	var sawBlock, sawSkipped bool
	for _, tr := range exp.Traces {
		if tr.Verdict == core.VerdictBlock {
			sawBlock = true
		}
		if sawBlock && tr.Skipped {
			sawSkipped = true
		}
	}
	if !sawBlock || !sawSkipped {
		t.Errorf("traces should show a block followed by skips: %+v", exp.Traces)
	}

	out := exp.Render()
	if !strings.Contains(out, "BLOCK") || !strings.Contains(out, "no_etc") {
		t.Errorf("rendered explanation missing verdict or policy:\n%s", out)
	}
}

func TestExplainDoesNotExecuteOrAudit(t *testing.T) {
	g := newGuard(t)
	intent := core.NewIntent("api.call", "call_api", "agent-1", nil)

	Explain(g, intent)

	if entries := g.AuditEntries(core.AuditFilter{}); len(entries) != 0 {
		t.Errorf("explain wrote %d audit entries, want 0", len(entries))
	}
}

func TestTestPolicy(t *testing.T) {
	policy := &evaluators.Policy{
		Name:        "expensive_calls",
		ActionTypes: []string{"api.*"},
		Condition:   "estimated_cost > 1.0",
		Verdict:     core.VerdictEscalate,
	}

	cheap := core.NewIntent("api.call", "call", "a", nil)
	cheap.EstimatedCost = 0.10
	pricey := core.NewIntent("api.call", "call", "a", nil)
	pricey.EstimatedCost = 2.50
	unrelated := core.NewIntent("file.read", "read", "a", nil)
	unrelated.EstimatedCost = 5.0

	results, err := TestPolicy(policy, []core.Intent{cheap, pricey, unrelated})
	if err != nil {
		t.Fatalf("test policy: %v", err)
	}

	if results[0].Triggered {
		t.Error("cheap call should not trigger")
	}
	if !results[1].Triggered || results[1].Verdict != core.VerdictEscalate {
		t.Errorf("pricey call should trigger ESCALATE, got %+v", results[1])
	}
	if results[2].Matched {
		t.Error("unrelated action type should not match")
	}
}

func TestTestPolicyRejectsBadCondition(t *testing.T) {
	policy := &evaluators.Policy{
		Name:      "broken",
		Condition: "import os",
		Verdict:   core.VerdictBlock,
	}
	if _, err := TestPolicy(policy, nil); err == nil {
		t.Fatal("forbidden condition should fail compilation")
	}
}

func TestVisualizePipeline(t *testing.T) {
	g := newGuard(t)
	out := VisualizePipeline(g)

	for _, name := range []string{"schema_validator", "policy_engine", "risk_scorer", "rate_limiter", "cost_estimator", "human_gate"} {
		if !strings.Contains(out, name) {
			t.Errorf("visualization missing %s:\n%s", name, out)
		}
	}
	if !strings.Contains(out, "disabled") {
		t.Error("human gate should render as disabled by default")
	}
}
