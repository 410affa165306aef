package pipeline

import (
	"context"
	"testing"

	"actionguard/internal/core"
)

// spyEvaluator records whether it ran and returns a fixed verdict.
type spyEvaluator struct {
	name     string
	priority int
	verdict  core.Verdict
	enabled  bool
	ran      bool
}

func (s *spyEvaluator) Name() string  { return s.name }
func (s *spyEvaluator) Enabled() bool { return s.enabled }
func (s *spyEvaluator) Priority() int { return s.priority }

func (s *spyEvaluator) Evaluate(_ context.Context, _ core.Intent) (core.EvaluatorResult, error) {
	s.ran = true
	return core.EvaluatorResult{
		Verdict:       s.verdict,
		Reason:        "spy",
		Confidence:    1.0,
		EvaluatorName: s.name,
	}, nil
}

func spy(name string, priority int, verdict core.Verdict) *spyEvaluator {
	return &spyEvaluator{name: name, priority: priority, verdict: verdict, enabled: true}
}

func TestPipelineShortCircuitOnBlock(t *testing.T) {
	first := spy("first", 10, core.VerdictAllow)
	blocker := spy("blocker", 20, core.VerdictBlock)
	after := spy("after", 30, core.VerdictAllow)

	p := New(nil)
	p.Add(first)
	p.Add(blocker)
	p.Add(after)

	res := p.Evaluate(context.Background(), core.NewIntent("x.y", "t", "a", nil))

	if !first.ran || !blocker.ran {
		t.Fatal("evaluators before and including the blocker must run")
	}
	if after.ran {
		t.Fatal("evaluator after a BLOCK must not run")
	}
	if res.Final.Verdict != core.VerdictBlock {
		t.Errorf("final verdict = %s, want BLOCK", res.Final.Verdict)
	}
	if len(res.Results) != 2 {
		t.Errorf("collected %d results, want 2", len(res.Results))
	}
}

func TestPipelineNonBlockingVerdictsAccumulate(t *testing.T) {
	p := New(nil)
	p.Add(spy("warner", 10, core.VerdictWarn))
	p.Add(spy("escalator", 20, core.VerdictEscalate))
	p.Add(spy("allower", 30, core.VerdictAllow))

	res := p.Evaluate(context.Background(), core.NewIntent("x.y", "t", "a", nil))

	if len(res.Results) != 3 {
		t.Fatalf("collected %d results, want 3 (only BLOCK short-circuits)", len(res.Results))
	}
	if res.Final.Verdict != core.VerdictEscalate {
		t.Errorf("final verdict = %s, want ESCALATE (most severe)", res.Final.Verdict)
	}
}

func TestPipelineSkipsDisabled(t *testing.T) {
	disabled := spy("disabled", 10, core.VerdictBlock)
	disabled.enabled = false
	enabled := spy("enabled", 20, core.VerdictAllow)

	p := New(nil)
	p.Add(disabled)
	p.Add(enabled)

	res := p.Evaluate(context.Background(), core.NewIntent("x.y", "t", "a", nil))

	if disabled.ran {
		t.Error("disabled evaluator must not run")
	}
	if res.Final.Verdict != core.VerdictAllow {
		t.Errorf("final verdict = %s, want ALLOW", res.Final.Verdict)
	}
}

func TestPipelinePriorityOrdering(t *testing.T) {
	var order []string
	mk := func(name string, priority int) *orderedEvaluator {
		return &orderedEvaluator{name: name, priority: priority, order: &order}
	}

	p := New(nil)
	p.Add(mk("c", 30))
	p.Add(mk("a", 10))
	p.Add(mk("b", 20))

	p.Evaluate(context.Background(), core.NewIntent("x.y", "t", "a", nil))

	want := []string{"a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("run order = %v, want %v", order, want)
		}
	}
}

type orderedEvaluator struct {
	name     string
	priority int
	order    *[]string
}

func (o *orderedEvaluator) Name() string  { return o.name }
func (o *orderedEvaluator) Enabled() bool { return true }
func (o *orderedEvaluator) Priority() int { return o.priority }

func (o *orderedEvaluator) Evaluate(_ context.Context, _ core.Intent) (core.EvaluatorResult, error) {
	*o.order = append(*o.order, o.name)
	return core.EvaluatorResult{Verdict: core.VerdictAllow, EvaluatorName: o.name}, nil
}

func TestWorstOfIsOrderIndependent(t *testing.T) {
	a := core.EvaluatorResult{Verdict: core.VerdictWarn, EvaluatorName: "a"}
	b := core.EvaluatorResult{Verdict: core.VerdictDefer, EvaluatorName: "b"}

	ab := WorstOf([]core.EvaluatorResult{a, b})
	ba := WorstOf([]core.EvaluatorResult{b, a})

	if ab.Verdict != ba.Verdict {
		t.Fatalf("WorstOf not symmetric: %s vs %s", ab.Verdict, ba.Verdict)
	}
	if ab.Verdict != core.VerdictDefer {
		t.Errorf("worst of WARN,DEFER = %s, want DEFER", ab.Verdict)
	}
}

func TestWorstOfEmpty(t *testing.T) {
	res := WorstOf(nil)
	if res.Verdict != core.VerdictAllow {
		t.Errorf("empty results should default to ALLOW, got %s", res.Verdict)
	}
}

func TestResultExtractsRiskScoreAndPolicy(t *testing.T) {
	p := New(nil)
	p.Add(&metadataEvaluator{})

	res := p.Evaluate(context.Background(), core.NewIntent("x.y", "t", "a", nil))
	if res.RiskScore != 0.42 {
		t.Errorf("risk score = %v, want 0.42", res.RiskScore)
	}
	if res.PolicyTriggered != "no_secrets" {
		t.Errorf("policy triggered = %q, want no_secrets", res.PolicyTriggered)
	}
}

type metadataEvaluator struct{}

func (m *metadataEvaluator) Name() string  { return "meta" }
func (m *metadataEvaluator) Enabled() bool { return true }
func (m *metadataEvaluator) Priority() int { return 10 }

func (m *metadataEvaluator) Evaluate(_ context.Context, _ core.Intent) (core.EvaluatorResult, error) {
	return core.EvaluatorResult{
		Verdict:       core.VerdictWarn,
		EvaluatorName: "meta",
		Metadata:      map[string]any{"risk_score": 0.42, "policy_name": "no_secrets"},
	}, nil
}
