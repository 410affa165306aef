package evaluators

import (
	"context"
	"errors"
	"testing"
	"time"

	"actionguard/internal/core"
)

func criticalIntent() core.Intent {
	intent := core.NewIntent("db.drop", "drop_db", "agent-1", nil)
	intent.RiskLevel = core.RiskCritical
	return intent
}

func TestHumanGateDisabledByDefault(t *testing.T) {
	g := NewHumanGate(nil)
	if g.Enabled() {
		t.Fatal("gate should start disabled")
	}
}

func TestHumanGateAutoApprovesWithoutCallback(t *testing.T) {
	g := NewHumanGate(nil)
	g.Enable()

	res, err := g.Evaluate(context.Background(), criticalIntent())
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != core.VerdictAllow {
		t.Errorf("verdict = %s, want auto-approve ALLOW", res.Verdict)
	}
}

func TestHumanGateCallbackDenies(t *testing.T) {
	g := NewHumanGate(nil)
	g.Enable()
	g.SetApprovalCallback(func(context.Context, core.Intent) (bool, error) {
		return false, nil
	})

	res, _ := g.Evaluate(context.Background(), criticalIntent())
	if res.Verdict != core.VerdictBlock {
		t.Errorf("verdict = %s, want BLOCK on denial", res.Verdict)
	}

	log := g.ApprovalLog()
	if len(log) != 1 || log[0].Approved {
		t.Errorf("approval log = %+v, want one denied entry", log)
	}
}

func TestHumanGateTimeout(t *testing.T) {
	g := NewHumanGate(nil)
	g.Enable()
	g.SetTimeout(10 * time.Millisecond)
	g.SetApprovalCallback(func(ctx context.Context, _ core.Intent) (bool, error) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Second):
			return true, nil
		}
	})

	res, _ := g.Evaluate(context.Background(), criticalIntent())
	if res.Verdict != core.VerdictBlock {
		t.Fatalf("verdict = %s, want BLOCK on timeout", res.Verdict)
	}
	if res.Reason != "human approval timed out" {
		t.Errorf("reason = %q, want timeout reason", res.Reason)
	}
}

func TestHumanGateCallbackError(t *testing.T) {
	g := NewHumanGate(nil)
	g.Enable()
	g.SetApprovalCallback(func(context.Context, core.Intent) (bool, error) {
		return false, errors.New("slack is down")
	})

	res, _ := g.Evaluate(context.Background(), criticalIntent())
	if res.Verdict != core.VerdictBlock {
		t.Errorf("verdict = %s, want BLOCK on callback error", res.Verdict)
	}
}

func TestHumanGateSkipsLowRisk(t *testing.T) {
	g := NewHumanGate(nil)
	g.Enable()
	g.SetApprovalCallback(func(context.Context, core.Intent) (bool, error) {
		t.Fatal("callback must not fire for non-gated intents")
		return false, nil
	})

	intent := core.NewIntent("file.read", "cat", "agent-1", nil)
	intent.RiskLevel = core.RiskLow
	res, _ := g.Evaluate(context.Background(), intent)
	if res.Verdict != core.VerdictAllow {
		t.Errorf("verdict = %s, want ALLOW without approval", res.Verdict)
	}
}

func TestHumanGateActionTypeTrigger(t *testing.T) {
	g := NewHumanGate(nil)
	g.Enable()
	g.RequireForActionTypes("payments.transfer")

	called := false
	g.SetApprovalCallback(func(context.Context, core.Intent) (bool, error) {
		called = true
		return true, nil
	})

	intent := core.NewIntent("payments.transfer", "wire", "agent-1", nil)
	intent.RiskLevel = core.RiskLow
	g.Evaluate(context.Background(), intent)
	if !called {
		t.Error("action-type trigger should invoke the callback regardless of risk level")
	}
}
