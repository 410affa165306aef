package evaluators

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"actionguard/internal/core"
)

// ApprovalCallback decides whether a gated action should proceed. The
// zero-value HumanGate uses a callback that auto-approves with a warning
// log, matching the reference gate's default (approve-and-warn, never
// silently block) until a real approval channel is wired in.
type ApprovalCallback func(ctx context.Context, intent core.Intent) (bool, error)

type approvalLogEntry struct {
	ActionID  string
	AgentID   string
	Approved  bool
	Timestamp time.Time
}

// HumanGate holds blocking actions for out-of-band approval. It is
// disabled by default: most deployments never need a human in the loop.
// When enabled with no callback wired, it auto-approves every matching
// action and logs a warning.
type HumanGate struct {
	enabled               bool
	requireForRiskLevels  map[core.RiskLevel]bool
	requireForActionTypes map[string]bool
	callback              ApprovalCallback
	timeout               time.Duration
	logger                *zap.Logger

	mu  sync.Mutex
	log []approvalLogEntry
}

func NewHumanGate(logger *zap.Logger) *HumanGate {
	return &HumanGate{
		enabled:               false,
		requireForRiskLevels:  map[core.RiskLevel]bool{core.RiskCritical: true},
		requireForActionTypes: map[string]bool{},
		callback:              nil,
		logger:                logger,
	}
}

func (g *HumanGate) Enable()  { g.enabled = true }
func (g *HumanGate) Disable() { g.enabled = false }

// SetTimeout bounds how long the gate waits for an approval decision. An
// expired wait blocks the action. Zero means no deadline.
func (g *HumanGate) SetTimeout(d time.Duration) { g.timeout = d }

// SetApprovalCallback wires a real approval channel (a Slack prompt, a
// ticket queue, a CLI confirmation). A nil callback restores the
// auto-approve-with-warning default.
func (g *HumanGate) SetApprovalCallback(cb ApprovalCallback) {
	g.callback = cb
}

// RequireForRiskLevels replaces the set of risk levels that trigger the
// gate (default: CRITICAL only).
func (g *HumanGate) RequireForRiskLevels(levels ...core.RiskLevel) {
	m := make(map[core.RiskLevel]bool, len(levels))
	for _, l := range levels {
		m[l] = true
	}
	g.requireForRiskLevels = m
}

// RequireForActionTypes replaces the set of action types that always
// require approval regardless of risk level (default: none).
func (g *HumanGate) RequireForActionTypes(actionTypes ...string) {
	m := make(map[string]bool, len(actionTypes))
	for _, t := range actionTypes {
		m[t] = true
	}
	g.requireForActionTypes = m
}

func (g *HumanGate) Name() string  { return "human_gate" }
func (g *HumanGate) Enabled() bool { return g.enabled }
func (g *HumanGate) Priority() int { return 60 }

func (g *HumanGate) needsApproval(intent core.Intent) bool {
	if g.requireForRiskLevels[intent.RiskLevel] {
		return true
	}
	return g.requireForActionTypes[intent.ActionType]
}

func (g *HumanGate) Evaluate(ctx context.Context, intent core.Intent) (core.EvaluatorResult, error) {
	if !g.needsApproval(intent) {
		return core.EvaluatorResult{
			Verdict:       core.VerdictAllow,
			Reason:        "Human approval not required for this action",
			Confidence:    1.0,
			EvaluatorName: g.Name(),
		}, nil
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	approved, err := g.approve(ctx, intent)
	if err != nil {
		reason := fmt.Sprintf("Approval callback failed: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "human approval timed out"
		}
		return core.EvaluatorResult{
			Verdict:       core.VerdictBlock,
			Reason:        reason,
			Confidence:    1.0,
			EvaluatorName: g.Name(),
		}, nil
	}

	g.mu.Lock()
	g.log = append(g.log, approvalLogEntry{
		ActionID: intent.ActionID, AgentID: intent.AgentID, Approved: approved, Timestamp: time.Now(),
	})
	g.mu.Unlock()

	if !approved {
		return core.EvaluatorResult{
			Verdict:       core.VerdictBlock,
			Reason:        "Action was not approved by a human reviewer",
			Confidence:    1.0,
			EvaluatorName: g.Name(),
		}, nil
	}

	return core.EvaluatorResult{
		Verdict:       core.VerdictAllow,
		Reason:        "Action approved by a human reviewer",
		Confidence:    1.0,
		EvaluatorName: g.Name(),
	}, nil
}

func (g *HumanGate) approve(ctx context.Context, intent core.Intent) (bool, error) {
	if g.callback != nil {
		return g.callback(ctx, intent)
	}
	if g.logger != nil {
		g.logger.Warn("human_gate enabled with no approval callback wired; auto-approving",
			zap.String("action_id", intent.ActionID),
			zap.String("agent_id", intent.AgentID),
		)
	}
	return true, nil
}

// ApprovalLog returns a copy of the recorded approval decisions, used by
// audit tooling and tests.
func (g *HumanGate) ApprovalLog() []approvalLogEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]approvalLogEntry, len(g.log))
	copy(out, g.log)
	return out
}
