package evaluators

import (
	"context"
	"fmt"
	"path"
	"sort"

	"actionguard/internal/condition"
	"actionguard/internal/core"
)

// Policy is a single policy rule. Conditions are compiled once when the
// policy is added to a PolicyEngine and re-evaluated cheaply per intent.
type Policy struct {
	Name        string
	ActionTypes []string
	Condition   string
	Verdict     core.Verdict
	Message     string
	EscalateTo  string
	Extends     string
	compiled    *condition.Compiled
}

// compile lazily compiles the policy's condition string. A policy with an
// empty condition always matches once its action_types pattern matches.
func (p *Policy) compile() error {
	if p.compiled != nil || p.Condition == "" {
		return nil
	}
	c, err := condition.Compile(p.Condition)
	if err != nil {
		return err
	}
	p.compiled = c
	return nil
}

// MatchesActionType reports whether this policy applies to the given
// action type, via glob matching ("*" always matches).
func (p *Policy) MatchesActionType(actionType string) bool {
	for _, pattern := range p.ActionTypes {
		if pattern == "*" {
			return true
		}
		if ok, _ := path.Match(pattern, actionType); ok {
			return true
		}
	}
	return false
}

// InheritFrom fills unset fields of p from parent, matching the reference
// engine's inheritance semantics: a child keeps any field it has
// explicitly set, and only absent fields (no action_types beyond the
// wildcard default, empty condition/message/escalate_to) are inherited.
func (p *Policy) InheritFrom(parent *Policy) {
	if len(p.ActionTypes) == 0 || (len(p.ActionTypes) == 1 && p.ActionTypes[0] == "*") {
		p.ActionTypes = append([]string(nil), parent.ActionTypes...)
	}
	if p.Condition == "" && parent.Condition != "" {
		p.Condition = parent.Condition
		p.compiled = nil
	}
	if p.Message == "" && parent.Message != "" {
		p.Message = parent.Message
	}
	if p.EscalateTo == "" && parent.EscalateTo != "" {
		p.EscalateTo = parent.EscalateTo
	}
}

// verdictSeverity orders verdicts from most to least severe, matching the
// reference engine's conflict-detection ordering (lower = more severe).
var verdictSeverity = map[core.Verdict]int{
	core.VerdictBlock:    0,
	core.VerdictEscalate: 1,
	core.VerdictDefer:    2,
	core.VerdictWarn:     3,
	core.VerdictAllow:    4,
}

// PolicyConflict describes two policies that can match the same action
// type but produce contradicting verdicts.
type PolicyConflict struct {
	PolicyA, PolicyB   string
	OverlappingTypes   []string
	VerdictA, VerdictB core.Verdict
}

func (c PolicyConflict) String() string {
	return fmt.Sprintf("conflict: %q (%s) vs %q (%s) on %v", c.PolicyA, c.VerdictA, c.PolicyB, c.VerdictB, c.OverlappingTypes)
}

// PolicyDryRunResult is the full report from evaluating every loaded
// policy without short-circuiting on the first match.
type PolicyDryRunResult struct {
	Results           []PolicyDryRunEntry
	TriggeredPolicies []string
	WorstVerdict      core.Verdict
}

type PolicyDryRunEntry struct {
	PolicyName        string
	ActionTypeMatched bool
	ConditionMet      bool
	Triggered         bool
	Verdict           core.Verdict
	Message           string
	Error             string
}

func (r PolicyDryRunResult) WouldBlock() bool { return r.WorstVerdict == core.VerdictBlock }

// PolicyEngine evaluates intents against a set of policies compiled at
// load time for near-zero evaluation latency.
type PolicyEngine struct {
	policies []*Policy
}

func NewPolicyEngine() *PolicyEngine {
	return &PolicyEngine{}
}

func (e *PolicyEngine) Name() string  { return "policy_engine" }
func (e *PolicyEngine) Enabled() bool { return true }
func (e *PolicyEngine) Priority() int { return 20 }

// Policies returns the currently loaded policies.
func (e *PolicyEngine) Policies() []*Policy { return e.policies }

// LoadPolicies replaces the engine's policy set, resolving `extends`
// references and compiling every condition. Returns any conflicts found so
// the caller can log them; conflicts do not prevent loading.
func (e *PolicyEngine) LoadPolicies(policies []*Policy) ([]PolicyConflict, error) {
	e.policies = policies
	e.resolveInheritance()
	for _, p := range e.policies {
		if err := p.compile(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", p.Name, err)
		}
	}
	return e.DetectConflicts(), nil
}

// AddPolicy appends a single policy, resolving `extends` against
// already-loaded policies.
func (e *PolicyEngine) AddPolicy(p *Policy) error {
	if p.Extends != "" {
		if parent := e.findPolicy(p.Extends); parent != nil {
			p.InheritFrom(parent)
		}
	}
	if err := p.compile(); err != nil {
		return fmt.Errorf("policy %q: %w", p.Name, err)
	}
	e.policies = append(e.policies, p)
	return nil
}

func (e *PolicyEngine) findPolicy(name string) *Policy {
	for _, p := range e.policies {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (e *PolicyEngine) resolveInheritance() {
	byName := make(map[string]*Policy, len(e.policies))
	for _, p := range e.policies {
		byName[p.Name] = p
	}
	for _, p := range e.policies {
		if p.Extends != "" {
			if parent, ok := byName[p.Extends]; ok {
				p.InheritFrom(parent)
			}
		}
	}
}

// DetectConflicts reports policy pairs whose action-type patterns can
// overlap but whose verdicts are two or more severity levels apart.
func (e *PolicyEngine) DetectConflicts() []PolicyConflict {
	var conflicts []PolicyConflict
	for i := 0; i < len(e.policies); i++ {
		for j := i + 1; j < len(e.policies); j++ {
			a, b := e.policies[i], e.policies[j]
			if a.Verdict == b.Verdict {
				continue
			}
			overlap := overlappingTypes(a.ActionTypes, b.ActionTypes)
			if len(overlap) == 0 {
				continue
			}
			sevA, sevB := verdictSeverity[a.Verdict], verdictSeverity[b.Verdict]
			diff := sevA - sevB
			if diff < 0 {
				diff = -diff
			}
			if diff >= 2 {
				conflicts = append(conflicts, PolicyConflict{
					PolicyA: a.Name, PolicyB: b.Name,
					OverlappingTypes: overlap,
					VerdictA:         a.Verdict, VerdictB: b.Verdict,
				})
			}
		}
	}
	return conflicts
}

func overlappingTypes(a, b []string) []string {
	var out []string
	for _, ap := range a {
		for _, bp := range b {
			switch {
			case ap == "*" || bp == "*":
				out = append(out, ap+" vs "+bp)
			case ap == bp:
				out = append(out, ap)
			default:
				if ok, _ := path.Match(bp, ap); ok {
					out = append(out, ap+" vs "+bp)
				} else if ok, _ := path.Match(ap, bp); ok {
					out = append(out, ap+" vs "+bp)
				}
			}
		}
	}
	return out
}

// buildContext mirrors the reference engine's context shape: parameters,
// estimated_cost, risk_level, action_type, and nested agent/task maps
// drawn from instruction_chain trust and metadata injected by the guard.
func buildContext(intent core.Intent) condition.Context {
	chainTrust := 1.0
	if len(intent.InstructionChain) > 0 {
		chainTrust = intent.InstructionChain[0].TrustLevel
		for _, call := range intent.InstructionChain {
			if call.TrustLevel < chainTrust {
				chainTrust = call.TrustLevel
			}
		}
	}

	agentActionCount := 0
	if v, ok := intent.Metadata["agent_action_count"]; ok {
		if n, ok := v.(int); ok {
			agentActionCount = n
		}
	}
	taskCost := 0.0
	if v, ok := intent.Metadata["task_estimated_cost"]; ok {
		if f, ok := v.(float64); ok {
			taskCost = f
		}
	}

	return condition.Context{
		"parameters":     intent.Parameters,
		"estimated_cost": intent.EstimatedCost,
		"risk_level":     string(intent.RiskLevel),
		"action_type":    intent.ActionType,
		"agent": map[string]any{
			"id":           intent.AgentID,
			"trust_level":  chainTrust,
			"action_count": agentActionCount,
		},
		"task": map[string]any{
			"id":             intent.TaskID,
			"estimated_cost": taskCost,
		},
	}
}

func (e *PolicyEngine) Evaluate(_ context.Context, intent core.Intent) (core.EvaluatorResult, error) {
	ctx := buildContext(intent)

	for _, p := range e.policies {
		if !p.MatchesActionType(intent.ActionType) {
			continue
		}
		// A policy with no condition matches on action type alone.
		matched := true
		if p.compiled != nil {
			var err error
			matched, err = p.compiled.Evaluate(ctx)
			if err != nil {
				// A malformed condition does not block the pipeline; it
				// is skipped, matching the reference engine's fail-open
				// stance on condition evaluation errors.
				continue
			}
		}
		if matched {
			reason := p.Message
			if reason == "" {
				reason = fmt.Sprintf("Policy %q triggered", p.Name)
			}
			return core.EvaluatorResult{
				Verdict:       p.Verdict,
				Reason:        reason,
				Confidence:    1.0,
				EvaluatorName: e.Name(),
				Metadata: map[string]any{
					"policy_name": p.Name,
					"escalate_to": p.EscalateTo,
				},
			}, nil
		}
	}

	return core.EvaluatorResult{
		Verdict:       core.VerdictAllow,
		Reason:        "No policies triggered",
		Confidence:    1.0,
		EvaluatorName: e.Name(),
	}, nil
}

// DryRun evaluates every loaded policy without short-circuiting, returning
// a full report. Used by internal/dx's TestPolicy helper and by CI-style
// policy-bundle validation.
func (e *PolicyEngine) DryRun(intent core.Intent) PolicyDryRunResult {
	ctx := buildContext(intent)
	result := PolicyDryRunResult{WorstVerdict: core.VerdictAllow}
	worstSeverity := 99

	for _, p := range e.policies {
		matchedType := p.MatchesActionType(intent.ActionType)
		conditionMet := false
		errMsg := ""

		if matchedType {
			if p.compiled == nil {
				conditionMet = true
			} else if ok, err := p.compiled.Evaluate(ctx); err != nil {
				errMsg = err.Error()
			} else {
				conditionMet = ok
			}
		}

		triggered := matchedType && conditionMet
		result.Results = append(result.Results, PolicyDryRunEntry{
			PolicyName:        p.Name,
			ActionTypeMatched: matchedType,
			ConditionMet:      conditionMet,
			Triggered:         triggered,
			Verdict:           p.Verdict,
			Message:           p.Message,
			Error:             errMsg,
		})

		if triggered {
			result.TriggeredPolicies = append(result.TriggeredPolicies, p.Name)
			if sev := verdictSeverity[p.Verdict]; sev < worstSeverity {
				worstSeverity = sev
				result.WorstVerdict = p.Verdict
			}
		}
	}

	sort.Strings(result.TriggeredPolicies)
	return result
}
