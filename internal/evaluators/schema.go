package evaluators

import (
	"context"
	"strings"

	"actionguard/internal/core"
)

// SchemaEvaluator validates the structural integrity of an Intent before
// any other evaluator runs. It never consults a registry — structural
// well-formedness only. RegistryEvaluator (registry.go) layers
// JSON Schema validation against a registered tool definition on top of
// this, for callers that register one.
type SchemaEvaluator struct{}

func NewSchemaEvaluator() *SchemaEvaluator { return &SchemaEvaluator{} }

func (e *SchemaEvaluator) Name() string  { return "schema_validator" }
func (e *SchemaEvaluator) Enabled() bool { return true }
func (e *SchemaEvaluator) Priority() int { return 10 }

func (e *SchemaEvaluator) Evaluate(_ context.Context, intent core.Intent) (core.EvaluatorResult, error) {
	var errs []string

	if strings.TrimSpace(intent.ActionType) == "" {
		errs = append(errs, "action_type must be non-empty")
	}
	if strings.TrimSpace(intent.ToolName) == "" {
		errs = append(errs, "tool_name must be non-empty")
	}
	if strings.TrimSpace(intent.AgentID) == "" {
		errs = append(errs, "agent_id must be non-empty")
	}
	if intent.Parameters == nil {
		errs = append(errs, "parameters must be a map")
	}
	if intent.EstimatedCost < 0 {
		errs = append(errs, "estimated_cost must be non-negative")
	}
	if strings.TrimSpace(intent.ActionID) == "" {
		errs = append(errs, "action_id must be non-empty")
	}

	if len(errs) > 0 {
		return core.EvaluatorResult{
			Verdict:       core.VerdictBlock,
			Reason:        "Schema validation failed: " + strings.Join(errs, "; "),
			Confidence:    1.0,
			EvaluatorName: e.Name(),
			Metadata:      map[string]any{"errors": errs},
		}, nil
	}

	return core.EvaluatorResult{
		Verdict:       core.VerdictAllow,
		Reason:        "Intent is well-formed",
		Confidence:    1.0,
		EvaluatorName: e.Name(),
	}, nil
}
