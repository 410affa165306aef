// Package evaluators implements the pipeline-stage evaluators that judge
// an Intent: schema validation, policy matching, risk scoring, rate
// limiting, cost estimation, and human approval gating.
package evaluators

import (
	"context"

	"actionguard/internal/core"
)

// Evaluator is a single stage in the evaluation pipeline. Each evaluator
// inspects an Intent and returns an EvaluatorResult; the pipeline runs
// evaluators in ascending Priority order and short-circuits on the first
// blocking verdict.
type Evaluator interface {
	Name() string
	Enabled() bool
	Priority() int
	Evaluate(ctx context.Context, intent core.Intent) (core.EvaluatorResult, error)
}
