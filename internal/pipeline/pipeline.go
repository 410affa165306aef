// Package pipeline runs the ordered set of evaluators that together
// decide the verdict for an intent.
package pipeline

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"actionguard/internal/core"
	"actionguard/internal/evaluators"
)

// Result is the outcome of a full pipeline run: every evaluator result
// collected before a short-circuit, plus the derived final verdict.
type Result struct {
	Final           core.EvaluatorResult
	Results         []core.EvaluatorResult
	RiskScore       float64
	PolicyTriggered string
}

// Pipeline holds evaluators in ascending priority order and runs them
// against an intent. A BLOCK verdict short-circuits the remainder; the
// final verdict is the most severe across every result collected.
//
// The pipeline itself holds no per-intent state and never touches the
// audit log; the only mutations during a run are those the individual
// evaluators make internally (rate windows, approval logs).
type Pipeline struct {
	mu         sync.RWMutex
	evaluators []evaluators.Evaluator
	logger     *zap.Logger
}

func New(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{logger: logger}
}

// Add inserts an evaluator and re-sorts by priority. Insertion order
// breaks priority ties.
func (p *Pipeline) Add(e evaluators.Evaluator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evaluators = append(p.evaluators, e)
	sort.SliceStable(p.evaluators, func(i, j int) bool {
		return p.evaluators[i].Priority() < p.evaluators[j].Priority()
	})
}

// Remove drops an evaluator by name.
func (p *Pipeline) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.evaluators[:0]
	for _, e := range p.evaluators {
		if e.Name() != name {
			kept = append(kept, e)
		}
	}
	p.evaluators = kept
}

// Evaluators returns the ordered evaluator list.
func (p *Pipeline) Evaluators() []evaluators.Evaluator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]evaluators.Evaluator, len(p.evaluators))
	copy(out, p.evaluators)
	return out
}

// Evaluate runs every enabled evaluator in priority order against the
// intent, stopping at the first BLOCK. Evaluator-internal errors never
// convert into a verdict: the failing evaluator is skipped and logged.
func (p *Pipeline) Evaluate(ctx context.Context, intent core.Intent) Result {
	var collected []core.EvaluatorResult

	for _, e := range p.Evaluators() {
		if !e.Enabled() {
			continue
		}

		res, err := e.Evaluate(ctx, intent)
		if err != nil {
			p.logger.Warn("evaluator error; treating as silent",
				zap.String("evaluator", e.Name()),
				zap.String("action_id", intent.ActionID),
				zap.Error(err),
			)
			continue
		}
		collected = append(collected, res)

		if res.Verdict == core.VerdictBlock {
			p.logger.Info("action blocked",
				zap.String("action_id", intent.ActionID),
				zap.String("evaluator", e.Name()),
				zap.String("reason", res.Reason),
			)
			break
		}
	}

	return buildResult(collected)
}

func buildResult(collected []core.EvaluatorResult) Result {
	r := Result{Results: collected, Final: WorstOf(collected)}
	for _, er := range collected {
		if v, ok := er.Metadata["risk_score"]; ok {
			if f, ok := toFloat(v); ok {
				r.RiskScore = f
			}
		}
		if v, ok := er.Metadata["policy_name"]; ok {
			if s, ok := v.(string); ok && s != "" {
				r.PolicyTriggered = s
			}
		}
	}
	return r
}

// WorstOf picks the most restrictive result; ties go to the earliest.
// An empty input yields a default ALLOW from the pipeline itself.
func WorstOf(results []core.EvaluatorResult) core.EvaluatorResult {
	if len(results) == 0 {
		return core.EvaluatorResult{
			Verdict:       core.VerdictAllow,
			Reason:        "No evaluators ran",
			Confidence:    1.0,
			EvaluatorName: "pipeline",
		}
	}
	worst := results[0]
	for _, r := range results[1:] {
		if core.Worst(worst.Verdict, r.Verdict) != worst.Verdict {
			worst = r
		}
	}
	return worst
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
