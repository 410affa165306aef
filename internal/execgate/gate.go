// Package execgate runs the caller's operation under an approved verdict
// and produces the audit entry for the attempt.
package execgate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"actionguard/internal/core"
)

// Operation is the caller-supplied side effect to run under guard. What
// it does is opaque to the gate.
type Operation func(ctx context.Context) (any, error)

// sensitiveKeys are parameter names whose values never reach the audit
// log or exporters.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"secret":        {},
	"token":         {},
	"api_key":       {},
	"apikey":        {},
	"credential":    {},
	"private_key":   {},
	"access_token":  {},
	"refresh_token": {},
	"auth":          {},
}

const redacted = "***REDACTED***"

// SanitizeParameters returns a deep copy of params with every value
// under a sensitive key name replaced by a redaction marker. Nested maps
// are sanitized recursively.
func SanitizeParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		if m, ok := v.(map[string]any); ok {
			out[k] = SanitizeParameters(m)
			continue
		}
		out[k] = v
	}
	return out
}

// Gate executes guarded operations: it measures duration, captures the
// operation's error, and builds the audit entry with sanitized
// parameters. It does not write to the audit log itself.
type Gate struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{logger: logger}
}

// Execute runs the operation and returns the execution record. A
// blocking verdict short-circuits to an unexecuted result; the guard
// facade normally refuses before reaching the gate, so this is a
// defensive path only.
//
// The operation's error is captured into the audit entry and returned in
// the result for the facade to re-raise after the entry is written.
func (g *Gate) Execute(
	ctx context.Context,
	intent core.Intent,
	op Operation,
	verdict core.Verdict,
	riskScore float64,
	policyTriggered string,
	evaluatorResults []core.EvaluatorResult,
) core.ActionResult {
	if verdict.IsBlocking() {
		entry := g.buildEntry(intent, verdict, riskScore, policyTriggered, evaluatorResults, 0, nil)
		return core.ActionResult{
			ActionID:   intent.ActionID,
			Success:    false,
			AuditEntry: entry,
		}
	}

	start := time.Now()
	output, err := op(ctx)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		g.logger.Error("guarded operation failed",
			zap.String("action_id", intent.ActionID),
			zap.String("action_type", intent.ActionType),
			zap.Error(err),
		)
	}

	entry := g.buildEntry(intent, verdict, riskScore, policyTriggered, evaluatorResults, durationMs, err)
	return core.ActionResult{
		ActionID:   intent.ActionID,
		Success:    err == nil,
		Output:     output,
		DurationMs: durationMs,
		AuditEntry: entry,
		Error:      err,
	}
}

func (g *Gate) buildEntry(
	intent core.Intent,
	verdict core.Verdict,
	riskScore float64,
	policyTriggered string,
	evaluatorResults []core.EvaluatorResult,
	durationMs int64,
	opErr error,
) core.AuditEntry {
	errStr := ""
	if opErr != nil {
		errStr = fmt.Sprintf("%v", opErr)
	}
	return core.AuditEntry{
		ActionID:         intent.ActionID,
		AgentID:          intent.AgentID,
		ActionType:       intent.ActionType,
		Verdict:          verdict,
		RiskScore:        riskScore,
		TaskID:           intent.TaskID,
		PolicyTriggered:  policyTriggered,
		EvaluatorResults: evaluatorResults,
		InstructionChain: intent.InstructionChain,
		Parameters:       SanitizeParameters(intent.Parameters),
		DurationMs:       durationMs,
		Timestamp:        intent.Timestamp,
		Error:            errStr,
	}
}
