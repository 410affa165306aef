package evaluators

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"actionguard/internal/core"
)

// Exact weights from the reference risk scorer: action-type base risk
// carries the most weight, the remaining four sub-scores are capped
// individually before being summed.
const (
	weightActionBase       = 0.30
	weightParamSensitivity = 0.25
	weightBlastRadius      = 0.15
	weightAgentHistory     = 0.15
	weightContextAlignment = 0.15

	capParamSensitivity = 0.3
	capBlastRadius      = 0.2
	capAgentHistory     = 0.2
	capContextAlignment = 0.1
)

// actionBaseRisk gives the base risk score for well-known action types
// by read/create/update/delete/exec tier; verbBaseRisk falls back to a
// match on the rightmost dotted verb, and the final fallback is a flat
// default.
var actionBaseRisk = map[string]float64{
	"file.read":   0.1,
	"db.select":   0.1,
	"db.query":    0.1,
	"http.get":    0.1,
	"file.create": 0.3,
	"db.insert":   0.3,
	"http.post":   0.3,
	"email.send":  0.3,
	"file.write":  0.5,
	"db.update":   0.5,
	"http.put":    0.5,
	"http.patch":  0.5,
	"file.delete": 0.8,
	"db.delete":   0.8,
	"http.delete": 0.8,
	"shell.exec":  0.9,
	"code.exec":   0.9,
	"system.exec": 0.9,
}

var verbBaseRisk = map[string]float64{
	"read":    0.1,
	"get":     0.1,
	"query":   0.1,
	"select":  0.1,
	"create":  0.3,
	"post":    0.3,
	"insert":  0.3,
	"send":    0.3,
	"write":   0.5,
	"update":  0.5,
	"put":     0.5,
	"patch":   0.5,
	"delete":  0.8,
	"destroy": 0.8,
	"remove":  0.8,
	"exec":    0.9,
	"execute": 0.9,
	"shell":   0.9,
	"run":     0.9,
}

const defaultBaseRisk = 0.3

// sensitiveParamPatterns is a superset of the condition package's PII
// patterns (pii.go),
// additionally matching credential/secret/token-style keys, mirroring
// risk_scorer.py's own independent pattern list.
var sensitiveParamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password`),
	regexp.MustCompile(`(?i)secret`),
	regexp.MustCompile(`(?i)token`),
	regexp.MustCompile(`(?i)api[_-]?key`),
	regexp.MustCompile(`(?i)credential`),
	regexp.MustCompile(`(?i)private[_-]?key`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                                // SSN
	regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`), // email
	regexp.MustCompile(`\b\d{16}\b`),                                           // card
	regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),                    // phone
}

var systemPathPrefixes = []string{
	"/etc", "/sys", "/proc", "/boot", "/root", "/var/log", "/usr/sbin", `C:\Windows\System32`,
}

const maxSensitivityScanDepth = 5

var destructiveKeywords = []string{"delete", "destroy", "drop", "truncate"}

// RiskScorer computes a weighted 0-1 risk score for an Intent from five
// independent sub-scores, then maps the total to a verdict via fixed
// thresholds. Grounded on the reference risk scorer's exact weights,
// caps, and threshold table. The agent-history sub-score reads the
// metadata the guard injects before the pipeline runs.
type RiskScorer struct{}

func NewRiskScorer() *RiskScorer {
	return &RiskScorer{}
}

func (e *RiskScorer) Name() string  { return "risk_scorer" }
func (e *RiskScorer) Enabled() bool { return true }
func (e *RiskScorer) Priority() int { return 30 }

func (e *RiskScorer) Evaluate(_ context.Context, intent core.Intent) (core.EvaluatorResult, error) {
	scores := map[string]float64{
		"action_base":       actionBaseScore(intent.ActionType),
		"param_sensitivity": e.paramSensitivityScore(intent.Parameters),
		"blast_radius":      blastRadiusScore(intent),
		"agent_history":     agentHistoryScore(intent),
		"context_alignment": contextAlignmentScore(intent),
	}

	total := scores["action_base"]*weightActionBase +
		scores["param_sensitivity"]*weightParamSensitivity +
		scores["blast_radius"]*weightBlastRadius +
		scores["agent_history"]*weightAgentHistory +
		scores["context_alignment"]*weightContextAlignment

	total = math.Round(total*10000) / 10000
	if total > 1.0 {
		total = 1.0
	}

	verdict, reason := verdictForRisk(total)

	return core.EvaluatorResult{
		Verdict:       verdict,
		Reason:        reason,
		Confidence:    1.0,
		EvaluatorName: e.Name(),
		Metadata: map[string]any{
			"risk_score": total,
			"sub_scores": scores,
		},
	}, nil
}

func verdictForRisk(score float64) (core.Verdict, string) {
	switch {
	case score >= 0.8:
		return core.VerdictBlock, fmt.Sprintf("Risk score %.2f exceeds the blocking threshold", score)
	case score >= 0.6:
		return core.VerdictEscalate, fmt.Sprintf("Risk score %.2f requires escalation", score)
	case score >= 0.3:
		return core.VerdictWarn, fmt.Sprintf("Risk score %.2f warrants a warning", score)
	default:
		return core.VerdictAllow, fmt.Sprintf("Risk score %.2f is within tolerance", score)
	}
}

func actionBaseScore(actionType string) float64 {
	if v, ok := actionBaseRisk[actionType]; ok {
		return v
	}
	// Fall back on the rightmost dotted verb: "storage.files.delete"
	// scores as a delete.
	parts := strings.Split(strings.ToLower(actionType), ".")
	for i := len(parts) - 1; i >= 0; i-- {
		if v, ok := verbBaseRisk[parts[i]]; ok {
			return v
		}
	}
	return defaultBaseRisk
}

func (e *RiskScorer) paramSensitivityScore(params map[string]any) float64 {
	hits := scanSensitivity(params, 0)
	score := float64(hits) * 0.1
	if score > capParamSensitivity {
		score = capParamSensitivity
	}
	return score
}

func scanSensitivity(v any, depth int) int {
	if depth > maxSensitivityScanDepth {
		return 0
	}
	hits := 0
	switch val := v.(type) {
	case string:
		for _, re := range sensitiveParamPatterns {
			if re.MatchString(val) {
				hits++
			}
		}
		for _, prefix := range systemPathPrefixes {
			normalized := strings.ReplaceAll(val, `\`, "/")
			if strings.HasPrefix(normalized, strings.ReplaceAll(prefix, `\`, "/")) {
				hits++
			}
		}
	case map[string]any:
		for k, sub := range val {
			for _, re := range sensitiveParamPatterns {
				if re.MatchString(k) {
					hits++
				}
			}
			hits += scanSensitivity(sub, depth+1)
		}
	case []any:
		for _, sub := range val {
			hits += scanSensitivity(sub, depth+1)
		}
	}
	return hits
}

func blastRadiusScore(intent core.Intent) float64 {
	score := 0.0

	for _, value := range intent.Parameters {
		switch v := value.(type) {
		case string:
			if strings.Contains(v, "*") || strings.Contains(v, "%") {
				score += 0.1
			}
			if v == "all" || v == "ALL" || v == "*" {
				score += 0.15
			}
		case []any:
			if len(v) > 10 {
				score += 0.1
			}
		}
	}

	lowerAction := strings.ToLower(intent.ActionType)
	for _, kw := range destructiveKeywords {
		if strings.Contains(lowerAction, kw) {
			score += 0.1
			break
		}
	}

	if score > capBlastRadius {
		score = capBlastRadius
	}
	return score
}

// agentHistoryScore reads the track-record metadata the guard injects
// before running the pipeline; intents evaluated standalone score zero.
func agentHistoryScore(intent core.Intent) float64 {
	errorRate := metaFloat(intent.Metadata, "agent_error_rate")
	violations := metaFloat(intent.Metadata, "agent_violations")

	score := errorRate*0.1 + minFloat(violations*0.05, 0.1)
	if score > capAgentHistory {
		score = capAgentHistory
	}
	return score
}

func metaFloat(meta map[string]any, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// contextAlignmentScore penalizes actions whose declared task context
// shares no vocabulary with the action itself. Missing context and zero
// overlap both score the penalty; any overlap scores clean.
func contextAlignmentScore(intent core.Intent) float64 {
	if intent.TaskContext == "" {
		return capContextAlignment
	}

	actionWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ReplaceAll(strings.ToLower(intent.ActionType), ".", " ")) {
		actionWords[w] = struct{}{}
	}
	for _, w := range strings.Fields(strings.ReplaceAll(strings.ToLower(intent.ToolName), "_", " ")) {
		actionWords[w] = struct{}{}
	}

	contextWords := strings.Fields(strings.ToLower(intent.TaskContext))
	if len(actionWords) == 0 || len(contextWords) == 0 {
		return capContextAlignment
	}

	for _, w := range contextWords {
		if _, ok := actionWords[w]; ok {
			return 0
		}
	}
	return capContextAlignment
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
