package core

import (
	"time"

	"github.com/google/uuid"
)

// AgentCall is one hop in a multi-agent delegation chain.
type AgentCall struct {
	AgentID     string    `json:"agent_id"`
	TrustLevel  float64   `json:"trust_level"`
	Instruction string    `json:"instruction"`
	Timestamp   time.Time `json:"timestamp"`
}

// Intent represents a pending action that an agent wants to execute. It is
// the primary structure that flows through the evaluation pipeline: it
// captures everything needed to decide whether an action should be
// allowed, blocked, or escalated.
type Intent struct {
	ActionType       string         `json:"action_type"`
	ToolName         string         `json:"tool_name"`
	Parameters       map[string]any `json:"parameters"`
	AgentID          string         `json:"agent_id"`
	TaskContext      string         `json:"task_context,omitempty"`
	ActionID         string         `json:"action_id"`
	TaskID           string         `json:"task_id,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	EstimatedCost    float64        `json:"estimated_cost"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	InstructionChain []AgentCall    `json:"instruction_chain,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// NewIntent builds an Intent with a generated action_id, a MEDIUM default
// risk level, and a current timestamp, mirroring the defaults of the
// reference dataclass.
func NewIntent(actionType, toolName, agentID string, parameters map[string]any) Intent {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return Intent{
		ActionType: actionType,
		ToolName:   toolName,
		Parameters: parameters,
		AgentID:    agentID,
		ActionID:   uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		RiskLevel:  RiskMedium,
	}
}

// EvaluatorResult is the output of a single evaluator in the pipeline.
type EvaluatorResult struct {
	Verdict         Verdict        `json:"verdict"`
	Reason          string         `json:"reason"`
	Confidence      float64        `json:"confidence"`
	EvaluatorName   string         `json:"evaluator_name"`
	SuggestedAction string         `json:"suggested_action,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ActionResult is the result of executing a guarded action.
type ActionResult struct {
	ActionID   string     `json:"action_id"`
	Success    bool       `json:"success"`
	Output     any        `json:"output,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	RolledBack bool       `json:"rolled_back"`
	AuditEntry AuditEntry `json:"audit_entry"`
	Error      error      `json:"-"`
}

// AuditEntry is the immutable audit record written for every action
// evaluated, regardless of verdict.
type AuditEntry struct {
	ActionID         string            `json:"action_id"`
	AgentID          string            `json:"agent_id"`
	ActionType       string            `json:"action_type"`
	Verdict          Verdict           `json:"verdict"`
	RiskScore        float64           `json:"risk_score"`
	TaskID           string            `json:"task_id,omitempty"`
	PolicyTriggered  string            `json:"policy_triggered,omitempty"`
	EvaluatorResults []EvaluatorResult `json:"evaluator_results,omitempty"`
	InstructionChain []AgentCall       `json:"instruction_chain,omitempty"`
	Parameters       map[string]any    `json:"parameters,omitempty"`
	DurationMs       int64             `json:"duration_ms"`
	Timestamp        time.Time         `json:"timestamp"`
	RolledBack       bool              `json:"rolled_back"`
	Error            string            `json:"error,omitempty"`
}

// AuditFilter holds filter criteria for querying the audit log.
type AuditFilter struct {
	AgentID    string
	TaskID     string
	Verdict    Verdict
	ActionType string
	FromTime   time.Time
	ToTime     time.Time
	Limit      int
}

// RollbackReport summarizes a batch rollback operation (e.g. rolling back
// every action recorded under a task).
type RollbackReport struct {
	TaskID       string   `json:"task_id"`
	TotalActions int      `json:"total_actions"`
	RolledBack   []string `json:"rolled_back"`
	Failed       []string `json:"failed"`
	Skipped      []string `json:"skipped"`
}

// Success reports whether every action in the report was rolled back
// successfully, requiring at least one rollback to have happened.
func (r RollbackReport) Success() bool {
	return len(r.Failed) == 0 && len(r.RolledBack) > 0
}

// GuardMetrics is an aggregate metrics snapshot computed from the audit
// log, independent of the live Prometheus counters in the observability
// package.
type GuardMetrics struct {
	TotalActions     int64
	AllowedActions   int64
	BlockedActions   int64
	EscalatedActions int64
	WarnedActions    int64
	DeferredActions  int64
	Rollbacks        int64
	RollbackFailures int64
	TotalCost        float64
	AvgRiskScore     float64
	AvgDurationMs    float64
	ActionsByAgent   map[string]int64
	ActionsByType    map[string]int64
	VerdictsByPolicy map[string]int64
}
