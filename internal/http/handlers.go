package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"actionguard/internal/core"
	"actionguard/internal/dx"
)

// HealthResponse is the body of health endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ErrorResponse is the body of error responses.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// EvaluateResponse is the body returned by /v1/evaluate.
type EvaluateResponse struct {
	ActionID  string         `json:"action_id"`
	Verdict   core.Verdict   `json:"verdict"`
	Reason    string         `json:"reason"`
	Evaluator string         `json:"evaluator"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// handleHealthz handles the liveness probe.
func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleReadyz handles the readiness probe.
func (r *Router) handleReadyz(w http.ResponseWriter, req *http.Request) {
	checks := map[string]string{
		"pipeline": "ok",
	}
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (r *Router) decodeIntent(w http.ResponseWriter, req *http.Request) (core.Intent, bool) {
	requestID := middleware.GetReqID(req.Context())

	body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		r.writeError(w, http.StatusBadRequest, "failed to read request body", "READ_ERROR", requestID)
		return core.Intent{}, false
	}

	var intent core.Intent
	if err := json.Unmarshal(body, &intent); err != nil {
		r.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "PARSE_ERROR", requestID)
		return core.Intent{}, false
	}

	if intent.ActionType == "" {
		r.writeError(w, http.StatusBadRequest, "action_type is required", "VALIDATION_ERROR", requestID)
		return core.Intent{}, false
	}
	if intent.AgentID == "" {
		r.writeError(w, http.StatusBadRequest, "agent_id is required", "VALIDATION_ERROR", requestID)
		return core.Intent{}, false
	}
	if intent.ActionID == "" {
		filled := core.NewIntent(intent.ActionType, intent.ToolName, intent.AgentID, intent.Parameters)
		filled.TaskID = intent.TaskID
		filled.TaskContext = intent.TaskContext
		filled.EstimatedCost = intent.EstimatedCost
		filled.RiskLevel = intent.RiskLevel
		filled.InstructionChain = intent.InstructionChain
		filled.Metadata = intent.Metadata
		intent = filled
	}
	return intent, true
}

// handleEvaluate runs an intent through the pipeline without executing
// anything: the sidecar's callers enforce the verdict on their side.
func (r *Router) handleEvaluate(w http.ResponseWriter, req *http.Request) {
	intent, ok := r.decodeIntent(w, req)
	if !ok {
		return
	}

	result := r.guard.Evaluate(req.Context(), intent)
	writeJSON(w, http.StatusOK, EvaluateResponse{
		ActionID:  intent.ActionID,
		Verdict:   result.Verdict,
		Reason:    result.Reason,
		Evaluator: result.EvaluatorName,
		Metadata:  result.Metadata,
	})
}

// handleExplain returns the full dry-run explanation for an intent.
func (r *Router) handleExplain(w http.ResponseWriter, req *http.Request) {
	intent, ok := r.decodeIntent(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dx.Explain(r.guard, intent))
}

// handleAuditQuery filters the audit log via query parameters.
func (r *Router) handleAuditQuery(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filter := core.AuditFilter{
		AgentID:    q.Get("agent_id"),
		TaskID:     q.Get("task_id"),
		ActionType: q.Get("action_type"),
		Verdict:    core.Verdict(q.Get("verdict")),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.FromTime = ts
		}
	}
	if v := q.Get("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.ToTime = ts
		}
	}

	writeJSON(w, http.StatusOK, r.guard.AuditEntries(filter))
}

// handleGuardMetrics returns the aggregate metrics snapshot as JSON; the
// Prometheus exposition lives at /metrics.
func (r *Router) handleGuardMetrics(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.guard.Metrics())
}

// handleRollbackAction reverses one action.
func (r *Router) handleRollbackAction(w http.ResponseWriter, req *http.Request) {
	actionID := chi.URLParam(req, "action_id")
	ok := r.guard.Rollback(actionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"action_id":   actionID,
		"rolled_back": ok,
	})
}

// handleRollbackTask reverses every recorded action of a task.
func (r *Router) handleRollbackTask(w http.ResponseWriter, req *http.Request) {
	taskID := chi.URLParam(req, "task_id")
	writeJSON(w, http.StatusOK, r.guard.RollbackTask(taskID))
}

// writeError writes an error response.
func (r *Router) writeError(w http.ResponseWriter, status int, message, code, requestID string) {
	resp := ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestID,
	}
	writeJSON(w, status, resp)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
