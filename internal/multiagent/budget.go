package multiagent

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"actionguard/internal/core"
)

type actionCost struct {
	taskID  string
	agentID string
	cost    float64
}

// GlobalBudgeter tracks cumulative spend per task across all agents and
// per agent across the run. It catches individual overspend, per-task
// overspend, and budget gaming — many cheap sub-agents collectively
// draining a task's budget.
type GlobalBudgeter struct {
	perTaskBudget     float64
	perAgentPerRun    float64
	escalateThreshold float64
	currency          string
	logger            *zap.Logger

	mu          sync.Mutex
	taskSpend   map[string]float64
	agentSpend  map[string]float64
	taskAgents  map[string]map[string]struct{}
	actionCosts map[string]actionCost
}

// NewGlobalBudgeter creates a budgeter with the given limits. A zero
// escalateThreshold disables single-action escalation.
func NewGlobalBudgeter(perTaskBudget, perAgentPerRun, escalateThreshold float64, currency string, logger *zap.Logger) *GlobalBudgeter {
	if currency == "" {
		currency = "USD"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GlobalBudgeter{
		perTaskBudget:     perTaskBudget,
		perAgentPerRun:    perAgentPerRun,
		escalateThreshold: escalateThreshold,
		currency:          currency,
		logger:            logger,
		taskSpend:         make(map[string]float64),
		agentSpend:        make(map[string]float64),
		taskAgents:        make(map[string]map[string]struct{}),
		actionCosts:       make(map[string]actionCost),
	}
}

// Check projects the intent's cost onto the current ledgers and returns a
// blocking or escalating result when a limit would be crossed, or nil
// when the action fits. Check never mutates the ledgers: spend is only
// recorded after successful execution via RecordCost.
func (b *GlobalBudgeter) Check(intent core.Intent) *core.EvaluatorResult {
	cost := intent.EstimatedCost

	b.mu.Lock()
	defer b.mu.Unlock()

	agentProjected := b.agentSpend[intent.AgentID] + cost
	if agentProjected > b.perAgentPerRun {
		return &core.EvaluatorResult{
			Verdict: core.VerdictBlock,
			Reason: fmt.Sprintf("Agent %q budget exceeded: %s %.2f > %s %.2f",
				intent.AgentID, b.currency, agentProjected, b.currency, b.perAgentPerRun),
			Confidence:    1.0,
			EvaluatorName: "global_budgeter",
			Metadata: map[string]any{
				"agent_spend":  b.agentSpend[intent.AgentID],
				"agent_budget": b.perAgentPerRun,
				"currency":     b.currency,
			},
		}
	}

	if intent.TaskID != "" {
		taskProjected := b.taskSpend[intent.TaskID] + cost
		if taskProjected > b.perTaskBudget {
			return &core.EvaluatorResult{
				Verdict: core.VerdictBlock,
				Reason: fmt.Sprintf("Task %q budget exceeded: %s %.2f > %s %.2f",
					intent.TaskID, b.currency, taskProjected, b.currency, b.perTaskBudget),
				Confidence:    1.0,
				EvaluatorName: "global_budgeter",
				Metadata: map[string]any{
					"task_spend":  b.taskSpend[intent.TaskID],
					"task_budget": b.perTaskBudget,
					"currency":    b.currency,
				},
			}
		}

		if numAgents := len(b.taskAgents[intent.TaskID]); numAgents > 3 && taskProjected > b.perTaskBudget*0.8 {
			return &core.EvaluatorResult{
				Verdict: core.VerdictEscalate,
				Reason: fmt.Sprintf("Potential budget gaming: %d agents on task %q approaching budget limit (%s %.2f)",
					numAgents, intent.TaskID, b.currency, taskProjected),
				Confidence:    0.8,
				EvaluatorName: "global_budgeter",
				Metadata: map[string]any{
					"task_agents": numAgents,
					"task_spend":  b.taskSpend[intent.TaskID],
				},
			}
		}
	}

	if b.escalateThreshold > 0 && cost > b.escalateThreshold {
		return &core.EvaluatorResult{
			Verdict: core.VerdictEscalate,
			Reason: fmt.Sprintf("Single action cost %s %.2f exceeds the escalation threshold %s %.2f",
				b.currency, cost, b.currency, b.escalateThreshold),
			Confidence:    0.9,
			EvaluatorName: "global_budgeter",
			Metadata: map[string]any{
				"estimated_cost":     cost,
				"escalate_threshold": b.escalateThreshold,
			},
		}
	}

	return nil
}

// RecordCost debits the ledgers after successful execution and records
// the per-action cost so a later rollback can recredit it.
func (b *GlobalBudgeter) RecordCost(agentID, taskID, actionID string, cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.agentSpend[agentID] += cost
	if taskID != "" {
		b.taskSpend[taskID] += cost
		agents, ok := b.taskAgents[taskID]
		if !ok {
			agents = make(map[string]struct{})
			b.taskAgents[taskID] = agents
		}
		agents[agentID] = struct{}{}
	}
	if actionID != "" {
		b.actionCosts[actionID] = actionCost{taskID: taskID, agentID: agentID, cost: cost}
	}
}

// Recredit reverses a rolled-back action's cost on both ledgers, clamped
// at zero, and returns the recredited amount. Unknown action IDs
// recredit nothing.
func (b *GlobalBudgeter) Recredit(actionID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.actionCosts[actionID]
	if !ok {
		return 0
	}
	delete(b.actionCosts, actionID)

	b.agentSpend[rec.agentID] = maxf(0, b.agentSpend[rec.agentID]-rec.cost)
	if rec.taskID != "" {
		b.taskSpend[rec.taskID] = maxf(0, b.taskSpend[rec.taskID]-rec.cost)
	}

	b.logger.Info("recredited budget",
		zap.String("action_id", actionID),
		zap.String("agent_id", rec.agentID),
		zap.String("task_id", rec.taskID),
		zap.Float64("amount", rec.cost),
	)
	return rec.cost
}

// GetTaskSpend returns total spend for a task across all agents.
func (b *GlobalBudgeter) GetTaskSpend(taskID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.taskSpend[taskID]
}

// GetAgentSpend returns total spend for an agent in the current run.
func (b *GlobalBudgeter) GetAgentSpend(agentID string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.agentSpend[agentID]
}

// GetTaskAgentCount returns the number of distinct agents that have
// contributed spend to a task.
func (b *GlobalBudgeter) GetTaskAgentCount(taskID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.taskAgents[taskID])
}

// Reset wipes all budget tracking.
func (b *GlobalBudgeter) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taskSpend = make(map[string]float64)
	b.agentSpend = make(map[string]float64)
	b.taskAgents = make(map[string]map[string]struct{})
	b.actionCosts = make(map[string]actionCost)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
