package evaluators

import (
	"context"
	"fmt"
	"sync"

	"actionguard/internal/core"
)

// CostEstimator tracks running spend per agent and per task and blocks an
// action that would push either past its budget. It is distinct from the
// cross-agent budget ledger in internal/multiagent: this evaluator only
// ever sees the intent currently in the pipeline and its own running
// totals, with no visibility into delegation chains.
type CostEstimator struct {
	mu sync.Mutex

	agentBudget         float64
	taskBudget          float64
	escalationThreshold float64

	agentSpend map[string]float64
	taskSpend  map[string]float64
}

// NewCostEstimator mirrors the reference estimator's defaults: a $1.00
// per-agent budget, a $5.00 per-task budget, and a $0.50 single-action
// escalation threshold.
func NewCostEstimator() *CostEstimator {
	return &CostEstimator{
		agentBudget:         1.00,
		taskBudget:          5.00,
		escalationThreshold: 0.50,
		agentSpend:          make(map[string]float64),
		taskSpend:           make(map[string]float64),
	}
}

// WithBudgets overrides the default budgets and escalation threshold.
func (c *CostEstimator) WithBudgets(agentBudget, taskBudget, escalationThreshold float64) *CostEstimator {
	c.agentBudget = agentBudget
	c.taskBudget = taskBudget
	c.escalationThreshold = escalationThreshold
	return c
}

func (c *CostEstimator) Name() string  { return "cost_estimator" }
func (c *CostEstimator) Enabled() bool { return true }
func (c *CostEstimator) Priority() int { return 50 }

func (c *CostEstimator) Evaluate(_ context.Context, intent core.Intent) (core.EvaluatorResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agentTotal := c.agentSpend[intent.AgentID] + intent.EstimatedCost
	taskTotal := c.taskSpend[intent.TaskID] + intent.EstimatedCost

	if agentTotal > c.agentBudget {
		return core.EvaluatorResult{
			Verdict:       core.VerdictBlock,
			Reason:        fmt.Sprintf("Action would bring agent spend to %.2f, exceeding the %.2f budget", agentTotal, c.agentBudget),
			Confidence:    1.0,
			EvaluatorName: c.Name(),
			Metadata:      map[string]any{"agent_spend": c.agentSpend[intent.AgentID], "agent_budget": c.agentBudget},
		}, nil
	}
	if intent.TaskID != "" && taskTotal > c.taskBudget {
		return core.EvaluatorResult{
			Verdict:       core.VerdictBlock,
			Reason:        fmt.Sprintf("Action would bring task spend to %.2f, exceeding the %.2f budget", taskTotal, c.taskBudget),
			Confidence:    1.0,
			EvaluatorName: c.Name(),
			Metadata:      map[string]any{"task_spend": c.taskSpend[intent.TaskID], "task_budget": c.taskBudget},
		}, nil
	}
	if c.escalationThreshold > 0 && intent.EstimatedCost > c.escalationThreshold {
		return core.EvaluatorResult{
			Verdict:       core.VerdictEscalate,
			Reason:        fmt.Sprintf("Single action cost %.2f exceeds the escalation threshold of %.2f", intent.EstimatedCost, c.escalationThreshold),
			Confidence:    1.0,
			EvaluatorName: c.Name(),
		}, nil
	}

	return core.EvaluatorResult{
		Verdict:       core.VerdictAllow,
		Reason:        "Within cost budget",
		Confidence:    1.0,
		EvaluatorName: c.Name(),
	}, nil
}

// RecordCost commits an action's actual cost to the running totals. The
// guard facade does not call it (it records spend on the global budgeter
// in internal/multiagent); it serves standalone use of the estimator.
func (c *CostEstimator) RecordCost(agentID, taskID string, cost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentSpend[agentID] += cost
	if taskID != "" {
		c.taskSpend[taskID] += cost
	}
}

func (c *CostEstimator) GetAgentSpend(agentID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentSpend[agentID]
}

func (c *CostEstimator) GetTaskSpend(taskID string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskSpend[taskID]
}

// Reset clears all recorded spend.
func (c *CostEstimator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentSpend = make(map[string]float64)
	c.taskSpend = make(map[string]float64)
}
