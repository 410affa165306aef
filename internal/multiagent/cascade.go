package multiagent

import (
	"fmt"
	"sync"

	"actionguard/internal/core"
)

// CascadeController enforces delegation safety limits: chain depth,
// cycle detection, and per-orchestrator concurrent delegation caps.
type CascadeController struct {
	maxDepth      int
	maxConcurrent int

	mu     sync.Mutex
	active map[string]int
}

func NewCascadeController(maxDelegationDepth, maxConcurrentDelegations int) *CascadeController {
	if maxDelegationDepth <= 0 {
		maxDelegationDepth = 4
	}
	if maxConcurrentDelegations <= 0 {
		maxConcurrentDelegations = 10
	}
	return &CascadeController{
		maxDepth:      maxDelegationDepth,
		maxConcurrent: maxConcurrentDelegations,
		active:        make(map[string]int),
	}
}

// Check runs the three cascade checks in order: depth, cycles, concurrent
// delegations. Returns nil when all pass.
func (c *CascadeController) Check(intent core.Intent) *core.EvaluatorResult {
	chain := intent.InstructionChain

	if len(chain) > c.maxDepth {
		return &core.EvaluatorResult{
			Verdict:       core.VerdictBlock,
			Reason:        fmt.Sprintf("Delegation depth %d exceeds maximum %d", len(chain), c.maxDepth),
			Confidence:    1.0,
			EvaluatorName: "cascade_controller",
			Metadata: map[string]any{
				"depth":     len(chain),
				"max_depth": c.maxDepth,
			},
		}
	}

	agentIDs := ChainAgentIDs(chain)
	for _, id := range agentIDs {
		if id == intent.AgentID {
			return &core.EvaluatorResult{
				Verdict:       core.VerdictBlock,
				Reason:        fmt.Sprintf("Cycle detected: agent %q appears multiple times in delegation chain", intent.AgentID),
				Confidence:    1.0,
				EvaluatorName: "cascade_controller",
				Metadata: map[string]any{
					"agent_id": intent.AgentID,
					"chain":    agentIDs,
				},
			}
		}
	}

	if dups := duplicateIDs(agentIDs); len(dups) > 0 {
		return &core.EvaluatorResult{
			Verdict:       core.VerdictBlock,
			Reason:        fmt.Sprintf("Cycle detected: agents %v appear multiple times in delegation chain", dups),
			Confidence:    1.0,
			EvaluatorName: "cascade_controller",
			Metadata:      map[string]any{"duplicates": dups},
		}
	}

	if orch, ok := Orchestrator(chain); ok {
		c.mu.Lock()
		active := c.active[orch.AgentID]
		c.mu.Unlock()
		if active >= c.maxConcurrent {
			return &core.EvaluatorResult{
				Verdict: core.VerdictBlock,
				Reason: fmt.Sprintf("Orchestrator %q has %d concurrent delegations (max: %d)",
					orch.AgentID, active, c.maxConcurrent),
				Confidence:    1.0,
				EvaluatorName: "cascade_controller",
				Metadata: map[string]any{
					"orchestrator_id": orch.AgentID,
					"active":          active,
					"max":             c.maxConcurrent,
				},
			}
		}
	}

	return nil
}

// RecordDelegationStart increments the active-delegation counter for an
// orchestrator. Callers pair it with RecordDelegationEnd around the
// delegated work.
func (c *CascadeController) RecordDelegationStart(orchestratorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[orchestratorID]++
}

// RecordDelegationEnd decrements the active-delegation counter, never
// going below zero.
func (c *CascadeController) RecordDelegationEnd(orchestratorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[orchestratorID] > 0 {
		c.active[orchestratorID]--
	}
}

// ActiveCount returns the current active delegations for an orchestrator.
func (c *CascadeController) ActiveCount(orchestratorID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[orchestratorID]
}

// Reset clears all delegation counters.
func (c *CascadeController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = make(map[string]int)
}

func duplicateIDs(ids []string) []string {
	seen := make(map[string]int, len(ids))
	for _, id := range ids {
		seen[id]++
	}
	var dups []string
	for _, id := range ids {
		if seen[id] > 1 {
			dups = append(dups, id)
			seen[id] = 0
		}
	}
	return dups
}
