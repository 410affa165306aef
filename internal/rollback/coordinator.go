package rollback

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"actionguard/internal/core"
)

// Coordinator orchestrates rollback across actions, agents, and tasks.
// It keeps an ordered in-memory log of executed actions (audit entries
// handed over by the guard after execution) and restores snapshots in
// reverse chronological order.
type Coordinator struct {
	registry *Registry
	manager  *Manager
	budgeter Recrediter
	logger   *zap.Logger

	mu  sync.Mutex
	log []core.AuditEntry
}

// Recrediter reverses a rolled-back action's budget debit. Satisfied by
// the global budgeter; nil disables recrediting.
type Recrediter interface {
	Recredit(actionID string) float64
}

func NewCoordinator(registry *Registry, manager *Manager, budgeter Recrediter, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		registry: registry,
		manager:  manager,
		budgeter: budgeter,
		logger:   logger,
	}
}

// RecordAction logs an executed action for potential future rollback.
func (c *Coordinator) RecordAction(entry core.AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, entry)
}

// RollbackAction rolls back a single action. Missing snapshots, missing
// handlers, and handler errors all come back as false; rollback is a
// best-effort operation that never raises.
func (c *Coordinator) RollbackAction(actionID string) bool {
	snapshot, err := c.manager.Get(actionID)
	if err != nil {
		c.logger.Warn("no snapshot for action", zap.String("action_id", actionID))
		return false
	}

	handler, err := c.registry.HandlerFor(snapshot.ActionType)
	if err != nil {
		c.logger.Warn("no rollback handler for action type",
			zap.String("action_id", actionID),
			zap.String("action_type", snapshot.ActionType),
		)
		return false
	}

	ok, err := handler.Restore(snapshot)
	if err != nil {
		c.logger.Error("rollback handler error",
			zap.String("action_id", actionID),
			zap.Error(err),
		)
		return false
	}
	if !ok {
		c.logger.Error("rollback failed", zap.String("action_id", actionID))
		return false
	}

	c.manager.MarkRestored(actionID)
	c.manager.Remove(actionID)
	c.markRolledBack(actionID)
	if c.budgeter != nil {
		c.budgeter.Recredit(actionID)
	}
	c.logger.Info("rolled back action", zap.String("action_id", actionID))
	return true
}

// RollbackLast rolls back the most recent n actions, optionally filtered
// to one agent, returning a boolean per attempt.
func (c *Coordinator) RollbackLast(n int, agentID string) []bool {
	c.mu.Lock()
	var targets []core.AuditEntry
	for i := len(c.log) - 1; i >= 0 && len(targets) < n; i-- {
		entry := c.log[i]
		if agentID != "" && entry.AgentID != agentID {
			continue
		}
		if entry.RolledBack {
			continue
		}
		targets = append(targets, entry)
	}
	c.mu.Unlock()

	results := make([]bool, 0, len(targets))
	for _, entry := range targets {
		results = append(results, c.RollbackAction(entry.ActionID))
	}
	return results
}

// RollbackTask rolls back every action recorded for a task, most recent
// first. Already-rolled-back entries and entries without a handler are
// skipped; failed attempts are reported per action.
func (c *Coordinator) RollbackTask(taskID string) core.RollbackReport {
	c.mu.Lock()
	var entries []core.AuditEntry
	for _, entry := range c.log {
		if entry.TaskID == taskID {
			entries = append(entries, entry)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	report := core.RollbackReport{TaskID: taskID, TotalActions: len(entries)}
	for _, entry := range entries {
		if entry.RolledBack {
			report.Skipped = append(report.Skipped, entry.ActionID)
			continue
		}
		if !c.registry.HasHandler(entry.ActionType) {
			report.Skipped = append(report.Skipped, entry.ActionID)
			continue
		}
		if c.RollbackAction(entry.ActionID) {
			report.RolledBack = append(report.RolledBack, entry.ActionID)
		} else {
			report.Failed = append(report.Failed, entry.ActionID)
		}
	}
	return report
}

// IsRolledBack reports the rolled_back flag of a logged action.
func (c *Coordinator) IsRolledBack(actionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.log) - 1; i >= 0; i-- {
		if c.log[i].ActionID == actionID {
			return c.log[i].RolledBack
		}
	}
	return false
}

// ActionLog returns a copy of the recorded action entries, oldest first.
func (c *Coordinator) ActionLog() []core.AuditEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.AuditEntry, len(c.log))
	copy(out, c.log)
	return out
}

// ClearLog wipes the action log.
func (c *Coordinator) ClearLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = nil
}

// markRolledBack flips rolled_back on the logged entry. The transition
// happens at most once per action, under the coordinator's lock.
func (c *Coordinator) markRolledBack(actionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.log {
		if c.log[i].ActionID == actionID {
			c.log[i].RolledBack = true
			return
		}
	}
}
