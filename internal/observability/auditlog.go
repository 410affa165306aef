// Package observability provides the audit log, its exporters, and the
// Prometheus metrics surface.
package observability

import (
	"sync"

	"go.uber.org/zap"

	"actionguard/internal/core"
)

// AuditLog is a bounded, append-only in-memory log of every evaluated
// action. When the bound is reached the oldest entries are evicted FIFO.
// Entries are fanned out to exporters outside the log's lock, against an
// immutable copy, so a slow exporter cannot stall appenders.
type AuditLog struct {
	mu         sync.Mutex
	entries    []core.AuditEntry
	maxEntries int

	exporters *ExporterSet
	logger    *zap.Logger
}

func NewAuditLog(maxEntries int, exporters *ExporterSet, logger *zap.Logger) *AuditLog {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if exporters == nil {
		exporters = NewExporterSet(logger)
	}
	return &AuditLog{
		maxEntries: maxEntries,
		exporters:  exporters,
		logger:     logger,
	}
}

// Append records an entry and forwards it to every exporter.
func (l *AuditLog) Append(entry core.AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
	l.mu.Unlock()

	l.exporters.Export(entry)
}

// MarkRolledBack flips the rolled_back flag on the logged entry for an
// action, returning whether an entry was found.
func (l *AuditLog) MarkRolledBack(actionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ActionID == actionID {
			l.entries[i].RolledBack = true
			return true
		}
	}
	return false
}

// Query returns entries matching the filter, oldest first. Filter fields
// combine with AND; the zero filter matches everything.
func (l *AuditLog) Query(filter core.AuditFilter) []core.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []core.AuditEntry
	for _, entry := range l.entries {
		if filter.AgentID != "" && entry.AgentID != filter.AgentID {
			continue
		}
		if filter.TaskID != "" && entry.TaskID != filter.TaskID {
			continue
		}
		if filter.Verdict != "" && entry.Verdict != filter.Verdict {
			continue
		}
		if filter.ActionType != "" && entry.ActionType != filter.ActionType {
			continue
		}
		if !filter.FromTime.IsZero() && entry.Timestamp.Before(filter.FromTime) {
			continue
		}
		if !filter.ToTime.IsZero() && entry.Timestamp.After(filter.ToTime) {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Len returns the number of retained entries.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear wipes the log.
func (l *AuditLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Metrics folds the retained entries into an aggregate snapshot. The
// rollback and cost counters live outside the log (they survive entry
// eviction) and are supplied by the caller via the Counters argument.
func (l *AuditLog) Metrics(counters Counters) core.GuardMetrics {
	l.mu.Lock()
	entries := make([]core.AuditEntry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()

	m := core.GuardMetrics{
		Rollbacks:        counters.Rollbacks,
		RollbackFailures: counters.RollbackFailures,
		TotalCost:        counters.TotalCost,
		ActionsByAgent:   make(map[string]int64),
		ActionsByType:    make(map[string]int64),
		VerdictsByPolicy: make(map[string]int64),
	}
	if len(entries) == 0 {
		return m
	}

	var riskSum float64
	var durationSum int64
	for _, e := range entries {
		m.TotalActions++
		riskSum += e.RiskScore
		durationSum += e.DurationMs

		switch e.Verdict {
		case core.VerdictAllow:
			m.AllowedActions++
		case core.VerdictBlock:
			m.BlockedActions++
		case core.VerdictEscalate:
			m.EscalatedActions++
		case core.VerdictWarn:
			m.WarnedActions++
		case core.VerdictDefer:
			m.DeferredActions++
		}

		m.ActionsByAgent[e.AgentID]++
		m.ActionsByType[e.ActionType]++
		if e.PolicyTriggered != "" {
			m.VerdictsByPolicy[e.PolicyTriggered]++
		}
	}

	m.AvgRiskScore = riskSum / float64(len(entries))
	m.AvgDurationMs = float64(durationSum) / float64(len(entries))
	return m
}

// Counters are the cumulative tallies maintained outside the audit ring.
type Counters struct {
	Rollbacks        int64
	RollbackFailures int64
	TotalCost        float64
}
