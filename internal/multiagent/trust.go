// Package multiagent holds the shared state consulted by the guard when
// multiple agents act on the same system: the trust ledger, the global
// budget manager, and the cascade controller.
package multiagent

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"actionguard/internal/core"
)

// ErrAgentNotRegistered is returned by TrustLedger.Get when the agent is
// unknown and the ledger is configured to block unknown agents.
var ErrAgentNotRegistered = errors.New("agent not registered")

// AgentProfile is the ledger's record for a single agent. Counters are
// only mutated while holding the ledger's lock.
type AgentProfile struct {
	AgentID          string          `json:"agent_id"`
	TrustLevel       core.TrustLevel `json:"trust_level"`
	TrustScore       float64         `json:"trust_score"`
	CanDelegateTo    []string        `json:"can_delegate_to,omitempty"`
	MaxActionsPerRun int             `json:"max_actions_per_run"`
	ActionCount      int             `json:"action_count"`
	ErrorCount       int             `json:"error_count"`
	ViolationCount   int             `json:"violation_count"`
}

// ErrorRate returns the fraction of recorded actions that failed.
func (p AgentProfile) ErrorRate() float64 {
	if p.ActionCount == 0 {
		return 0.0
	}
	return float64(p.ErrorCount) / float64(p.ActionCount)
}

// TrustStore is an optional durable backing store for agent profiles. The
// ledger writes through to it on every profile change and reads from it
// only when an agent is missing from memory.
type TrustStore interface {
	PutProfile(profile AgentProfile) error
	GetProfile(agentID string) (AgentProfile, bool, error)
	DeleteAll() error
}

// TrustLedger is the registry of agent identities and trust levels.
type TrustLedger struct {
	mu           sync.Mutex
	agents       map[string]*AgentProfile
	blockUnknown bool
	store        TrustStore
	logger       *zap.Logger
}

// NewTrustLedger creates an in-memory trust ledger. With blockUnknown set,
// Get returns ErrAgentNotRegistered for unregistered agents; otherwise a
// synthetic UNKNOWN profile is returned.
func NewTrustLedger(blockUnknown bool, logger *zap.Logger) *TrustLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrustLedger{
		agents:       make(map[string]*AgentProfile),
		blockUnknown: blockUnknown,
		logger:       logger,
	}
}

// WithStore attaches a durable backing store. Profiles already in memory
// are not flushed; subsequent writes go through.
func (l *TrustLedger) WithStore(store TrustStore) *TrustLedger {
	l.store = store
	return l
}

// Register adds or replaces an agent profile. The trust score starts at
// the level's canonical score.
func (l *TrustLedger) Register(agentID string, level core.TrustLevel, canDelegateTo []string, maxActionsPerRun int) AgentProfile {
	if maxActionsPerRun <= 0 {
		maxActionsPerRun = 100
	}
	profile := &AgentProfile{
		AgentID:          agentID,
		TrustLevel:       level,
		TrustScore:       level.Score(),
		CanDelegateTo:    append([]string(nil), canDelegateTo...),
		MaxActionsPerRun: maxActionsPerRun,
	}

	l.mu.Lock()
	l.agents[agentID] = profile
	snapshot := *profile
	l.mu.Unlock()

	l.persist(snapshot)
	l.logger.Info("registered agent",
		zap.String("agent_id", agentID),
		zap.String("trust_level", string(level)),
	)
	return snapshot
}

// Get returns a copy of the agent's profile. Unknown agents either error
// (blockUnknown) or get a synthetic UNKNOWN profile.
func (l *TrustLedger) Get(agentID string) (AgentProfile, error) {
	l.mu.Lock()
	if p, ok := l.agents[agentID]; ok {
		snapshot := *p
		l.mu.Unlock()
		return snapshot, nil
	}
	l.mu.Unlock()

	if l.store != nil {
		if p, ok, err := l.store.GetProfile(agentID); err == nil && ok {
			l.mu.Lock()
			stored := p
			l.agents[agentID] = &stored
			l.mu.Unlock()
			return p, nil
		}
	}

	if l.blockUnknown {
		return AgentProfile{}, fmt.Errorf("%w: %q", ErrAgentNotRegistered, agentID)
	}
	return AgentProfile{
		AgentID:    agentID,
		TrustLevel: core.TrustUnknown,
		TrustScore: core.TrustUnknown.Score(),
	}, nil
}

// IsRegistered reports whether the agent exists in the ledger.
func (l *TrustLedger) IsRegistered(agentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.agents[agentID]
	return ok
}

// RecordAction increments the agent's action counter, and the error
// counter when the action failed. Unregistered agents are ignored.
func (l *TrustLedger) RecordAction(agentID string, success bool) {
	l.mu.Lock()
	p, ok := l.agents[agentID]
	if !ok {
		l.mu.Unlock()
		return
	}
	p.ActionCount++
	if !success {
		p.ErrorCount++
	}
	snapshot := *p
	l.mu.Unlock()

	l.persist(snapshot)
}

// RecordViolation increments the violation counter and docks the trust
// score by 0.05, clamped at zero.
func (l *TrustLedger) RecordViolation(agentID string) {
	l.mu.Lock()
	p, ok := l.agents[agentID]
	if !ok {
		l.mu.Unlock()
		return
	}
	p.ViolationCount++
	p.TrustScore = clamp01(p.TrustScore - 0.05)
	snapshot := *p
	l.mu.Unlock()

	l.persist(snapshot)
}

// UpdateTrustScore adjusts the agent's trust score by delta, clamped to
// [0,1], and returns the new score.
func (l *TrustLedger) UpdateTrustScore(agentID string, delta float64) (float64, error) {
	l.mu.Lock()
	p, ok := l.agents[agentID]
	if !ok {
		l.mu.Unlock()
		if l.blockUnknown {
			return 0, fmt.Errorf("%w: %q", ErrAgentNotRegistered, agentID)
		}
		return 0, nil
	}
	p.TrustScore = clamp01(p.TrustScore + delta)
	score := p.TrustScore
	snapshot := *p
	l.mu.Unlock()

	l.persist(snapshot)
	return score, nil
}

// CanDelegate reports whether from may delegate to to. An empty
// can_delegate_to list means no restriction.
func (l *TrustLedger) CanDelegate(fromID, toID string) bool {
	p, err := l.Get(fromID)
	if err != nil {
		return false
	}
	if len(p.CanDelegateTo) == 0 {
		return true
	}
	for _, id := range p.CanDelegateTo {
		if id == toID {
			return true
		}
	}
	return false
}

// HasActionsRemaining reports whether the agent is still under its
// per-run action limit.
func (l *TrustLedger) HasActionsRemaining(agentID string) bool {
	p, err := l.Get(agentID)
	if err != nil {
		return false
	}
	if p.MaxActionsPerRun == 0 {
		return true
	}
	return p.ActionCount < p.MaxActionsPerRun
}

// ListAgents returns copies of every registered profile.
func (l *TrustLedger) ListAgents() []AgentProfile {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AgentProfile, 0, len(l.agents))
	for _, p := range l.agents {
		out = append(out, *p)
	}
	return out
}

// Clear removes every registered agent.
func (l *TrustLedger) Clear() {
	l.mu.Lock()
	l.agents = make(map[string]*AgentProfile)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.DeleteAll(); err != nil {
			l.logger.Error("failed to clear trust store", zap.Error(err))
		}
	}
}

func (l *TrustLedger) persist(p AgentProfile) {
	if l.store == nil {
		return
	}
	if err := l.store.PutProfile(p); err != nil {
		l.logger.Error("failed to persist agent profile",
			zap.String("agent_id", p.AgentID),
			zap.Error(err),
		)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func trustLevelFromString(s string) core.TrustLevel {
	switch core.TrustLevel(s) {
	case core.TrustHuman, core.TrustOrchestrator, core.TrustPeer, core.TrustSubAgent:
		return core.TrustLevel(s)
	default:
		return core.TrustUnknown
	}
}

// BucketTrustLevel converts a numeric trust level from configuration into
// the coarse TrustLevel enum.
func BucketTrustLevel(v float64) core.TrustLevel {
	switch {
	case v >= 0.9:
		return core.TrustHuman
	case v >= 0.7:
		return core.TrustOrchestrator
	case v >= 0.4:
		return core.TrustPeer
	case v > 0.0:
		return core.TrustSubAgent
	default:
		return core.TrustUnknown
	}
}
