package multiagent

import (
	"time"

	"actionguard/internal/core"
)

// AppendCall returns a new chain with the hop appended, leaving the input
// chain untouched. Chains are treated as immutable provenance records.
func AppendCall(chain []core.AgentCall, agentID string, trustLevel float64, instruction string) []core.AgentCall {
	out := make([]core.AgentCall, len(chain), len(chain)+1)
	copy(out, chain)
	return append(out, core.AgentCall{
		AgentID:     agentID,
		TrustLevel:  trustLevel,
		Instruction: instruction,
		Timestamp:   time.Now().UTC(),
	})
}

// ChainDepth returns the number of delegation hops.
func ChainDepth(chain []core.AgentCall) int { return len(chain) }

// Orchestrator returns the outermost hop of the chain, when present.
func Orchestrator(chain []core.AgentCall) (core.AgentCall, bool) {
	if len(chain) == 0 {
		return core.AgentCall{}, false
	}
	return chain[0], true
}

// ChainAgentIDs returns the agent IDs of every hop, in order.
func ChainAgentIDs(chain []core.AgentCall) []string {
	ids := make([]string, len(chain))
	for i, ac := range chain {
		ids[i] = ac.AgentID
	}
	return ids
}

// EffectiveTrust is the minimum trust level along the chain: the weakest
// link governs. An empty chain has full trust.
func EffectiveTrust(chain []core.AgentCall) float64 {
	if len(chain) == 0 {
		return 1.0
	}
	min := chain[0].TrustLevel
	for _, ac := range chain[1:] {
		if ac.TrustLevel < min {
			min = ac.TrustLevel
		}
	}
	return min
}

// HasCycle reports whether any agent appears more than once in the chain.
func HasCycle(chain []core.AgentCall) bool {
	seen := make(map[string]struct{}, len(chain))
	for _, ac := range chain {
		if _, ok := seen[ac.AgentID]; ok {
			return true
		}
		seen[ac.AgentID] = struct{}{}
	}
	return false
}
