package guard

import (
	"context"

	"actionguard/internal/core"
)

type sessionKey struct{}

// Session carries the agent and task identity stamped on every intent
// executed within a context region. The values on each Intent remain
// authoritative; the session only fills blanks.
type Session struct {
	AgentID string
	TaskID  string
}

// WithSession returns a context that stamps the given agent and task on
// intents whose own fields are empty. Nesting restores naturally when
// the inner context goes out of scope.
func WithSession(ctx context.Context, agentID, taskID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, Session{AgentID: agentID, TaskID: taskID})
}

// SessionFrom extracts the session from a context, if any.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}

func (g *Guard) applySession(ctx context.Context, intent core.Intent) core.Intent {
	s, ok := SessionFrom(ctx)
	if !ok {
		return intent
	}
	if intent.AgentID == "" {
		intent.AgentID = s.AgentID
	}
	if intent.TaskID == "" {
		intent.TaskID = s.TaskID
	}
	return intent
}
