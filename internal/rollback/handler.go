// Package rollback captures pre-execution state snapshots and restores
// them when a guarded action needs to be reversed.
package rollback

import (
	"errors"
	"path"
	"sync"
	"time"

	"actionguard/internal/core"
)

// ErrHandlerNotFound is returned when no registered handler matches an
// action type.
var ErrHandlerNotFound = errors.New("no rollback handler registered for action type")

// ErrSnapshotNotFound is returned when a snapshot cannot be located in
// either the cache or the backing store.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is the captured pre-execution state for one action. The state
// map is opaque to the coordinator; only the handler that produced it
// interprets it.
type Snapshot struct {
	ActionID   string         `json:"action_id"`
	ActionType string         `json:"action_type"`
	CapturedAt time.Time      `json:"captured_at"`
	State      map[string]any `json:"state"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewSnapshot builds a snapshot stamped with the current UTC time.
func NewSnapshot(actionID, actionType string, state map[string]any) Snapshot {
	if state == nil {
		state = map[string]any{}
	}
	return Snapshot{
		ActionID:   actionID,
		ActionType: actionType,
		CapturedAt: time.Now().UTC(),
		State:      state,
		Metadata:   map[string]any{},
	}
}

// Handler reverses one family of side effects. Capture runs before the
// guarded operation; Restore undoes it from the captured state. Restore
// reports success rather than erroring: the coordinator treats any
// returned error as a failed rollback attempt.
type Handler interface {
	ActionTypes() []string
	Capture(intent core.Intent) (Snapshot, error)
	Restore(snapshot Snapshot) (bool, error)
}

// CanHandle reports whether any of the handler's action-type globs match.
func CanHandle(h Handler, actionType string) bool {
	for _, pattern := range h.ActionTypes() {
		if pattern == "*" {
			return true
		}
		if ok, _ := path.Match(pattern, actionType); ok {
			return true
		}
	}
	return false
}

// Registry maps action types to rollback handlers. Glob-pattern handlers
// are consulted in registration order; exact-type custom handlers take
// precedence over them.
type Registry struct {
	mu       sync.RWMutex
	handlers []Handler
	custom   map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{custom: make(map[string]Handler)}
}

// Register appends a glob-pattern handler. First match wins on lookup.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// RegisterForType binds a handler to one exact action type, checked
// before any glob handler.
func (r *Registry) RegisterForType(actionType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[actionType] = h
}

// HandlerFor returns the handler for an action type, or
// ErrHandlerNotFound.
func (r *Registry) HandlerFor(actionType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.custom[actionType]; ok {
		return h, nil
	}
	for _, h := range r.handlers {
		if CanHandle(h, actionType) {
			return h, nil
		}
	}
	return nil, ErrHandlerNotFound
}

// HasHandler reports whether any handler matches the action type.
func (r *Registry) HasHandler(actionType string) bool {
	_, err := r.HandlerFor(actionType)
	return err == nil
}

// Handlers returns the registered glob handlers in order.
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handler, len(r.handlers))
	copy(out, r.handlers)
	return out
}

// Clear removes every registered handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = nil
	r.custom = make(map[string]Handler)
}
