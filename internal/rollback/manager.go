package rollback

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"actionguard/internal/core"
)

// Manager owns snapshot capture and retrieval: an in-memory LRU over the
// durable SnapshotStore. Lock order is always LRU first, then store.
type Manager struct {
	registry *Registry
	store    *SnapshotStore
	maxCache int
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]*list.Element
	order *list.List // front = oldest
}

type cacheEntry struct {
	actionID string
	snapshot Snapshot
}

// NewManager creates a snapshot manager over the given registry and
// durable store. maxCache bounds the in-memory snapshot count.
func NewManager(registry *Registry, store *SnapshotStore, maxCache int, logger *zap.Logger) *Manager {
	if maxCache <= 0 {
		maxCache = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry: registry,
		store:    store,
		maxCache: maxCache,
		logger:   logger,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Capture records pre-execution state for the intent. When no handler
// matches the action type there is nothing to snapshot and (zero, false)
// is returned. Store persistence failures are logged, not propagated:
// the in-memory snapshot still makes rollback possible for the life of
// the process.
func (m *Manager) Capture(intent core.Intent) (Snapshot, bool, error) {
	handler, err := m.registry.HandlerFor(intent.ActionType)
	if err != nil {
		if errors.Is(err, ErrHandlerNotFound) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, err
	}

	snapshot, err := handler.Capture(intent)
	if err != nil {
		return Snapshot{}, false, err
	}

	m.cachePut(snapshot)

	if m.store != nil {
		if err := m.store.Put(snapshot, intent.AgentID); err != nil {
			m.logger.Error("failed to persist snapshot",
				zap.String("action_id", intent.ActionID),
				zap.Error(err),
			)
		}
	}

	m.logger.Debug("captured snapshot",
		zap.String("action_id", intent.ActionID),
		zap.String("action_type", intent.ActionType),
	)
	return snapshot, true, nil
}

// Get returns the snapshot for an action, checking the LRU first and the
// durable store second.
func (m *Manager) Get(actionID string) (Snapshot, error) {
	m.mu.Lock()
	if el, ok := m.cache[actionID]; ok {
		snap := el.Value.(cacheEntry).snapshot
		m.order.MoveToBack(el)
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	if m.store == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}
	snap, err := m.store.Get(actionID)
	if err != nil {
		return Snapshot{}, err
	}
	m.cachePut(snap)
	return snap, nil
}

// Remove deletes the snapshot from cache and store.
func (m *Manager) Remove(actionID string) {
	m.mu.Lock()
	if el, ok := m.cache[actionID]; ok {
		m.order.Remove(el)
		delete(m.cache, actionID)
	}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(actionID); err != nil {
			m.logger.Error("failed to delete snapshot",
				zap.String("action_id", actionID),
				zap.Error(err),
			)
		}
	}
}

// MarkRestored flags the snapshot row as restored in the durable store.
func (m *Manager) MarkRestored(actionID string) {
	if m.store == nil {
		return
	}
	if err := m.store.MarkRestored(actionID); err != nil {
		m.logger.Error("failed to mark snapshot restored",
			zap.String("action_id", actionID),
			zap.Error(err),
		)
	}
}

// Cleanup removes snapshots captured before the cutoff from both tiers
// and returns the number of durable rows deleted.
func (m *Manager) Cleanup(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	m.mu.Lock()
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(cacheEntry)
		if entry.snapshot.CapturedAt.Before(cutoff) {
			m.order.Remove(el)
			delete(m.cache, entry.actionID)
		}
		el = next
	}
	m.mu.Unlock()

	if m.store == nil {
		return 0, nil
	}
	return m.store.DeleteOlderThan(cutoff)
}

// Clear wipes both the cache and the durable store.
func (m *Manager) Clear() error {
	m.mu.Lock()
	m.cache = make(map[string]*list.Element)
	m.order.Init()
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.Clear()
}

func (m *Manager) cachePut(snapshot Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.cache[snapshot.ActionID]; ok {
		el.Value = cacheEntry{actionID: snapshot.ActionID, snapshot: snapshot}
		m.order.MoveToBack(el)
		return
	}
	m.cache[snapshot.ActionID] = m.order.PushBack(cacheEntry{actionID: snapshot.ActionID, snapshot: snapshot})
	for m.order.Len() > m.maxCache {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.cache, oldest.Value.(cacheEntry).actionID)
	}
}
