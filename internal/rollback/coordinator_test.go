package rollback

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"actionguard/internal/core"
)

func executedEntry(intent core.Intent) core.AuditEntry {
	return core.AuditEntry{
		ActionID:   intent.ActionID,
		AgentID:    intent.AgentID,
		ActionType: intent.ActionType,
		Verdict:    core.VerdictAllow,
		TaskID:     intent.TaskID,
		Timestamp:  intent.Timestamp,
	}
}

func TestCoordinatorRollbackAction(t *testing.T) {
	registry := NewRegistry()
	handler := &memHandler{types: []string{"db.*"}}
	registry.Register(handler)
	m := NewManager(registry, newTestStore(t), 10, nil)
	c := NewCoordinator(registry, m, nil, nil)

	intent := core.NewIntent("db.update", "u", "agent-1", nil)
	m.Capture(intent)
	c.RecordAction(executedEntry(intent))

	if !c.RollbackAction(intent.ActionID) {
		t.Fatal("rollback should succeed")
	}
	if handler.restores != 1 {
		t.Errorf("restore calls = %d, want 1", handler.restores)
	}
	if !c.IsRolledBack(intent.ActionID) {
		t.Error("entry should be marked rolled_back")
	}
	if _, err := m.Get(intent.ActionID); err == nil {
		t.Error("snapshot should be removed after successful rollback")
	}

	// Second rollback of the same action finds no snapshot.
	if c.RollbackAction(intent.ActionID) {
		t.Error("second rollback should return false")
	}
}

func TestCoordinatorRollbackUnknownAction(t *testing.T) {
	registry := NewRegistry()
	m := NewManager(registry, newTestStore(t), 10, nil)
	c := NewCoordinator(registry, m, nil, nil)

	if c.RollbackAction("nope") {
		t.Fatal("rollback of unknown action should return false")
	}
}

func TestCoordinatorRollbackLastFiltersAgent(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&memHandler{types: []string{"*"}})
	m := NewManager(registry, newTestStore(t), 10, nil)
	c := NewCoordinator(registry, m, nil, nil)

	var aliceIDs []string
	for i := 0; i < 3; i++ {
		agent := "alice"
		if i == 1 {
			agent = "bob"
		}
		intent := core.NewIntent("db.update", "u", agent, nil)
		m.Capture(intent)
		c.RecordAction(executedEntry(intent))
		if agent == "alice" {
			aliceIDs = append(aliceIDs, intent.ActionID)
		}
	}

	results := c.RollbackLast(5, "alice")
	if len(results) != 2 {
		t.Fatalf("rolled back %d actions, want alice's 2", len(results))
	}
	for i, ok := range results {
		if !ok {
			t.Errorf("rollback %d failed", i)
		}
	}
	for _, id := range aliceIDs {
		if !c.IsRolledBack(id) {
			t.Errorf("alice action %s not rolled back", id)
		}
	}
}

func TestCoordinatorRollbackTask(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&memHandler{types: []string{"db.*"}})
	m := NewManager(registry, newTestStore(t), 10, nil)
	c := NewCoordinator(registry, m, nil, nil)

	// Three task actions: one normal, one without a handler, one already
	// rolled back.
	ok1 := core.NewIntent("db.update", "u", "agent-1", nil)
	ok1.TaskID = "T"
	m.Capture(ok1)
	c.RecordAction(executedEntry(ok1))

	noHandler := core.NewIntent("email.send", "send", "agent-1", nil)
	noHandler.TaskID = "T"
	noHandler.Timestamp = ok1.Timestamp.Add(time.Millisecond)
	c.RecordAction(executedEntry(noHandler))

	done := core.NewIntent("db.delete", "d", "agent-2", nil)
	done.TaskID = "T"
	done.Timestamp = ok1.Timestamp.Add(2 * time.Millisecond)
	entry := executedEntry(done)
	entry.RolledBack = true
	c.RecordAction(entry)

	report := c.RollbackTask("T")
	if report.TotalActions != 3 {
		t.Errorf("total = %d, want 3", report.TotalActions)
	}
	if len(report.RolledBack) != 1 || report.RolledBack[0] != ok1.ActionID {
		t.Errorf("rolled_back = %v, want [%s]", report.RolledBack, ok1.ActionID)
	}
	if len(report.Skipped) != 2 {
		t.Errorf("skipped = %v, want the handled-less and already-done entries", report.Skipped)
	}
	if len(report.Failed) != 0 {
		t.Errorf("failed = %v, want none", report.Failed)
	}
}

func TestCoordinatorRecredits(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&memHandler{types: []string{"*"}})
	m := NewManager(registry, newTestStore(t), 10, nil)
	rec := &spyRecrediter{}
	c := NewCoordinator(registry, m, rec, nil)

	intent := core.NewIntent("db.update", "u", "agent-1", nil)
	m.Capture(intent)
	c.RecordAction(executedEntry(intent))

	c.RollbackAction(intent.ActionID)
	if rec.calls != 1 {
		t.Errorf("recredit calls = %d, want 1", rec.calls)
	}
}

type spyRecrediter struct{ calls int }

func (s *spyRecrediter) Recredit(string) float64 {
	s.calls++
	return 0
}

func TestFileHandlerRestoreOverwrittenFile(t *testing.T) {
	dir := t.TempDir()
	handler, err := NewFileHandler(filepath.Join(dir, "snaps"))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	target := filepath.Join(dir, "data.txt")
	original := []byte("original contents")
	if err := os.WriteFile(target, original, 0o644); err != nil {
		t.Fatal(err)
	}

	intent := core.NewIntent("file.write", "write_file", "agent-1", map[string]any{"path": target})
	snap, err := handler.Capture(intent)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	// The guarded operation overwrites the file.
	if err := os.WriteFile(target, []byte("clobbered"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, err := handler.Restore(snap)
	if err != nil || !ok {
		t.Fatalf("restore = (%v, %v), want success", ok, err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(original) {
		t.Errorf("restored contents = %q, want %q", got, original)
	}
}

func TestFileHandlerRestoreUndoesCreate(t *testing.T) {
	dir := t.TempDir()
	handler, err := NewFileHandler(filepath.Join(dir, "snaps"))
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	target := filepath.Join(dir, "new.txt")
	intent := core.NewIntent("file.create", "create_file", "agent-1", map[string]any{"path": target})
	snap, err := handler.Capture(intent)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	if err := os.WriteFile(target, []byte("created"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok, err := handler.Restore(snap)
	if err != nil || !ok {
		t.Fatalf("restore = (%v, %v), want success", ok, err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("created file should be gone after rollback")
	}
}

func TestRegistryPrecedence(t *testing.T) {
	registry := NewRegistry()
	globHandler := &memHandler{types: []string{"db.*"}}
	custom := &memHandler{types: []string{"db.special"}}
	registry.Register(globHandler)
	registry.RegisterForType("db.special", custom)

	h, err := registry.HandlerFor("db.special")
	if err != nil {
		t.Fatalf("handler lookup: %v", err)
	}
	if h != Handler(custom) {
		t.Error("exact-type handler should win over glob handler")
	}

	h, err = registry.HandlerFor("db.update")
	if err != nil || h != Handler(globHandler) {
		t.Errorf("glob handler lookup = (%v, %v)", h, err)
	}

	if _, err := registry.HandlerFor("email.send"); err == nil {
		t.Error("unmatched action type should error")
	}
}
