package rollback

import (
	"fmt"
	"os"
	"path/filepath"

	"actionguard/internal/core"
)

// FileHandler reverses filesystem operations: restoring overwritten or
// deleted files from a snapshot copy, and deleting files whose creation
// is rolled back. File contents are copied into a handler-owned snapshot
// directory at capture time; the Snapshot's state map carries only the
// paths and flags needed to restore.
type FileHandler struct {
	snapshotDir string
}

// NewFileHandler creates a file rollback handler. With an empty dir a
// temporary directory is used.
func NewFileHandler(snapshotDir string) (*FileHandler, error) {
	if snapshotDir == "" {
		dir, err := os.MkdirTemp("", "guard-file-snapshots-")
		if err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
		snapshotDir = dir
	} else if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileHandler{snapshotDir: snapshotDir}, nil
}

func (h *FileHandler) ActionTypes() []string {
	return []string{"file.delete", "file.write", "file.create"}
}

func (h *FileHandler) snapshotPath(actionID string) string {
	return filepath.Join(h.snapshotDir, actionID+".snapshot")
}

func (h *FileHandler) Capture(intent core.Intent) (Snapshot, error) {
	filePath, _ := intent.Parameters["path"].(string)
	state := map[string]any{
		"original_path": filePath,
		"existed":       false,
	}

	if filePath != "" {
		if info, err := os.Stat(filePath); err == nil && info.Mode().IsRegular() {
			state["existed"] = true
			snapPath := h.snapshotPath(intent.ActionID)
			if err := copyFile(filePath, snapPath, info.Mode()); err != nil {
				return Snapshot{}, fmt.Errorf("capture %s: %w", filePath, err)
			}
			state["snapshot_path"] = snapPath
		}
	}

	snap := NewSnapshot(intent.ActionID, intent.ActionType, state)
	snap.Metadata["agent_id"] = intent.AgentID
	return snap, nil
}

func (h *FileHandler) Restore(snapshot Snapshot) (bool, error) {
	originalPath, _ := snapshot.State["original_path"].(string)
	if originalPath == "" {
		return false, nil
	}

	if snapshot.ActionType == "file.create" {
		// Undo creation by removing whatever was created.
		if err := os.Remove(originalPath); err != nil && !os.IsNotExist(err) {
			return false, err
		}
		return true, nil
	}

	snapPath, _ := snapshot.State["snapshot_path"].(string)
	if snapPath == "" {
		// Nothing was captured: restoring is a success only if the file
		// did not exist before the action either.
		existed, _ := snapshot.State["existed"].(bool)
		if !existed {
			if err := os.Remove(originalPath); err != nil && !os.IsNotExist(err) {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(originalPath), 0o755); err != nil {
		return false, err
	}
	if err := copyFile(snapPath, originalPath, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode.Perm())
}
