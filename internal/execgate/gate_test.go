package execgate

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"actionguard/internal/core"
)

func TestSanitizeParameters(t *testing.T) {
	in := map[string]any{
		"path":     "/tmp/file",
		"Password": "hunter2",
		"API_KEY":  "sk-123",
		"nested": map[string]any{
			"refresh_token": "abc",
			"count":         3,
		},
	}
	got := SanitizeParameters(in)

	want := map[string]any{
		"path":     "/tmp/file",
		"Password": "***REDACTED***",
		"API_KEY":  "***REDACTED***",
		"nested": map[string]any{
			"refresh_token": "***REDACTED***",
			"count":         3,
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sanitized = %#v, want %#v", got, want)
	}

	// Input must be untouched.
	if in["Password"] != "hunter2" {
		t.Error("sanitization mutated the input map")
	}
	if in["nested"].(map[string]any)["refresh_token"] != "abc" {
		t.Error("sanitization mutated a nested input map")
	}
}

func TestGateExecuteSuccess(t *testing.T) {
	gate := New(nil)
	intent := core.NewIntent("file.write", "write_file", "agent-1", map[string]any{
		"path":   "/tmp/x",
		"secret": "s3cr3t",
	})

	result := gate.Execute(context.Background(), intent, func(context.Context) (any, error) {
		return "written", nil
	}, core.VerdictAllow, 0.2, "", nil)

	if !result.Success {
		t.Fatal("expected success")
	}
	if result.Output != "written" {
		t.Errorf("output = %v, want written", result.Output)
	}
	if result.AuditEntry.Verdict != core.VerdictAllow {
		t.Errorf("audit verdict = %s, want ALLOW", result.AuditEntry.Verdict)
	}
	if got := result.AuditEntry.Parameters["secret"]; got != "***REDACTED***" {
		t.Errorf("audit parameters leaked secret: %v", got)
	}
}

func TestGateExecuteCapturesError(t *testing.T) {
	gate := New(nil)
	intent := core.NewIntent("db.query", "query", "agent-1", nil)
	boom := errors.New("connection refused")

	result := gate.Execute(context.Background(), intent, func(context.Context) (any, error) {
		return nil, boom
	}, core.VerdictAllow, 0, "", nil)

	if result.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(result.Error, boom) {
		t.Errorf("result error = %v, want the operation's error", result.Error)
	}
	if result.AuditEntry.Error == "" {
		t.Error("audit entry should record the operation error")
	}
}

func TestGateBlockingVerdictNeverRunsOperation(t *testing.T) {
	gate := New(nil)
	intent := core.NewIntent("file.delete", "rm", "agent-1", nil)

	ran := false
	result := gate.Execute(context.Background(), intent, func(context.Context) (any, error) {
		ran = true
		return nil, nil
	}, core.VerdictBlock, 0.9, "deny_all", nil)

	if ran {
		t.Fatal("operation must not run under a blocking verdict")
	}
	if result.Success {
		t.Error("blocked result must not report success")
	}
	if result.AuditEntry.PolicyTriggered != "deny_all" {
		t.Errorf("policy triggered = %q, want deny_all", result.AuditEntry.PolicyTriggered)
	}
}
