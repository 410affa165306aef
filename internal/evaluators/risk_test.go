package evaluators

import (
	"context"
	"testing"

	"actionguard/internal/core"
)

func TestRiskScorerEvaluate(t *testing.T) {
	cases := []struct {
		name   string
		intent core.Intent
		want   core.Verdict
	}{
		{
			name: "low risk read",
			intent: core.Intent{
				ActionType:  "file.read",
				ToolName:    "read_file",
				AgentID:     "agent-1",
				Parameters:  map[string]any{"path": "/home/user/notes.txt"},
				TaskContext: "read file for read_file task",
			},
			want: core.VerdictAllow,
		},
		{
			name: "destructive delete of a system path warrants warning",
			intent: core.Intent{
				ActionType: "file.delete",
				ToolName:   "delete_file",
				AgentID:    "agent-2",
				Parameters: map[string]any{"path": "/etc/passwd", "target": "all"},
			},
			want: core.VerdictWarn,
		},
		{
			name: "bulk shell execution warrants warning",
			intent: core.Intent{
				ActionType: "shell.exec",
				ToolName:   "run_shell",
				AgentID:    "agent-3",
				Parameters: map[string]any{"command": "sudo rm -rf /", "target": "all"},
			},
			want: core.VerdictWarn,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			scorer := NewRiskScorer()
			result, err := scorer.Evaluate(context.Background(), tc.intent)
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if result.Verdict != tc.want {
				t.Errorf("Evaluate() verdict = %s, want %s (reason: %s, metadata: %v)", result.Verdict, tc.want, result.Reason, result.Metadata)
			}
		})
	}
}

func TestActionBaseScoreVerbFallback(t *testing.T) {
	tests := []struct {
		actionType string
		want       float64
	}{
		{"file.read", 0.1},      // exact table hit
		{"storage.delete", 0.8}, // rightmost verb fallback
		{"svc.db.select", 0.1},
		{"langchain.run", 0.9},
		{"widget.frobnicate", 0.3}, // unknown verb, default
	}
	for _, tt := range tests {
		if got := actionBaseScore(tt.actionType); got != tt.want {
			t.Errorf("actionBaseScore(%q) = %v, want %v", tt.actionType, got, tt.want)
		}
	}
}

func TestBlastRadiusScore(t *testing.T) {
	longList := make([]any, 11)

	tests := []struct {
		name   string
		intent core.Intent
		want   float64
	}{
		{
			name:   "glob wildcard in a value",
			intent: core.Intent{ActionType: "file.read", Parameters: map[string]any{"pattern": "logs/*.txt"}},
			want:   0.1,
		},
		{
			name:   "sql wildcard in a value",
			intent: core.Intent{ActionType: "db.select", Parameters: map[string]any{"filter": "name LIKE '%smith%'"}},
			want:   0.1,
		},
		{
			name:   "bulk marker value",
			intent: core.Intent{ActionType: "db.update", Parameters: map[string]any{"target": "all"}},
			want:   0.15,
		},
		{
			name:   "bare star value hits both checks",
			intent: core.Intent{ActionType: "db.update", Parameters: map[string]any{"target": "*"}},
			want:   0.2, // 0.1 + 0.15 capped
		},
		{
			name:   "long list parameter",
			intent: core.Intent{ActionType: "email.send", Parameters: map[string]any{"recipients": longList}},
			want:   0.1,
		},
		{
			name:   "destructive action type",
			intent: core.Intent{ActionType: "db.truncate", Parameters: map[string]any{"table": "users"}},
			want:   0.1,
		},
		{
			name:   "benign parameters",
			intent: core.Intent{ActionType: "file.read", Parameters: map[string]any{"path": "/tmp/a.txt"}},
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := blastRadiusScore(tt.intent); got != tt.want {
				t.Errorf("blastRadiusScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextAlignmentScore(t *testing.T) {
	tests := []struct {
		name   string
		intent core.Intent
		want   float64
	}{
		{
			name:   "missing context is penalized",
			intent: core.Intent{ActionType: "file.delete", ToolName: "delete_file"},
			want:   0.1,
		},
		{
			name: "no vocabulary overlap is penalized",
			intent: core.Intent{
				ActionType:  "file.delete",
				ToolName:    "delete_file",
				TaskContext: "summarize quarterly revenue",
			},
			want: 0.1,
		},
		{
			name: "any overlap scores clean",
			intent: core.Intent{
				ActionType:  "file.delete",
				ToolName:    "delete_file",
				TaskContext: "clean up temp file artifacts",
			},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := contextAlignmentScore(tt.intent); got != tt.want {
				t.Errorf("contextAlignmentScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAgentHistoryFromInjectedMetadata(t *testing.T) {
	scorer := NewRiskScorer()
	intent := core.Intent{
		ActionType: "file.write",
		ToolName:   "write_file",
		AgentID:    "flaky-agent",
		Parameters: map[string]any{"path": "/tmp/out.txt"},
	}

	before, err := scorer.Evaluate(context.Background(), intent)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}

	intent.Metadata = map[string]any{
		"agent_error_rate": 0.9,
		"agent_violations": 5,
	}
	after, err := scorer.Evaluate(context.Background(), intent)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}

	beforeScore, _ := before.Metadata["risk_score"].(float64)
	afterScore, _ := after.Metadata["risk_score"].(float64)
	if afterScore <= beforeScore {
		t.Errorf("expected risk score to rise with poor history metadata: before=%.3f after=%.3f", beforeScore, afterScore)
	}
}
