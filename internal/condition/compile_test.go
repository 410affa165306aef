package condition

import "testing"

func TestCompileAndEvaluate(t *testing.T) {
	cases := []struct {
		name string
		expr string
		ctx  Context
		want bool
	}{
		{
			name: "simple equality",
			expr: `action_type == "file.delete"`,
			ctx:  Context{"action_type": "file.delete"},
			want: true,
		},
		{
			name: "or of two comparisons",
			expr: `risk_level == "HIGH" or risk_level == "CRITICAL"`,
			ctx:  Context{"risk_level": "CRITICAL"},
			want: true,
		},
		{
			name: "not operator",
			expr: `not (risk_level == "LOW")`,
			ctx:  Context{"risk_level": "HIGH"},
			want: true,
		},
		{
			name: "attribute access on map falls back to empty string",
			expr: `agent.missing_field == ""`,
			ctx:  Context{"agent": map[string]any{"id": "a1"}},
			want: true,
		},
		{
			name: "subscript of missing key falls back to empty string",
			expr: `parameters["missing"] == ""`,
			ctx:  Context{"parameters": map[string]any{"amount": 5.0}},
			want: true,
		},
		{
			name: "membership test",
			expr: `"admin" in agent.roles`,
			ctx: Context{
				"agent": map[string]any{"roles": []any{"admin", "viewer"}},
			},
			want: true,
		},
		{
			name: "method call startswith",
			expr: `action_type.startswith("file.")`,
			ctx:  Context{"action_type": "file.delete"},
			want: true,
		},
		{
			name: "numeric comparison",
			expr: `estimated_cost > 10 and estimated_cost < 100`,
			ctx:  Context{"estimated_cost": 50.0},
			want: true,
		},
		{
			name: "ternary expression",
			expr: `"blocked" if risk_level == "CRITICAL" else "ok"`,
			ctx:  Context{"risk_level": "CRITICAL"},
			want: true, // non-empty string is truthy
		},
		{
			name: "contains_pii built-in",
			expr: `contains_pii(parameters)`,
			ctx:  Context{"parameters": map[string]any{"note": "ssn 123-45-6789"}},
			want: true,
		},
		{
			name: "is_sensitive_path built-in",
			expr: `is_sensitive_path(parameters["path"])`,
			ctx:  Context{"parameters": map[string]any{"path": "/etc/passwd"}},
			want: true,
		},
		{
			name: "unknown identifier resolves to empty string, not an error",
			expr: `unknown_field == ""`,
			ctx:  Context{},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			compiled, err := Compile(tc.expr)
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tc.expr, err)
			}
			got, err := compiled.Evaluate(tc.ctx)
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestCompileRejectsInvalidSyntax(t *testing.T) {
	_, err := Compile(`action_type ==`)
	if err == nil {
		t.Fatal("expected a parse error for incomplete expression")
	}
}

func TestCompileRejectsForbiddenConstructs(t *testing.T) {
	forbidden := []string{
		`import os`,
		`def f(): pass`,
		`lambda x: x`,
		`agent.id = "root"`,
		`[x for x in parameters]`,
		`{1, 2, 3}`,
		`{"a": 1}`,
		`action_type; estimated_cost`,
	}
	for _, expr := range forbidden {
		if _, err := Compile(expr); err == nil {
			t.Errorf("Compile(%q) should fail at compile time", expr)
		}
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	ctx := Context{
		"action_type":    "db.delete",
		"estimated_cost": 2.0,
		"parameters":     map[string]any{"table": "users"},
	}
	compiled, err := Compile(`action_type.startswith("db.") and estimated_cost > 1`)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		got, err := compiled.Evaluate(ctx)
		if err != nil || !got {
			t.Fatalf("run %d: (%v, %v), want stable true", i, got, err)
		}
	}
}

func TestEvaluateRejectsUnknownFunction(t *testing.T) {
	compiled, err := Compile(`exec("rm -rf /")`)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	_, err = compiled.Evaluate(Context{})
	if err == nil {
		t.Fatal("expected an evaluation error for a non-whitelisted function")
	}
}

func TestEvaluateAttributeOnStringIsEmpty(t *testing.T) {
	compiled, err := Compile(`action_type.__class__`)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	// __class__ parses as attribute access on a string, which always
	// falls back to "" rather than exposing object internals.
	got, err := compiled.Evaluate(Context{"action_type": "file.delete"})
	if err != nil {
		t.Fatalf("unexpected evaluation error: %v", err)
	}
	if got {
		t.Fatal("expected falsy result for attribute access on a string")
	}
}
