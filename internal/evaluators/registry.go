package evaluators

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"actionguard/internal/core"
)

// ToolSchema is a registered JSON Schema for an action type's parameters.
type ToolSchema struct {
	ActionType string
	SchemaHash string
	Schema     json.RawMessage
}

// SchemaRegistry holds per-action-type JSON Schemas and compiles them
// lazily, caching by action_type:schema_hash the same way the tool
// registry's validator does.
type SchemaRegistry struct {
	mu       sync.RWMutex
	schemas  map[string]ToolSchema
	compiler *jsonschema.Compiler
	cache    map[string]*jsonschema.Schema
}

func NewSchemaRegistry() *SchemaRegistry {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	return &SchemaRegistry{
		schemas:  make(map[string]ToolSchema),
		compiler: compiler,
		cache:    make(map[string]*jsonschema.Schema),
	}
}

// Register adds or replaces the JSON Schema for an action type.
func (r *SchemaRegistry) Register(actionType, schemaHash string, schema json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[actionType] = ToolSchema{ActionType: actionType, SchemaHash: schemaHash, Schema: schema}
}

func (r *SchemaRegistry) lookup(actionType string) (ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.schemas[actionType]
	return ts, ok
}

func (r *SchemaRegistry) compiled(ts ToolSchema) (*jsonschema.Schema, error) {
	key := ts.ActionType + ":" + ts.SchemaHash

	r.mu.RLock()
	if s, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.cache[key]; ok {
		return s, nil
	}

	url := fmt.Sprintf("mem://schemas/%s/%s/schema.json", ts.ActionType, ts.SchemaHash)
	if err := r.compiler.AddResource(url, strings.NewReader(string(ts.Schema))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := r.compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	r.cache[key] = compiled
	return compiled, nil
}

// RegistryEvaluator validates an Intent's parameters against a registered
// JSON Schema for its action type, when one is registered. Action types
// with no registered schema pass through unchanged — the absence of a
// registration is not itself a failure, matching spec.md's permissive
// default for unrecognized action types.
type RegistryEvaluator struct {
	registry *SchemaRegistry
}

func NewRegistryEvaluator(registry *SchemaRegistry) *RegistryEvaluator {
	return &RegistryEvaluator{registry: registry}
}

func (e *RegistryEvaluator) Name() string  { return "schema_registry" }
func (e *RegistryEvaluator) Enabled() bool { return true }
func (e *RegistryEvaluator) Priority() int { return 11 }

func (e *RegistryEvaluator) Evaluate(_ context.Context, intent core.Intent) (core.EvaluatorResult, error) {
	ts, ok := e.registry.lookup(intent.ActionType)
	if !ok {
		return core.EvaluatorResult{
			Verdict:       core.VerdictAllow,
			Reason:        "No registered schema for this action type",
			Confidence:    1.0,
			EvaluatorName: e.Name(),
		}, nil
	}

	schema, err := e.registry.compiled(ts)
	if err != nil {
		return core.EvaluatorResult{}, fmt.Errorf("schema_registry: %w", err)
	}

	if err := schema.Validate(intent.Parameters); err != nil {
		return core.EvaluatorResult{
			Verdict:       core.VerdictBlock,
			Reason:        fmt.Sprintf("Parameters do not match registered schema for %q: %v", intent.ActionType, err),
			Confidence:    1.0,
			EvaluatorName: e.Name(),
			Metadata:      map[string]any{"action_type": intent.ActionType},
		}, nil
	}

	return core.EvaluatorResult{
		Verdict:       core.VerdictAllow,
		Reason:        "Parameters match registered schema",
		Confidence:    1.0,
		EvaluatorName: e.Name(),
	}, nil
}
