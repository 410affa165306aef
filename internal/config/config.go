// Package config handles configuration loading and validation: defaults,
// an optional YAML file, then environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"actionguard/internal/core"
)

// Config is the root configuration for the guard.
type Config struct {
	Version       string              `yaml:"version"`
	Global        GlobalConfig        `yaml:"global"`
	Budget        BudgetConfig        `yaml:"budget"`
	RateLimits    RateLimitConfig     `yaml:"rate_limits"`
	Policies      []PolicyConfig      `yaml:"policies" validate:"dive"`
	Agents        []AgentConfig       `yaml:"agents" validate:"dive"`
	Evaluators    EvaluatorConfig     `yaml:"evaluators"`
	Rollback      RollbackConfig      `yaml:"rollback"`
	Observability ObservabilityConfig `yaml:"observability"`
	TrustStore    TrustStoreConfig    `yaml:"trust_store"`
	Sidecar       SidecarConfig       `yaml:"sidecar"`
	LogLevel      string              `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// GlobalConfig holds cross-cutting limits.
type GlobalConfig struct {
	DefaultVerdict           string  `yaml:"default_verdict" validate:"oneof=ALLOW WARN BLOCK ESCALATE DEFER"`
	MaxRiskScore             float64 `yaml:"max_risk_score" validate:"gte=0,lte=1"`
	MaxDelegationDepth       int     `yaml:"max_delegation_depth" validate:"gte=1"`
	MaxConcurrentDelegations int     `yaml:"max_concurrent_delegations" validate:"gte=1"`
}

// BudgetConfig holds spend limits.
type BudgetConfig struct {
	PerTask           float64 `yaml:"per_task" validate:"gte=0"`
	PerAgentPerRun    float64 `yaml:"per_agent_per_run" validate:"gte=0"`
	EscalateThreshold float64 `yaml:"escalate_threshold" validate:"gte=0"`
	Currency          string  `yaml:"currency"`
}

// RateLimitConfig holds the default and per-tool rate limit specs, as
// "N/unit" strings.
type RateLimitConfig struct {
	Default string            `yaml:"default"`
	PerTool map[string]string `yaml:"per_tool"`
}

// PolicyConfig is one user-authored policy rule.
type PolicyConfig struct {
	Name        string   `yaml:"name" validate:"required"`
	ActionTypes []string `yaml:"action_types"`
	Condition   string   `yaml:"condition"`
	Verdict     string   `yaml:"verdict" validate:"oneof=ALLOW WARN BLOCK ESCALATE DEFER"`
	Message     string   `yaml:"message"`
	EscalateTo  string   `yaml:"escalate_to"`
	Extends     string   `yaml:"extends"`
}

// AgentConfig registers one agent with the trust ledger at load.
type AgentConfig struct {
	ID               string   `yaml:"id" validate:"required"`
	TrustLevel       float64  `yaml:"trust_level" validate:"gte=0,lte=1"`
	CanDelegateTo    []string `yaml:"can_delegate_to"`
	MaxActionsPerRun int      `yaml:"max_actions_per_run" validate:"gte=1"`
}

// EvaluatorToggle enables or disables one built-in evaluator.
type EvaluatorToggle struct {
	Enabled bool `yaml:"enabled"`
}

// EvaluatorConfig toggles each built-in evaluator.
type EvaluatorConfig struct {
	SchemaValidator EvaluatorToggle `yaml:"schema_validator"`
	PolicyEngine    EvaluatorToggle `yaml:"policy_engine"`
	RiskScorer      EvaluatorToggle `yaml:"risk_scorer"`
	RateLimiter     EvaluatorToggle `yaml:"rate_limiter"`
	CostEstimator   EvaluatorToggle `yaml:"cost_estimator"`
	HumanGate       EvaluatorToggle `yaml:"human_gate"`
}

// RollbackConfig controls snapshotting.
type RollbackConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SnapshotDir  string `yaml:"snapshot_dir"`
	MaxSnapshots int    `yaml:"max_snapshots" validate:"gte=1"`
}

// ObservabilityConfig controls the audit log and exporters.
type ObservabilityConfig struct {
	Exporters          []string `yaml:"exporters"`
	WebhookURL         string   `yaml:"webhook_url"`
	S3Bucket           string   `yaml:"s3_bucket"`
	AWSRegion          string   `yaml:"aws_region"`
	AuditLogMaxEntries int      `yaml:"audit_log_max_entries" validate:"gte=100"`
}

// TrustStoreConfig optionally backs the trust ledger with a durable
// DynamoDB table. Empty means in-memory only.
type TrustStoreConfig struct {
	DynamoDBTable string `yaml:"dynamodb_table"`
}

// SidecarConfig controls the optional HTTP front door.
type SidecarConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Global: GlobalConfig{
			DefaultVerdict:           string(core.VerdictAllow),
			MaxRiskScore:             0.85,
			MaxDelegationDepth:       4,
			MaxConcurrentDelegations: 10,
		},
		Budget: BudgetConfig{
			PerTask:           5.00,
			PerAgentPerRun:    1.00,
			EscalateThreshold: 0.50,
			Currency:          "USD",
		},
		RateLimits: RateLimitConfig{
			Default: "60/min",
			PerTool: map[string]string{},
		},
		Evaluators: EvaluatorConfig{
			SchemaValidator: EvaluatorToggle{Enabled: true},
			PolicyEngine:    EvaluatorToggle{Enabled: true},
			RiskScorer:      EvaluatorToggle{Enabled: true},
			RateLimiter:     EvaluatorToggle{Enabled: true},
			CostEstimator:   EvaluatorToggle{Enabled: true},
			HumanGate:       EvaluatorToggle{Enabled: false},
		},
		Rollback: RollbackConfig{
			Enabled:      true,
			MaxSnapshots: 1000,
		},
		Observability: ObservabilityConfig{
			Exporters:          []string{"stdout"},
			AWSRegion:          "us-east-1",
			AuditLogMaxEntries: 10000,
		},
		Sidecar: SidecarConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		LogLevel: "info",
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// (when path is non-empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds the configuration from defaults, the YAML file named
// by GUARD_CONFIG when set, and environment variable overrides.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("GUARD_CONFIG"))
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GUARD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GUARD_SIDECAR_HOST"); v != "" {
		c.Sidecar.Host = v
	}
	if v := os.Getenv("GUARD_SIDECAR_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid GUARD_SIDECAR_PORT: %w", err)
		}
		c.Sidecar.Port = port
	}
	if v := os.Getenv("GUARD_BUDGET_PER_TASK"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid GUARD_BUDGET_PER_TASK: %w", err)
		}
		c.Budget.PerTask = f
	}
	if v := os.Getenv("GUARD_BUDGET_PER_AGENT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid GUARD_BUDGET_PER_AGENT: %w", err)
		}
		c.Budget.PerAgentPerRun = f
	}
	if v := os.Getenv("GUARD_RATE_LIMIT_DEFAULT"); v != "" {
		c.RateLimits.Default = v
	}
	if v := os.Getenv("GUARD_ROLLBACK_ENABLED"); v != "" {
		c.Rollback.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("GUARD_SNAPSHOT_DIR"); v != "" {
		c.Rollback.SnapshotDir = v
	}
	if v := os.Getenv("GUARD_AUDIT_MAX_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid GUARD_AUDIT_MAX_ENTRIES: %w", err)
		}
		c.Observability.AuditLogMaxEntries = n
	}
	if v := os.Getenv("GUARD_EXPORTERS"); v != "" {
		c.Observability.Exporters = splitAndTrim(v)
	}
	if v := os.Getenv("GUARD_WEBHOOK_URL"); v != "" {
		c.Observability.WebhookURL = v
	}
	if v := os.Getenv("GUARD_S3_BUCKET"); v != "" {
		c.Observability.S3Bucket = v
	}
	if v := os.Getenv("GUARD_TRUST_DDB_TABLE"); v != "" {
		c.TrustStore.DynamoDBTable = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Observability.AWSRegion = v
	}
	return nil
}

// Validate checks field constraints and the rate-limit spec formats.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := validateRateSpec(c.RateLimits.Default); err != nil {
		return fmt.Errorf("rate_limits.default: %w", err)
	}
	for pattern, spec := range c.RateLimits.PerTool {
		if err := validateRateSpec(spec); err != nil {
			return fmt.Errorf("rate_limits.per_tool[%s]: %w", pattern, err)
		}
	}

	names := make(map[string]bool, len(c.Policies))
	for _, p := range c.Policies {
		if names[p.Name] {
			return fmt.Errorf("duplicate policy name %q", p.Name)
		}
		names[p.Name] = true
	}
	return nil
}

func validateRateSpec(spec string) error {
	count, period, ok := strings.Cut(spec, "/")
	if !ok {
		return fmt.Errorf("invalid rate limit %q: expected N/period", spec)
	}
	if n, err := strconv.Atoi(strings.TrimSpace(count)); err != nil || n <= 0 {
		return fmt.Errorf("invalid rate limit count %q", count)
	}
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "sec", "second", "seconds", "s", "min", "minute", "minutes", "m", "hour", "hours", "h", "day", "days", "d":
		return nil
	default:
		return fmt.Errorf("unrecognized rate limit period %q", period)
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
