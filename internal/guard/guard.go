// Package guard assembles the full evaluation, execution, audit, and
// rollback machinery behind a single facade.
package guard

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"actionguard/internal/config"
	"actionguard/internal/core"
	"actionguard/internal/evaluators"
	"actionguard/internal/execgate"
	"actionguard/internal/multiagent"
	"actionguard/internal/observability"
	"actionguard/internal/pipeline"
	"actionguard/internal/rollback"
)

// Operation is the caller-supplied side effect guarded by Execute.
type Operation = execgate.Operation

// Guard is the entry point for all protection operations: it evaluates
// intents, executes allowed operations under the gate, audits every
// attempt, and coordinates rollback.
type Guard struct {
	cfg    *config.Config
	logger *zap.Logger

	pipeline       *pipeline.Pipeline
	schemaRegistry *evaluators.SchemaRegistry
	policyEngine   *evaluators.PolicyEngine
	riskScorer     *evaluators.RiskScorer
	rateLimiter    *evaluators.RateLimiter
	costEstimator  *evaluators.CostEstimator
	humanGate      *evaluators.HumanGate

	trustLedger *multiagent.TrustLedger
	cascade     *multiagent.CascadeController
	budgeter    *multiagent.GlobalBudgeter

	rollbackRegistry *rollback.Registry
	snapshotManager  *rollback.Manager
	coordinator      *rollback.Coordinator

	gate      *execgate.Gate
	auditLog  *observability.AuditLog
	exporters *observability.ExporterSet
	metrics   *observability.Metrics
}

// New builds a Guard from configuration. Policies are compiled here;
// a malformed policy condition fails construction.
func New(cfg *config.Config, logger *zap.Logger) (*Guard, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Guard{cfg: cfg, logger: logger}

	g.trustLedger = multiagent.NewTrustLedger(false, logger.Named("trust"))
	g.cascade = multiagent.NewCascadeController(
		cfg.Global.MaxDelegationDepth,
		cfg.Global.MaxConcurrentDelegations,
	)
	g.budgeter = multiagent.NewGlobalBudgeter(
		cfg.Budget.PerTask,
		cfg.Budget.PerAgentPerRun,
		cfg.Budget.EscalateThreshold,
		cfg.Budget.Currency,
		logger.Named("budget"),
	)

	if err := g.setupPipeline(); err != nil {
		return nil, err
	}
	if err := g.setupRollback(); err != nil {
		return nil, err
	}
	g.setupObservability()
	g.loadAgents()

	return g, nil
}

func (g *Guard) setupPipeline() error {
	cfg := g.cfg
	g.pipeline = pipeline.New(g.logger.Named("pipeline"))

	g.schemaRegistry = evaluators.NewSchemaRegistry()
	if cfg.Evaluators.SchemaValidator.Enabled {
		g.pipeline.Add(evaluators.NewSchemaEvaluator())
		g.pipeline.Add(evaluators.NewRegistryEvaluator(g.schemaRegistry))
	}

	g.policyEngine = evaluators.NewPolicyEngine()
	policies := make([]*evaluators.Policy, 0, len(cfg.Policies))
	for _, pc := range cfg.Policies {
		actionTypes := pc.ActionTypes
		if len(actionTypes) == 0 {
			actionTypes = []string{"*"}
		}
		policies = append(policies, &evaluators.Policy{
			Name:        pc.Name,
			ActionTypes: actionTypes,
			Condition:   pc.Condition,
			Verdict:     core.Verdict(pc.Verdict),
			Message:     pc.Message,
			EscalateTo:  pc.EscalateTo,
			Extends:     pc.Extends,
		})
	}
	conflicts, err := g.policyEngine.LoadPolicies(policies)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	for _, c := range conflicts {
		g.logger.Warn("policy conflict", zap.String("conflict", c.String()))
	}
	if cfg.Evaluators.PolicyEngine.Enabled {
		g.pipeline.Add(g.policyEngine)
	}

	g.riskScorer = evaluators.NewRiskScorer()
	if cfg.Evaluators.RiskScorer.Enabled {
		g.pipeline.Add(g.riskScorer)
	}

	defaultLimit, err := evaluators.ParseRateLimit(cfg.RateLimits.Default)
	if err != nil {
		return fmt.Errorf("rate_limits.default: %w", err)
	}
	g.rateLimiter = evaluators.NewRateLimiter(defaultLimit)
	for pattern, spec := range cfg.RateLimits.PerTool {
		limit, err := evaluators.ParseRateLimit(spec)
		if err != nil {
			return fmt.Errorf("rate_limits.per_tool[%s]: %w", pattern, err)
		}
		g.rateLimiter.SetToolLimit(pattern, limit)
	}
	if cfg.Evaluators.RateLimiter.Enabled {
		g.pipeline.Add(g.rateLimiter)
	}

	g.costEstimator = evaluators.NewCostEstimator().WithBudgets(
		cfg.Budget.PerAgentPerRun,
		cfg.Budget.PerTask,
		cfg.Budget.EscalateThreshold,
	)
	if cfg.Evaluators.CostEstimator.Enabled {
		g.pipeline.Add(g.costEstimator)
	}

	g.humanGate = evaluators.NewHumanGate(g.logger.Named("human_gate"))
	if cfg.Evaluators.HumanGate.Enabled {
		g.humanGate.Enable()
	}
	g.pipeline.Add(g.humanGate)

	return nil
}

func (g *Guard) setupRollback() error {
	g.rollbackRegistry = rollback.NewRegistry()

	var store *rollback.SnapshotStore
	if g.cfg.Rollback.Enabled {
		path := g.cfg.Rollback.SnapshotDir
		if path == "" {
			resolved, err := rollback.DefaultStorePath()
			if err != nil {
				return fmt.Errorf("resolve snapshot store path: %w", err)
			}
			path = resolved
		} else {
			path = filepath.Join(path, "snapshots.db")
		}
		opened, err := rollback.OpenSnapshotStore(path)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		store = opened

		fileHandler, err := rollback.NewFileHandler("")
		if err != nil {
			return fmt.Errorf("init file rollback handler: %w", err)
		}
		g.rollbackRegistry.Register(fileHandler)
	}

	g.snapshotManager = rollback.NewManager(
		g.rollbackRegistry, store, g.cfg.Rollback.MaxSnapshots, g.logger.Named("snapshots"))
	g.coordinator = rollback.NewCoordinator(
		g.rollbackRegistry, g.snapshotManager, g.budgeter, g.logger.Named("rollback"))
	return nil
}

func (g *Guard) setupObservability() {
	g.exporters = observability.NewExporterSet(g.logger.Named("exporters"))
	for _, name := range g.cfg.Observability.Exporters {
		switch name {
		case "stdout":
			g.exporters.Add(observability.NewStdoutExporter(nil))
		case "webhook":
			if url := g.cfg.Observability.WebhookURL; url != "" {
				g.exporters.Add(observability.NewWebhookExporter(url, nil, 0))
			}
		case "s3":
			// Wired by the server entrypoint, which owns the AWS client.
		default:
			g.logger.Warn("unknown exporter in config", zap.String("exporter", name))
		}
	}

	g.auditLog = observability.NewAuditLog(
		g.cfg.Observability.AuditLogMaxEntries, g.exporters, g.logger.Named("audit"))
	g.metrics = observability.NewMetrics(prometheus.NewRegistry())
	g.gate = execgate.New(g.logger.Named("gate"))
}

func (g *Guard) loadAgents() {
	for _, a := range g.cfg.Agents {
		g.trustLedger.Register(
			a.ID,
			multiagent.BucketTrustLevel(a.TrustLevel),
			a.CanDelegateTo,
			a.MaxActionsPerRun,
		)
	}
}

// Execute runs one guarded call: cascade and budget pre-checks, the
// evaluation pipeline, optional snapshot capture, the operation itself,
// and post-execution bookkeeping. On a blocking verdict it records the
// audit entry and returns a *BlockedError; an operation error is
// re-raised after its audit entry is written.
func (g *Guard) Execute(ctx context.Context, intent core.Intent, op Operation) (any, error) {
	intent = g.applySession(ctx, intent)
	g.injectAgentMetadata(&intent)

	if res := g.cascade.Check(intent); res != nil {
		g.recordBlocked(intent, *res, nil, 0, "")
		return nil, newBlockedError(*res, "")
	}

	if res := g.budgeter.Check(intent); res != nil && res.Verdict.IsBlocking() {
		g.recordBlocked(intent, *res, nil, 0, "")
		return nil, newBlockedError(*res, "")
	}

	pres := g.pipeline.Evaluate(ctx, intent)

	if pres.Final.Verdict.IsBlocking() {
		g.recordBlocked(intent, pres.Final, pres.Results, pres.RiskScore, pres.PolicyTriggered)
		g.trustLedger.RecordViolation(intent.AgentID)
		return nil, newBlockedError(pres.Final, pres.PolicyTriggered)
	}

	if g.cfg.Rollback.Enabled {
		if _, _, err := g.snapshotManager.Capture(intent); err != nil {
			// Capture failures are infrastructure errors: logged, never
			// converted into a verdict.
			g.logger.Error("snapshot capture failed",
				zap.String("action_id", intent.ActionID),
				zap.Error(err),
			)
		}
	}

	result := g.gate.Execute(ctx, intent, op, pres.Final.Verdict, pres.RiskScore, pres.PolicyTriggered, pres.Results)

	g.postExecution(intent, result, pres.RiskScore)

	if result.Error != nil {
		return result.Output, result.Error
	}
	return result.Output, nil
}

// Evaluate runs the pipeline without executing anything and returns the
// final result. A dry run: no audit entry, no trust or budget updates.
func (g *Guard) Evaluate(ctx context.Context, intent core.Intent) core.EvaluatorResult {
	intent = g.applySession(ctx, intent)
	g.injectAgentMetadata(&intent)
	return g.pipeline.Evaluate(ctx, intent).Final
}

func (g *Guard) injectAgentMetadata(intent *core.Intent) {
	profile, err := g.trustLedger.Get(intent.AgentID)
	if err != nil {
		return
	}
	if intent.Metadata == nil {
		intent.Metadata = map[string]any{}
	}
	intent.Metadata["agent_error_rate"] = profile.ErrorRate()
	intent.Metadata["agent_violations"] = profile.ViolationCount
	intent.Metadata["agent_action_count"] = profile.ActionCount
}

func (g *Guard) recordBlocked(intent core.Intent, result core.EvaluatorResult, results []core.EvaluatorResult, riskScore float64, policyTriggered string) {
	if len(results) == 0 {
		results = []core.EvaluatorResult{result}
	}
	if policyTriggered == "" {
		if name, ok := result.Metadata["policy_name"].(string); ok {
			policyTriggered = name
		}
	}
	entry := core.AuditEntry{
		ActionID:         intent.ActionID,
		AgentID:          intent.AgentID,
		ActionType:       intent.ActionType,
		Verdict:          result.Verdict,
		RiskScore:        riskScore,
		TaskID:           intent.TaskID,
		PolicyTriggered:  policyTriggered,
		EvaluatorResults: results,
		InstructionChain: intent.InstructionChain,
		Parameters:       execgate.SanitizeParameters(intent.Parameters),
		Timestamp:        intent.Timestamp,
	}
	g.auditLog.Append(entry)
	g.metrics.RecordAction(result.Verdict, riskScore, 0)
}

func (g *Guard) postExecution(intent core.Intent, result core.ActionResult, riskScore float64) {
	g.auditLog.Append(result.AuditEntry)
	g.coordinator.RecordAction(result.AuditEntry)

	g.metrics.RecordAction(result.AuditEntry.Verdict, riskScore, result.DurationMs)

	if intent.EstimatedCost > 0 {
		g.metrics.AddCost(intent.EstimatedCost)
		g.budgeter.RecordCost(intent.AgentID, intent.TaskID, intent.ActionID, intent.EstimatedCost)
	}

	g.trustLedger.RecordAction(intent.AgentID, result.Success)
}

// Rollback reverses a single action by id.
func (g *Guard) Rollback(actionID string) bool {
	ok := g.coordinator.RollbackAction(actionID)
	if ok {
		g.auditLog.MarkRolledBack(actionID)
	}
	g.metrics.RecordRollback(ok)
	return ok
}

// RollbackLast reverses the most recent n actions, optionally filtered
// by agent.
func (g *Guard) RollbackLast(n int, agentID string) []bool {
	results := g.coordinator.RollbackLast(n, agentID)
	for _, ok := range results {
		g.metrics.RecordRollback(ok)
	}
	for _, entry := range g.coordinator.ActionLog() {
		if entry.RolledBack {
			g.auditLog.MarkRolledBack(entry.ActionID)
		}
	}
	return results
}

// RollbackTask reverses every recorded action of a task, newest first.
func (g *Guard) RollbackTask(taskID string) core.RollbackReport {
	report := g.coordinator.RollbackTask(taskID)
	for _, id := range report.RolledBack {
		g.auditLog.MarkRolledBack(id)
		g.metrics.RecordRollback(true)
	}
	for range report.Failed {
		g.metrics.RecordRollback(false)
	}
	return report
}

// RegisterToolSchema attaches a JSON Schema to an action type; intents
// of that type then have their parameters validated against it.
func (g *Guard) RegisterToolSchema(actionType, schemaHash string, schema []byte) {
	g.schemaRegistry.Register(actionType, schemaHash, schema)
}

// RegisterAgent adds an agent to the trust ledger.
func (g *Guard) RegisterAgent(agentID string, level core.TrustLevel) {
	g.trustLedger.Register(agentID, level, nil, 0)
}

// RegisterRollbackHandler appends a glob-pattern rollback handler.
func (g *Guard) RegisterRollbackHandler(h rollback.Handler) {
	g.rollbackRegistry.Register(h)
}

// RegisterRollbackHandlerForType binds a handler to one exact action
// type, taking precedence over glob handlers.
func (g *Guard) RegisterRollbackHandlerForType(actionType string, h rollback.Handler) {
	g.rollbackRegistry.RegisterForType(actionType, h)
}

// AddExporter registers an additional audit exporter.
func (g *Guard) AddExporter(e observability.Exporter) {
	g.exporters.Add(e)
}

// SetApprovalCallback wires the human gate's approval channel.
func (g *Guard) SetApprovalCallback(cb evaluators.ApprovalCallback) {
	g.humanGate.SetApprovalCallback(cb)
}

// AuditEntries queries the audit log.
func (g *Guard) AuditEntries(filter core.AuditFilter) []core.AuditEntry {
	return g.auditLog.Query(filter)
}

// Metrics returns the aggregate metrics snapshot.
func (g *Guard) Metrics() core.GuardMetrics {
	return g.auditLog.Metrics(g.metrics.Counters())
}

// MetricsRegistry exposes the Prometheus registry for a scrape handler.
func (g *Guard) MetricsRegistry() *prometheus.Registry {
	return g.metrics.Registry()
}

// Accessors used by the dx helpers, the HTTP layer, and the CLI.

func (g *Guard) Pipeline() *pipeline.Pipeline           { return g.pipeline }
func (g *Guard) PolicyEngine() *evaluators.PolicyEngine { return g.policyEngine }
func (g *Guard) TrustLedger() *multiagent.TrustLedger   { return g.trustLedger }
func (g *Guard) Budgeter() *multiagent.GlobalBudgeter   { return g.budgeter }
func (g *Guard) Cascade() *multiagent.CascadeController { return g.cascade }
func (g *Guard) SnapshotManager() *rollback.Manager     { return g.snapshotManager }
func (g *Guard) Config() *config.Config                 { return g.cfg }
