// Package engine wires the decision runtime together: the scenario
// registry, the nine-stage pipeline, the audit and memory stores, the
// executor registry, and post-decision learner dispatch. One Engine serves
// concurrent decisions; all per-request state lives inside the pipeline
// envelope.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/arbiterlabs/ade/pkg/audit"
	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/executor"
	"github.com/arbiterlabs/ade/pkg/learner"
	"github.com/arbiterlabs/ade/pkg/memory"
	"github.com/arbiterlabs/ade/pkg/observability"
	"github.com/arbiterlabs/ade/pkg/pipeline"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

// Version is the engine release stamped into traces and responses.
const Version = "ade-1.0.0"

// Engine is the assembled decision runtime.
type Engine struct {
	scenarios *scenario.Registry
	executors *executor.Registry
	audits    audit.Store
	memories  memory.Store
	learners  *learner.Registry
	pipeline  *pipeline.Pipeline
	obs       *observability.Provider
	logger    *slog.Logger
	version   string

	// dispatchSync runs learners inline after the response is built
	// instead of in a goroutine. Tests use it; the server does not.
	dispatchSync bool
	wg           sync.WaitGroup
}

// Config wires an engine. Zero-value fields get working in-process
// defaults, so tests can construct an engine from almost nothing.
type Config struct {
	Scenarios     *scenario.Registry
	Executors     *executor.Registry
	AuditStore    audit.Store
	MemoryStore   memory.Store
	Learners      *learner.Registry
	Logger        *slog.Logger
	EngineVersion string

	// Observability records decide-path RED metrics and per-stage spans.
	// Nil disables both.
	Observability *observability.Provider

	// RegisterBuiltins installs the shipped scenarios on startup.
	RegisterBuiltins bool
	// SyncLearnerDispatch makes Decide run learners before returning.
	SyncLearnerDispatch bool
}

// New assembles an engine.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Scenarios == nil {
		cfg.Scenarios = scenario.NewRegistry()
	}
	if cfg.Executors == nil {
		cfg.Executors = executor.NewRegistry()
		cfg.Executors.Register(executor.NewTemplateExecutor())
	}
	if cfg.AuditStore == nil {
		cfg.AuditStore = audit.NewMemoryStore()
	}
	if cfg.MemoryStore == nil {
		cfg.MemoryStore = memory.NewInMemoryStore()
	}
	if cfg.Learners == nil {
		cfg.Learners = learner.NewRegistry(cfg.MemoryStore, logger)
	}
	version := cfg.EngineVersion
	if version == "" {
		version = Version
	}

	if cfg.RegisterBuiltins {
		for _, s := range scenario.Builtin() {
			if _, err := cfg.Scenarios.Register(s); err != nil {
				return nil, fmt.Errorf("engine: register builtin %s: %w", s.ID, err)
			}
		}
	}

	e := &Engine{
		scenarios:    cfg.Scenarios,
		executors:    cfg.Executors,
		audits:       cfg.AuditStore,
		memories:     cfg.MemoryStore,
		learners:     cfg.Learners,
		obs:          cfg.Observability,
		logger:       logger.With("component", "engine"),
		version:      version,
		dispatchSync: cfg.SyncLearnerDispatch,
	}
	e.pipeline = pipeline.New(pipeline.Config{
		Executors:     cfg.Executors,
		AuditStore:    cfg.AuditStore,
		MemoryStore:   cfg.MemoryStore,
		Logger:        logger,
		EngineVersion: version,
		Tracer:        e.stageTracer(),
	})
	return e, nil
}

// stageTracer is the per-stage span source handed to pipelines; nil when
// the engine runs without an observability provider.
func (e *Engine) stageTracer() oteltrace.Tracer {
	if e.obs == nil {
		return nil
	}
	return e.obs.Tracer()
}

// Scenarios exposes the scenario registry for startup wiring.
func (e *Engine) Scenarios() *scenario.Registry { return e.scenarios }

// Learners exposes the learner registry for startup wiring.
func (e *Engine) Learners() *learner.Registry { return e.learners }

// Decide resolves the scenario, runs the pipeline, and dispatches
// learners against the committed decision. requestID is the caller's
// correlation id; empty means "use the decision id".
func (e *Engine) Decide(ctx context.Context, req *contracts.DecisionRequest, requestID string) (*contracts.DecisionResponse, error) {
	if req == nil || req.ScenarioID == "" {
		return nil, pipeline.E(pipeline.CodeInvalidRequest, "scenario_id is required")
	}
	if e.obs == nil {
		return e.decide(ctx, req, requestID)
	}

	ctx, done := e.obs.TrackDecision(ctx, req.ScenarioID)
	resp, err := e.decide(ctx, req, requestID)
	done(err, err == nil && resp.Execution.FallbackUsed)
	return resp, err
}

func (e *Engine) decide(ctx context.Context, req *contracts.DecisionRequest, requestID string) (*contracts.DecisionResponse, error) {
	entry, err := e.scenarios.Get(req.ScenarioID, "latest")
	if err != nil {
		if errors.Is(err, scenario.ErrNotFound) {
			return nil, pipeline.E(pipeline.CodeInvalidScenario, "unknown scenario %q", req.ScenarioID)
		}
		return nil, err
	}

	result, err := e.pipeline.Run(ctx, req, entry.Scenario, entry.Hash, requestID)
	if err != nil {
		return nil, err
	}

	e.dispatchLearners(ctx, req, result)
	return result.Response, nil
}

// dispatchLearners feeds the committed decision to the learner registry.
// Learning is post-decision by construction: the response is already
// final, so nothing a learner does can reach back into this decision.
func (e *Engine) dispatchLearners(ctx context.Context, req *contracts.DecisionRequest, result *pipeline.Result) {
	if len(e.learners.Learners()) == 0 {
		return
	}
	in := learner.Input{
		DecisionID:       result.Response.Decision.DecisionID,
		FinalDecision:    result.Response.Decision.SelectedAction,
		Timestamp:        result.Trace.CommittedAt,
		MemorySnapshotID: result.SnapshotID,
		Platform:         req.Platform,
		UserID:           req.UserID,
		ScenarioID:       req.ScenarioID,
		GuardrailsFired:  result.Response.GuardrailsApplied,
	}
	for _, o := range result.Response.Decision.RankedOptions {
		in.RankedActionIDs = append(in.RankedActionIDs, o.ActionID)
	}

	if e.dispatchSync {
		e.learners.Dispatch(context.WithoutCancel(ctx), in)
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.learners.Dispatch(context.WithoutCancel(ctx), in)
	}()
}

// Trace returns the stored trace for a decision id or replay token.
func (e *Engine) Trace(ctx context.Context, ref string) (*audit.Trace, error) {
	if audit.IsToken(ref) {
		return e.audits.RetrieveByToken(ctx, ref)
	}
	return e.audits.Retrieve(ctx, ref)
}

// HasDecision reports whether a decision trace exists.
func (e *Engine) HasDecision(ctx context.Context, decisionID string) (bool, error) {
	return e.audits.Exists(ctx, decisionID)
}

// Verify re-runs a committed decision against its pinned scenario hash and
// pinned memory snapshot, compares with the stored response, and persists
// the tri-state verdict. The replay writes its trace to a throwaway store;
// the live audit log only gains the verdict.
func (e *Engine) Verify(ctx context.Context, decisionID string) (*audit.ComparisonReport, error) {
	trace, err := e.Trace(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if trace.Request == nil {
		return nil, fmt.Errorf("engine: trace %s has no stored request", trace.DecisionID)
	}

	entry, err := e.scenarios.GetByHash(trace.ScenarioHash)
	if err != nil {
		// scenario content changed or was never re-registered; the
		// original behavior cannot be reproduced
		if storeErr := e.audits.StoreVerification(ctx, trace.DecisionID, false); storeErr != nil {
			return nil, storeErr
		}
		return nil, fmt.Errorf("engine: pinned scenario unavailable: %w", err)
	}

	replayPipe := pipeline.New(pipeline.Config{
		Executors:     e.executors,
		AuditStore:    audit.NewMemoryStore(),
		MemoryStore:   e.replayMemory(ctx, trace),
		Logger:        e.logger,
		EngineVersion: e.version,
		Tracer:        e.stageTracer(),
	})
	result, err := replayPipe.Run(ctx, trace.Request, entry.Scenario, entry.Hash, "")
	if err != nil {
		if storeErr := e.audits.StoreVerification(ctx, trace.DecisionID, false); storeErr != nil {
			return nil, storeErr
		}
		return nil, fmt.Errorf("engine: replay run failed: %w", err)
	}

	report := audit.Compare(trace.Response, result.Response)
	if err := e.audits.StoreVerification(ctx, trace.DecisionID, report.Deterministic); err != nil {
		return nil, err
	}
	return report, nil
}

// Replay satisfies audit.Runner: re-run a stored request through the live
// engine wiring without learner dispatch.
func (e *Engine) Replay(ctx context.Context, req *contracts.DecisionRequest) (*contracts.DecisionResponse, error) {
	entry, err := e.scenarios.Get(req.ScenarioID, "latest")
	if err != nil {
		return nil, err
	}
	replayPipe := pipeline.New(pipeline.Config{
		Executors:     e.executors,
		AuditStore:    audit.NewMemoryStore(),
		MemoryStore:   e.memories,
		Logger:        e.logger,
		EngineVersion: e.version,
		Tracer:        e.stageTracer(),
	})
	result, err := replayPipe.Run(ctx, req, entry.Scenario, entry.Hash, "")
	if err != nil {
		return nil, err
	}
	return result.Response, nil
}

// replayMemory pins the replay's memory view to the snapshot taken when
// the decision committed. A missing snapshot degrades to the live store;
// memory is non-authoritative either way.
func (e *Engine) replayMemory(ctx context.Context, trace *audit.Trace) memory.Store {
	if trace.SnapshotID == "" {
		return e.memories
	}
	snap, err := e.memories.GetSnapshot(ctx, trace.SnapshotID)
	if err != nil {
		e.logger.Warn("pinned memory snapshot unavailable, replaying against live memory",
			"decision_id", trace.DecisionID, "snapshot_id", trace.SnapshotID, "error", err)
		return e.memories
	}
	return &frozenMemory{snap: snap}
}

// Close waits for in-flight learner dispatches.
func (e *Engine) Close() {
	e.wg.Wait()
}

// Health is the component status surface behind GET /v1/health.
type Health struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Scenarios int             `json:"scenarios"`
	Executors map[string]bool `json:"executors"`
	Learners  int             `json:"learners"`
	Time      string          `json:"time"`
}

// CheckHealth reports component availability.
func (e *Engine) CheckHealth(ctx context.Context) Health {
	h := Health{
		Status:    "ok",
		Version:   e.version,
		Scenarios: len(e.scenarios.List()),
		Executors: make(map[string]bool),
		Learners:  len(e.learners.Learners()),
		Time:      time.Now().UTC().Format(time.RFC3339),
	}
	for _, mode := range []scenario.ExecutionMode{scenario.ModeDeterministicOnly, scenario.ModeSkillEnhanced} {
		if exec, err := e.executors.Get(mode); err == nil {
			h.Executors[string(mode)] = exec.IsAvailable()
		}
	}
	if _, ok := h.Executors[string(scenario.ModeDeterministicOnly)]; !ok {
		// the deterministic path is the fallback of last resort
		h.Status = "degraded"
	}
	return h
}
