// Package pipeline implements the nine-stage decision pipeline: ingest,
// derive-state, evaluate-guardrails, score-and-rank, resolve-skills,
// execute-skill, validate-output, fallback, and audit-and-replay. One run
// owns one envelope; stages execute sequentially and the selection locks at
// stage 4.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/arbiterlabs/ade/pkg/audit"
	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/executor"
	"github.com/arbiterlabs/ade/pkg/expr"
	"github.com/arbiterlabs/ade/pkg/memory"
	"github.com/arbiterlabs/ade/pkg/scenario"
	"github.com/arbiterlabs/ade/pkg/validation"
)

// APIVersion is stamped into response metadata.
const APIVersion = "v1"

// Pipeline is the reusable stage runner. Safe for concurrent Run calls: all
// per-request state lives in the envelope.
type Pipeline struct {
	evaluator *expr.Evaluator
	executors *executor.Registry
	validator *validation.Validator
	audits    audit.Store
	memories  memory.Store
	logger    *slog.Logger
	tracer    trace.Tracer

	engineVersion string
	now           func() time.Time
}

// Config wires a pipeline.
type Config struct {
	Executors     *executor.Registry
	AuditStore    audit.Store
	MemoryStore   memory.Store
	Logger        *slog.Logger
	EngineVersion string

	// Tracer emits one span per stage. Nil means no tracing.
	Tracer trace.Tracer
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("ade.pipeline")
	}
	return &Pipeline{
		evaluator:     expr.New(),
		executors:     cfg.Executors,
		validator:     validation.New(),
		audits:        cfg.AuditStore,
		memories:      cfg.MemoryStore,
		logger:        logger.With("component", "pipeline"),
		tracer:        tracer,
		engineVersion: cfg.EngineVersion,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Result is everything one run produces.
type Result struct {
	Envelope   *envelope.Envelope
	Response   *contracts.DecisionResponse
	Trace      *audit.Trace
	SnapshotID string
}

type stage struct {
	num  int
	name string
	fn   func(ctx context.Context, env *envelope.Envelope, scn *scenario.Scenario) error
}

// Run walks the nine stages. Errors in stages 1-5 and 9 are terminal;
// errors in stages 6-7 trigger the deterministic fallback and the run
// continues. RequestID is echoed into response metadata; pass empty to
// default it to the decision id.
func (p *Pipeline) Run(ctx context.Context, req *contracts.DecisionRequest, scn *scenario.Scenario, scenarioHash, requestID string) (*Result, error) {
	started := p.now()
	if budget := scn.Execution.Timeouts.TotalDecisionMS; budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(budget)*time.Millisecond)
		defer cancel()
	}

	env := envelope.New(req, scn.ID, scn.Version, scenarioHash)
	if requestID == "" {
		requestID = env.DecisionID
	}

	stages := []stage{
		{1, "ingest", p.stageIngest},
		{2, "derive_state", p.stageDeriveState},
		{3, "evaluate_guardrails", p.stageGuardrails},
		{4, "score_and_rank", p.stageScoreAndRank},
		{5, "resolve_skills", p.stageResolveSkills},
		{6, "execute_skill", p.stageExecuteSkill},
		{7, "validate_output", p.stageValidateOutput},
		{8, "fallback", p.stageFallback},
	}

	for _, s := range stages {
		start := p.now()
		stageCtx, span := p.tracer.Start(ctx, "ade.stage."+s.name)
		err := s.fn(stageCtx, env, scn)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, CodeOf(err))
		}
		span.End()
		env.RecordTiming(s.num, s.name, start, p.now())
		if err == nil {
			continue
		}
		if s.num == 6 || s.num == 7 {
			// non-terminal: route through fallback, never surface the
			// raw failure
			env.FallbackTriggered = true
			if env.FallbackReasonCode == "" {
				env.FallbackReasonCode = CodeOf(err)
			}
			p.logger.Warn("stage failed, falling back",
				"stage", s.num, "decision_id", env.DecisionID, "error", err)
			continue
		}
		p.logger.Error("stage failed",
			"stage", s.num, "decision_id", env.DecisionID, "error", err)
		return nil, err
	}

	// Stage 9 persists even when the caller has gone away: a locked
	// selection must leave a trace.
	auditCtx := context.WithoutCancel(ctx)
	start := p.now()
	auditCtx, span := p.tracer.Start(auditCtx, "ade.stage.audit_and_replay")
	result, err := p.stageAudit(auditCtx, env, scn, requestID, started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, CodeOf(err))
	}
	span.End()
	env.RecordTiming(9, "audit_and_replay", start, p.now())
	if err != nil {
		p.logger.Error("stage failed", "stage", 9, "decision_id", env.DecisionID, "error", err)
		return nil, err
	}
	return result, nil
}

// internalErr wraps unexpected failures so no raw error shape escapes.
func internalErr(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return E(CodeInternal, "%s", err.Error())
}
