package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/ade/pkg/audit"
	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

// stageAudit mints the replay token and trace id, pins a memory snapshot,
// projects the final response, and hands the trace to the audit store. The
// store writes a deep copy; this is the single write per decision.
func (p *Pipeline) stageAudit(ctx context.Context, env *envelope.Envelope, scn *scenario.Scenario, requestID string, started time.Time) (*Result, error) {
	env.ReplayToken = audit.EncodeToken(env.DecisionID, env.ScenarioHash)
	env.TraceID = uuid.NewString()

	snapshotID := ""
	if p.memories != nil {
		snap, err := p.memories.Snapshot(ctx, env.Request.Platform, env.Request.UserID)
		if err != nil {
			// memory is non-authoritative; the decision still commits
			p.logger.Warn("memory snapshot failed",
				"decision_id", env.DecisionID, "error", err)
		} else {
			snapshotID = snap.SnapshotID
		}
	}

	committed := p.now()
	duration := committed.Sub(started).Milliseconds()
	response := p.buildResponse(env, requestID, duration, committed)

	trace := &audit.Trace{
		DecisionID:      env.DecisionID,
		ScenarioID:      env.ScenarioID,
		ScenarioVersion: env.ScenarioVersion,
		ScenarioHash:    env.ScenarioHash,
		EngineVersion:   p.engineVersion,
		CommittedAt:     committed,
		ReplayToken:     env.ReplayToken,
		TraceID:         env.TraceID,
		InputsHash:      env.State.InputsHash,
		SnapshotID:      snapshotID,
		Request:         env.Request,
		Stages: audit.StageArtifacts{
			GuardrailResults: env.GuardrailResults,
			EligibleActions:  actionIDs(env.EligibleActions),
			ForcedActionID:   env.ForcedActionID,
			SelectionMargin:  env.SelectionMargin,
			Resolution:       env.Resolution,
			Validation:       env.Validation,
			Timings:          env.Timings,
		},
		Response:        response,
		TotalDurationMS: duration,
	}

	if err := p.audits.Store(ctx, trace); err != nil {
		return nil, internalErr(err)
	}

	return &Result{
		Envelope:   env,
		Response:   response,
		Trace:      trace,
		SnapshotID: snapshotID,
	}, nil
}

// buildResponse projects the envelope into the wire response, honoring the
// request's projection options.
func (p *Pipeline) buildResponse(env *envelope.Envelope, requestID string, durationMS int64, now time.Time) *contracts.DecisionResponse {
	opts := env.Request.Options

	payload := p.finalPayload(env)
	if opts.IncludeRationale != nil && !*opts.IncludeRationale {
		payload.Rationale = ""
	}

	ranked := env.RankedOptions()
	if opts.MaxRankedOptions > 0 && len(ranked) > opts.MaxRankedOptions {
		ranked = ranked[:opts.MaxRankedOptions]
	}
	if !opts.IncludeScoreBreakdown {
		for i := range ranked {
			ranked[i].ScoreBreakdown = nil
		}
	}

	return &contracts.DecisionResponse{
		Decision: contracts.DecisionBlock{
			DecisionID:     env.DecisionID,
			SelectedAction: env.SelectedAction(),
			Payload:        payload,
			RankedOptions:  ranked,
		},
		State: env.State.Clone(),
		Execution: contracts.ExecutionBlock{
			ExecutionMode:      env.Resolution.ExecutionMode,
			SkillID:            env.Resolution.SkillID,
			SkillVersion:       env.Resolution.SkillVersion,
			ValidationStatus:   validationStatus(env),
			FallbackUsed:       env.FallbackTriggered,
			FallbackReasonCode: env.FallbackReasonCode,
		},
		GuardrailsApplied: triggeredRuleIDs(env.GuardrailResults),
		Audit: contracts.AuditBlock{
			DecisionID:      env.DecisionID,
			ReplayToken:     env.ReplayToken,
			ScenarioID:      env.ScenarioID,
			ScenarioVersion: env.ScenarioVersion,
			ScenarioHash:    env.ScenarioHash,
			TraceID:         env.TraceID,
		},
		Meta: contracts.MetaBlock{
			RequestID:       requestID,
			Timestamp:       now.Format(time.RFC3339Nano),
			TotalDurationMS: durationMS,
			APIVersion:      APIVersion,
		},
	}
}

// finalPayload is the fallback payload when one was synthesized, otherwise
// the validated skill payload.
func (p *Pipeline) finalPayload(env *envelope.Envelope) contracts.DecisionPayload {
	if env.FallbackPayload != nil {
		return *env.FallbackPayload
	}
	out := contracts.DecisionPayload{}
	if env.Execution.Output == nil {
		return out
	}
	raw := env.Execution.Output.Payload
	if s, ok := raw["rationale"].(string); ok {
		out.Rationale = s
	}
	if s, ok := raw["display_title"].(string); ok {
		out.DisplayTitle = s
	}
	if m, ok := raw["display_parameters"].(map[string]interface{}); ok {
		out.DisplayParameters = contracts.CloneAnyMap(m)
	}
	return out
}

func validationStatus(env *envelope.Envelope) string {
	switch {
	case len(env.Validation.Phases) == 0:
		return "skipped"
	case env.Validation.Passed:
		return "passed"
	default:
		return "failed"
	}
}

func actionIDs(actions []contracts.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ActionID
	}
	return out
}
