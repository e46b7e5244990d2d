package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/arbiterlabs/ade/pkg/audit"
	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/executor"
	"github.com/arbiterlabs/ade/pkg/memory"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

// stubSkill is a scriptable skill_enhanced executor.
type stubSkill struct {
	payload map[string]interface{}
	err     error
	tokens  int
}

func (s *stubSkill) Mode() scenario.ExecutionMode { return scenario.ModeSkillEnhanced }

func (s *stubSkill) IsAvailable() bool { return true }

func (s *stubSkill) LatencyEstimate() time.Duration { return time.Millisecond }

func (s *stubSkill) Execute(ctx context.Context, skillID, version string, input *contracts.SkillInputEnvelope, timeout time.Duration) (*executor.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	tokens := s.tokens
	if tokens == 0 {
		tokens = 10
	}
	return &executor.Result{
		Success:    true,
		Output:     &contracts.SkillOutput{Payload: s.payload, Metadata: map[string]interface{}{"generator": "stub"}},
		TokenCount: tokens,
	}, nil
}

type testRig struct {
	pipeline *Pipeline
	audits   *audit.MemoryStore
	memories *memory.InMemoryStore
}

func newRig(t *testing.T, skill executor.Executor) *testRig {
	t.Helper()
	execs := executor.NewRegistry()
	execs.Register(executor.NewTemplateExecutor())
	if skill != nil {
		execs.Register(skill)
	}
	audits := audit.NewMemoryStore()
	memories := memory.NewInMemoryStore()
	p := New(Config{
		Executors:     execs,
		AuditStore:    audits,
		MemoryStore:   memories,
		EngineVersion: "test",
	})
	return &testRig{pipeline: p, audits: audits, memories: memories}
}

func notificationRequest(actions []string, signals map[string]interface{}, currentTime string) *contracts.DecisionRequest {
	req := &contracts.DecisionRequest{
		ScenarioID: "notification-timing",
		UserID:     "u-1",
		Platform:   "ios",
		Signals:    signals,
		Context:    contracts.RequestContext{CurrentTime: currentTime},
		Options:    contracts.RequestOptions{ExecutionModeOverride: "deterministic_only"},
	}
	for _, a := range actions {
		req.Actions = append(req.Actions, contracts.Action{ActionID: a, TypeID: a})
	}
	return req
}

func run(t *testing.T, rig *testRig, req *contracts.DecisionRequest, scn *scenario.Scenario) *Result {
	t.Helper()
	hash, err := scn.Hash()
	require.NoError(t, err)
	res, err := rig.pipeline.Run(context.Background(), req, scn, hash, "")
	require.NoError(t, err)
	return res
}

func TestNormalNotification(t *testing.T) {
	rig := newRig(t, nil)
	req := notificationRequest(
		[]string{"send-now", "delay-1h", "suppress"},
		map[string]interface{}{
			"interactions_7d":               5,
			"notifications_sent_24h":        1,
			"hours_since_last_notification": 4,
			"content_relevance_score":       0.8,
		},
		"2026-01-15T14:00:00Z")

	res := run(t, rig, req, scenario.NotificationTiming())

	assert.Equal(t, "send-now", res.Response.Decision.SelectedAction)
	assert.Empty(t, res.Response.GuardrailsApplied)
	assert.False(t, res.Response.Execution.FallbackUsed)
	assert.InDelta(t, 0.7167, res.Response.Decision.RankedOptions[0].Score, 1e-3)
	assert.GreaterOrEqual(t, len(res.Response.Decision.Payload.Rationale), 5)
}

func TestQuietHoursBlock(t *testing.T) {
	rig := newRig(t, nil)
	req := notificationRequest(
		[]string{"send-now", "delay-next-optimal"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T05:00:00Z")

	res := run(t, rig, req, scenario.NotificationTiming())

	assert.Equal(t, "delay-next-optimal", res.Response.Decision.SelectedAction)
	assert.Equal(t, []string{"GR-QUIET-HOURS"}, res.Response.GuardrailsApplied)
}

func TestMaxDailyForce(t *testing.T) {
	rig := newRig(t, nil)
	req := notificationRequest(
		[]string{"send-now", "delay-1h", "suppress"},
		map[string]interface{}{"notifications_sent_24h": 3},
		"2026-01-15T14:00:00Z")

	res := run(t, rig, req, scenario.NotificationTiming())

	assert.Equal(t, "suppress", res.Response.Decision.SelectedAction)
	assert.Equal(t, []string{"GR-MAX-DAILY"}, res.Response.GuardrailsApplied)
	require.Len(t, res.Response.Decision.RankedOptions, 1)
	assert.Equal(t, 1.0, res.Response.Decision.RankedOptions[0].Score)
}

func fitnessRequest(actionIDs ...string) *contracts.DecisionRequest {
	req := &contracts.DecisionRequest{
		ScenarioID: "fitness-recovery",
		UserID:     "u-1",
		Context:    contracts.RequestContext{CurrentTime: "2026-01-15T09:00:00Z"},
		Options:    contracts.RequestOptions{ExecutionModeOverride: "deterministic_only"},
	}
	for _, id := range actionIDs {
		req.Actions = append(req.Actions, contracts.Action{
			ActionID: id,
			TypeID:   "workout",
			Attributes: map[string]interface{}{
				"intensity": "moderate",
				"duration":  30,
			},
		})
	}
	return req
}

func TestTieBreak(t *testing.T) {
	t.Run("Lexicographic Winner", func(t *testing.T) {
		rig := newRig(t, nil)
		res := run(t, rig, fitnessRequest("workout-moderate-a", "workout-moderate-b"), scenario.FitnessRecovery())
		assert.Equal(t, "workout-moderate-a", res.Response.Decision.SelectedAction)
		assert.Empty(t, res.Response.GuardrailsApplied)
	})

	t.Run("Input Order Does Not Matter", func(t *testing.T) {
		rig := newRig(t, nil)
		res := run(t, rig, fitnessRequest("workout-moderate-b", "workout-moderate-a"), scenario.FitnessRecovery())
		assert.Equal(t, "workout-moderate-a", res.Response.Decision.SelectedAction)

		ids := []string{}
		for _, o := range res.Response.Decision.RankedOptions {
			ids = append(ids, o.ActionID)
		}
		assert.Equal(t, []string{"workout-moderate-a", "workout-moderate-b"}, ids)
	})
}

func TestSkillAuthorityViolation(t *testing.T) {
	rig := newRig(t, &stubSkill{payload: map[string]interface{}{
		"rationale": "I recommend skipping the delay and sending right away.",
	}})
	req := notificationRequest(
		[]string{"send-now", "delay-1h", "suppress"},
		map[string]interface{}{
			"interactions_7d":               5,
			"notifications_sent_24h":        1,
			"hours_since_last_notification": 4,
			"content_relevance_score":       0.8,
		},
		"2026-01-15T14:00:00Z")
	req.Options.ExecutionModeOverride = "" // let the skill run

	res := run(t, rig, req, scenario.NotificationTiming())

	assert.True(t, res.Response.Execution.FallbackUsed)
	assert.Equal(t, "AUTH-RECOMMENDATION", res.Response.Execution.FallbackReasonCode)
	// selection is unchanged and the payload came from the template ladder
	assert.Equal(t, "send-now", res.Response.Decision.SelectedAction)
	assert.NotContains(t, res.Response.Decision.Payload.Rationale, "I recommend")
	assert.GreaterOrEqual(t, len(res.Response.Decision.Payload.Rationale), 5)
}

func TestProhibitedSelectionKeyTriggersFallback(t *testing.T) {
	rig := newRig(t, &stubSkill{payload: map[string]interface{}{
		"rationale":       "A quiet note for later today.",
		"selected_action": "delay-1h",
	}})
	req := notificationRequest(
		[]string{"send-now", "delay-1h"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z")
	req.Options.ExecutionModeOverride = ""

	res := run(t, rig, req, scenario.NotificationTiming())

	assert.True(t, res.Response.Execution.FallbackUsed)
	assert.Contains(t, res.Response.Execution.FallbackReasonCode, "INV-PROHIBITED-KEY")
	assert.Equal(t, "send-now", res.Response.Decision.SelectedAction)
}

func TestSkillTimeoutFallsBack(t *testing.T) {
	rig := newRig(t, &stubSkill{err: context.DeadlineExceeded})
	req := notificationRequest(
		[]string{"send-now", "delay-1h"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z")
	req.Options.ExecutionModeOverride = ""

	res := run(t, rig, req, scenario.NotificationTiming())

	assert.True(t, res.Response.Execution.FallbackUsed)
	assert.Equal(t, CodeSkillTimeout, res.Response.Execution.FallbackReasonCode)
	assert.GreaterOrEqual(t, len(res.Response.Decision.Payload.Rationale), 5)
}

func TestNoEligibleActions(t *testing.T) {
	rig := newRig(t, nil)
	req := notificationRequest(
		[]string{"send-now"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T05:00:00Z") // quiet hours block the only action

	scn := scenario.NotificationTiming()
	hash, err := scn.Hash()
	require.NoError(t, err)
	_, err = rig.pipeline.Run(context.Background(), req, scn, hash, "")
	require.Error(t, err)
	assert.Equal(t, CodeNoEligibleActions, CodeOf(err))
}

func TestIngestRejections(t *testing.T) {
	scn := scenario.NotificationTiming()
	hash, err := scn.Hash()
	require.NoError(t, err)

	cases := []struct {
		name     string
		mutate   func(*contracts.DecisionRequest)
		wantCode string
	}{
		{"Missing User", func(r *contracts.DecisionRequest) { r.UserID = "" }, CodeInvalidRequest},
		{"No Actions", func(r *contracts.DecisionRequest) { r.Actions = nil }, CodeInvalidRequest},
		{"Missing Time", func(r *contracts.DecisionRequest) { r.Context.CurrentTime = "" }, CodeInvalidRequest},
		{"Bad Time", func(r *contracts.DecisionRequest) { r.Context.CurrentTime = "yesterday" }, CodeInvalidRequest},
		{"Unknown Type", func(r *contracts.DecisionRequest) {
			r.Actions = []contracts.Action{{ActionID: "x", TypeID: "launch-rocket"}}
		}, CodeInvalidActionType},
		{"Duplicate Action ID", func(r *contracts.DecisionRequest) {
			r.Actions = []contracts.Action{
				{ActionID: "send-now", TypeID: "send-now"},
				{ActionID: "send-now", TypeID: "suppress"},
			}
		}, CodeInvalidRequest},
		{"Bad Mode Override", func(r *contracts.DecisionRequest) {
			r.Options.ExecutionModeOverride = "telepathy"
		}, CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rig := newRig(t, nil)
			req := notificationRequest(
				[]string{"send-now"},
				map[string]interface{}{},
				"2026-01-15T14:00:00Z")
			tc.mutate(req)
			_, err := rig.pipeline.Run(context.Background(), req, scn, hash, "")
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, CodeOf(err))
		})
	}
}

func TestClientDecisionIDIgnored(t *testing.T) {
	rig := newRig(t, nil)
	req := notificationRequest(
		[]string{"send-now", "suppress"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z")
	req.DecisionID = "client-chosen-id"

	res := run(t, rig, req, scenario.NotificationTiming())
	assert.NotEqual(t, "client-chosen-id", res.Response.Decision.DecisionID)
}

func TestDeterminism(t *testing.T) {
	req := func() *contracts.DecisionRequest {
		return notificationRequest(
			[]string{"send-now", "delay-1h", "suppress"},
			map[string]interface{}{
				"interactions_7d":               5,
				"notifications_sent_24h":        1,
				"hours_since_last_notification": 4,
				"content_relevance_score":       0.8,
			},
			"2026-01-15T14:00:00Z")
	}

	rig := newRig(t, nil)
	scn := scenario.NotificationTiming()
	first := run(t, rig, req(), scn)
	second := run(t, rig, req(), scn)

	report := audit.Compare(first.Response, second.Response)
	assert.True(t, report.Deterministic, "differences: %+v", report.Differences)
	assert.Equal(t, first.Response.State.InputsHash, second.Response.State.InputsHash)
}

func TestAuditWriteOnceAndReplayToken(t *testing.T) {
	rig := newRig(t, nil)
	res := run(t, rig, notificationRequest(
		[]string{"send-now", "suppress"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z"), scenario.NotificationTiming())

	ctx := context.Background()
	byID, err := rig.audits.Retrieve(ctx, res.Response.Audit.DecisionID)
	require.NoError(t, err)
	byToken, err := rig.audits.RetrieveByToken(ctx, res.Response.Audit.ReplayToken)
	require.NoError(t, err)

	a, _ := json.Marshal(byID)
	b, _ := json.Marshal(byToken)
	assert.JSONEq(t, string(a), string(b))

	assert.Equal(t, res.Response.Decision.SelectedAction, byID.Response.Decision.SelectedAction)
	assert.Equal(t, "test", byID.EngineVersion)
	assert.NotEmpty(t, byID.SnapshotID)

	// a second store for the same decision id is refused
	err = rig.audits.Store(ctx, res.Trace)
	assert.ErrorIs(t, err, audit.ErrDuplicate)
}

func TestMemoryDerivation(t *testing.T) {
	rig := newRig(t, nil)
	ctx := context.Background()
	require.NoError(t, rig.memories.Apply(ctx, "ios", "u-1", []memory.Update{
		{Namespace: "learned", Key: "preferred_channel", Value: "email"},
	}))

	res := run(t, rig, notificationRequest(
		[]string{"send-now", "suppress"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z"), scenario.NotificationTiming())

	assert.Equal(t, "email", res.Response.State.Core["preferred_channel"])
}

func TestMemoryAbsentFallsToDefaults(t *testing.T) {
	rig := newRig(t, nil)
	res := run(t, rig, notificationRequest(
		[]string{"send-now", "suppress"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z"), scenario.NotificationTiming())

	assert.Equal(t, "push", res.Response.State.Core["preferred_channel"])
}

func TestDimensionClampIdempotent(t *testing.T) {
	rig := newRig(t, nil)
	res := run(t, rig, notificationRequest(
		[]string{"send-now", "suppress"},
		map[string]interface{}{
			"interactions_7d":               9999, // above declared max 500
			"notifications_sent_24h":        -5,   // below declared min 0
			"hours_since_last_notification": 4,
		},
		"2026-01-15T14:00:00Z"), scenario.NotificationTiming())

	assert.Equal(t, 500.0, res.Response.State.Core["interactions_7d"])
	assert.Equal(t, 0.0, res.Response.State.Core["notifications_sent_24h"])
	// clamping an already-clamped value changes nothing on a re-run
	again := run(t, rig, notificationRequest(
		[]string{"send-now", "suppress"},
		map[string]interface{}{
			"interactions_7d":               500,
			"notifications_sent_24h":        0,
			"hours_since_last_notification": 4,
		},
		"2026-01-15T14:00:00Z"), scenario.NotificationTiming())
	assert.Equal(t, 500.0, again.Response.State.Core["interactions_7d"])
	assert.Equal(t, 0.0, again.Response.State.Core["notifications_sent_24h"])
}

func TestIntensityCap(t *testing.T) {
	rig := newRig(t, nil)
	req := &contracts.DecisionRequest{
		ScenarioID: "fitness-recovery",
		UserID:     "u-1",
		Signals:    map[string]interface{}{"soreness": 0.9},
		Context:    contracts.RequestContext{CurrentTime: "2026-01-15T09:00:00Z"},
		Options:    contracts.RequestOptions{ExecutionModeOverride: "deterministic_only"},
		Actions: []contracts.Action{
			{ActionID: "workout-high", TypeID: "workout", Attributes: map[string]interface{}{"intensity": "high"}},
			{ActionID: "workout-low", TypeID: "workout", Attributes: map[string]interface{}{"intensity": "low"}},
			{ActionID: "rest-day", TypeID: "rest"},
		},
	}

	res := run(t, rig, req, scenario.FitnessRecovery())

	assert.Contains(t, res.Response.GuardrailsApplied, "GR-OVERTRAINING")
	for _, o := range res.Response.Decision.RankedOptions {
		assert.NotEqual(t, "workout-high", o.ActionID)
	}
	// the attribute-less rest action is exempt from the cap
	ids := []string{}
	for _, o := range res.Response.Decision.RankedOptions {
		ids = append(ids, o.ActionID)
	}
	assert.Contains(t, ids, "rest-day")
}

func TestProjectionOptions(t *testing.T) {
	rig := newRig(t, nil)
	req := notificationRequest(
		[]string{"send-now", "delay-1h", "suppress"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z")
	req.Options.IncludeScoreBreakdown = true
	req.Options.MaxRankedOptions = 2

	res := run(t, rig, req, scenario.NotificationTiming())
	require.Len(t, res.Response.Decision.RankedOptions, 2)
	assert.NotEmpty(t, res.Response.Decision.RankedOptions[0].ScoreBreakdown)

	// breakdown suppressed by default
	req2 := notificationRequest(
		[]string{"send-now", "suppress"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z")
	res2 := run(t, rig, req2, scenario.NotificationTiming())
	assert.Empty(t, res2.Response.Decision.RankedOptions[0].ScoreBreakdown)
}

func TestStageTimingsRecorded(t *testing.T) {
	rig := newRig(t, nil)
	res := run(t, rig, notificationRequest(
		[]string{"send-now", "suppress"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z"), scenario.NotificationTiming())

	require.Len(t, res.Envelope.Timings, 9)
	assert.Equal(t, "ingest", res.Envelope.Timings[0].Name)
	assert.Equal(t, "audit_and_replay", res.Envelope.Timings[8].Name)
}

func TestRationaleFreeSkillOutputFallsBack(t *testing.T) {
	rig := newRig(t, &stubSkill{payload: map[string]interface{}{
		"note": "all set for later today",
	}})
	req := notificationRequest(
		[]string{"send-now", "delay-1h", "suppress"},
		map[string]interface{}{
			"interactions_7d":               5,
			"notifications_sent_24h":        1,
			"hours_since_last_notification": 4,
			"content_relevance_score":       0.8,
		},
		"2026-01-15T14:00:00Z")
	req.Options.ExecutionModeOverride = ""

	res := run(t, rig, req, scenario.NotificationTiming())

	// a payload without a rationale never reaches the client as-is: the
	// schema phase rejects it and stage 8 substitutes the template output
	assert.True(t, res.Response.Execution.FallbackUsed)
	assert.Equal(t, "SCHEMA-CONTRACT", res.Response.Execution.FallbackReasonCode)
	assert.Equal(t, "send-now", res.Response.Decision.SelectedAction)
	assert.GreaterOrEqual(t, len(res.Response.Decision.Payload.Rationale), 5)
}

func TestResolutionReasons(t *testing.T) {
	newReq := func() *contracts.DecisionRequest {
		return notificationRequest(
			[]string{"send-now", "suppress"},
			map[string]interface{}{"interactions_7d": 5},
			"2026-01-15T14:00:00Z")
	}

	t.Run("Caller Override", func(t *testing.T) {
		rig := newRig(t, nil)
		res := run(t, rig, newReq(), scenario.NotificationTiming())
		assert.Equal(t, ReasonModeOverride, res.Envelope.Resolution.ResolutionReason)
	})

	t.Run("Scenario Default Deterministic", func(t *testing.T) {
		rig := newRig(t, nil)
		scn := scenario.NotificationTiming()
		scn.Execution.DefaultMode = scenario.ModeDeterministicOnly
		req := newReq()
		req.Options.ExecutionModeOverride = ""
		res := run(t, rig, req, scn)
		assert.Equal(t, ReasonModeDefault, res.Envelope.Resolution.ResolutionReason)
	})

	t.Run("Override Matching The Default Is Not An Override", func(t *testing.T) {
		rig := newRig(t, nil)
		scn := scenario.NotificationTiming()
		scn.Execution.DefaultMode = scenario.ModeDeterministicOnly
		res := run(t, rig, newReq(), scn) // override = deterministic_only
		assert.Equal(t, ReasonModeDefault, res.Envelope.Resolution.ResolutionReason)
	})

	t.Run("Primary Skill", func(t *testing.T) {
		rig := newRig(t, &stubSkill{payload: map[string]interface{}{
			"rationale": "A good moment to check in with your plan.",
		}})
		req := newReq()
		req.Options.ExecutionModeOverride = ""
		res := run(t, rig, req, scenario.NotificationTiming())
		assert.Equal(t, ReasonPrimary, res.Envelope.Resolution.ResolutionReason)
	})
}

func TestStageSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	execs := executor.NewRegistry()
	execs.Register(executor.NewTemplateExecutor())
	p := New(Config{
		Executors:     execs,
		AuditStore:    audit.NewMemoryStore(),
		MemoryStore:   memory.NewInMemoryStore(),
		EngineVersion: "test",
		Tracer:        tp.Tracer("test"),
	})

	scn := scenario.NotificationTiming()
	hash, err := scn.Hash()
	require.NoError(t, err)
	req := notificationRequest(
		[]string{"send-now", "suppress"},
		map[string]interface{}{"interactions_7d": 5},
		"2026-01-15T14:00:00Z")
	_, err = p.Run(context.Background(), req, scn, hash, "")
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 9)
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name()
	}
	assert.Equal(t, "ade.stage.ingest", names[0])
	assert.Equal(t, "ade.stage.audit_and_replay", names[8])
	assert.Contains(t, names, "ade.stage.score_and_rank")
}
