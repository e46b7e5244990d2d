package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/arbiterlabs/ade/pkg/audit"
	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/learner"
	"github.com/arbiterlabs/ade/pkg/memory"
	"github.com/arbiterlabs/ade/pkg/observability"
	"github.com/arbiterlabs/ade/pkg/pipeline"
)

func newTestEngine(t *testing.T, mem memory.Store) *Engine {
	t.Helper()
	if mem == nil {
		mem = memory.NewInMemoryStore()
	}
	e, err := New(Config{
		MemoryStore:         mem,
		RegisterBuiltins:    true,
		SyncLearnerDispatch: true,
	})
	require.NoError(t, err)
	return e
}

func decideRequest() *contracts.DecisionRequest {
	return &contracts.DecisionRequest{
		ScenarioID: "notification-timing",
		UserID:     "u-1",
		Platform:   "ios",
		Actions: []contracts.Action{
			{ActionID: "send-now", TypeID: "send-now"},
			{ActionID: "delay-1h", TypeID: "delay-1h"},
			{ActionID: "suppress", TypeID: "suppress"},
		},
		Signals: map[string]interface{}{
			"interactions_7d":               5,
			"notifications_sent_24h":        1,
			"hours_since_last_notification": 4,
			"content_relevance_score":       0.8,
		},
		Context: contracts.RequestContext{CurrentTime: "2026-01-15T14:00:00Z"},
		Options: contracts.RequestOptions{ExecutionModeOverride: "deterministic_only"},
	}
}

func TestDecide(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	resp, err := e.Decide(ctx, decideRequest(), "req-42")
	require.NoError(t, err)

	assert.Equal(t, "send-now", resp.Decision.SelectedAction)
	assert.Equal(t, "req-42", resp.Meta.RequestID)
	assert.NotEmpty(t, resp.Audit.ReplayToken)
	assert.Equal(t, "notification-timing", resp.Audit.ScenarioID)

	ok, err := e.HasDecision(ctx, resp.Decision.DecisionID)
	require.NoError(t, err)
	assert.True(t, ok)

	byToken, err := e.Trace(ctx, resp.Audit.ReplayToken)
	require.NoError(t, err)
	assert.Equal(t, resp.Decision.DecisionID, byToken.DecisionID)
}

func TestDecideRequestIDDefaultsToDecisionID(t *testing.T) {
	e := newTestEngine(t, nil)
	resp, err := e.Decide(context.Background(), decideRequest(), "")
	require.NoError(t, err)
	assert.Equal(t, resp.Decision.DecisionID, resp.Meta.RequestID)
}

func TestDecideUnknownScenario(t *testing.T) {
	e := newTestEngine(t, nil)
	req := decideRequest()
	req.ScenarioID = "no-such-policy"
	_, err := e.Decide(context.Background(), req, "")
	require.Error(t, err)
	assert.Equal(t, pipeline.CodeInvalidScenario, pipeline.CodeOf(err))
}

// crashingLearner panics on every dispatch.
type crashingLearner struct{}

func (crashingLearner) LearnerID() string { return "crasher" }
func (crashingLearner) Version() string   { return "0.0.1" }
func (crashingLearner) Process(ctx context.Context, in learner.Input) (*learner.Result, error) {
	panic("learner bug")
}

// floodingLearner emits far more writes than the per-result budget.
type floodingLearner struct{}

func (floodingLearner) LearnerID() string { return "flooder" }
func (floodingLearner) Version() string   { return "0.0.1" }
func (floodingLearner) Process(ctx context.Context, in learner.Input) (*learner.Result, error) {
	r := &learner.Result{}
	for i := 0; i < 500; i++ {
		r.MemoryUpdates = append(r.MemoryUpdates, memory.Update{
			Namespace: "learned.flood", Key: string(rune('a'+i%26)) + "x", Value: i,
		})
	}
	return r, nil
}

// escalatingLearner tries to write outside the learned namespace.
type escalatingLearner struct{}

func (escalatingLearner) LearnerID() string { return "escalator" }
func (escalatingLearner) Version() string   { return "0.0.1" }
func (escalatingLearner) Process(ctx context.Context, in learner.Input) (*learner.Result, error) {
	return &learner.Result{MemoryUpdates: []memory.Update{
		{Namespace: "learned.timing", Key: "ok", Value: true},
		{Namespace: "scoring", Key: "weights", Value: []float64{1, 0, 0}},
	}}, nil
}

func TestPathologicalLearnersAreIsolated(t *testing.T) {
	mem := memory.NewInMemoryStore()
	e := newTestEngine(t, mem)
	e.Learners().Register(crashingLearner{})
	e.Learners().Register(floodingLearner{})
	e.Learners().Register(escalatingLearner{})
	e.Learners().Register(learner.SelectionHistoryLearner{})

	ctx := context.Background()
	resp, err := e.Decide(ctx, decideRequest(), "")
	require.NoError(t, err)
	assert.Equal(t, "send-now", resp.Decision.SelectedAction)

	entry, err := mem.Get(ctx, "ios", "u-1")
	require.NoError(t, err)
	// the honest learner landed
	assert.Equal(t, "send-now", entry.Custom["learned.history.notification-timing"])
	// the escalator's batch was atomically refused, including its valid half
	_, hasEscalated := entry.Custom["learned.timing.ok"]
	assert.False(t, hasEscalated)
	for k := range entry.Custom {
		assert.NotContains(t, k, "scoring.")
	}
	// the flooder's batch was refused wholesale
	for k := range entry.Custom {
		assert.NotContains(t, k, "learned.flood.")
	}
}

func TestLearningCannotInfluenceTheTriggeringDecision(t *testing.T) {
	// same request through a learner-free engine and a pathological one;
	// the decision and state subtrees must not differ
	quiet := newTestEngine(t, nil)
	noisy := newTestEngine(t, nil)
	noisy.Learners().Register(crashingLearner{})
	noisy.Learners().Register(escalatingLearner{})
	noisy.Learners().Register(learner.SelectionHistoryLearner{})

	ctx := context.Background()
	a, err := quiet.Decide(ctx, decideRequest(), "")
	require.NoError(t, err)
	b, err := noisy.Decide(ctx, decideRequest(), "")
	require.NoError(t, err)

	report := audit.Compare(a, b)
	assert.True(t, report.Deterministic, "differences: %+v", report.Differences)
}

func TestLearnerWritesLandAfterCommit(t *testing.T) {
	mem := memory.NewInMemoryStore()
	e := newTestEngine(t, mem)
	e.Learners().Register(learner.SelectionHistoryLearner{})

	ctx := context.Background()
	resp, err := e.Decide(ctx, decideRequest(), "")
	require.NoError(t, err)

	// the trace's pinned snapshot predates the learner write
	trace, err := e.Trace(ctx, resp.Decision.DecisionID)
	require.NoError(t, err)
	snap, err := mem.GetSnapshot(ctx, trace.SnapshotID)
	require.NoError(t, err)
	_, inSnapshot := snap.Entry.Custom["learned.history.notification-timing"]
	assert.False(t, inSnapshot)

	entry, err := mem.Get(ctx, "ios", "u-1")
	require.NoError(t, err)
	_, inLive := entry.Custom["learned.history.notification-timing"]
	assert.True(t, inLive)
}

func TestVerifyDeterministic(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	resp, err := e.Decide(ctx, decideRequest(), "")
	require.NoError(t, err)

	report, err := e.Verify(ctx, resp.Decision.DecisionID)
	require.NoError(t, err)
	assert.True(t, report.Deterministic, "differences: %+v", report.Differences)

	trace, err := e.Trace(ctx, resp.Decision.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, audit.DeterminismVerified, trace.DeterminismVerified)
}

func TestVerifyPinsMemorySnapshot(t *testing.T) {
	mem := memory.NewInMemoryStore()
	e := newTestEngine(t, mem)
	ctx := context.Background()

	require.NoError(t, mem.Apply(ctx, "ios", "u-1", []memory.Update{
		{Namespace: "learned", Key: "preferred_channel", Value: "email"},
	}))
	resp, err := e.Decide(ctx, decideRequest(), "")
	require.NoError(t, err)
	assert.Equal(t, "email", resp.State.Core["preferred_channel"])

	// live memory drifts after the decision; the pinned replay must not see it
	require.NoError(t, mem.Apply(ctx, "ios", "u-1", []memory.Update{
		{Namespace: "learned", Key: "preferred_channel", Value: "sms"},
	}))

	report, err := e.Verify(ctx, resp.Decision.DecisionID)
	require.NoError(t, err)
	assert.True(t, report.Deterministic, "differences: %+v", report.Differences)
}

func TestVerifyByReplayToken(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()
	resp, err := e.Decide(ctx, decideRequest(), "")
	require.NoError(t, err)

	report, err := e.Verify(ctx, resp.Audit.ReplayToken)
	require.NoError(t, err)
	assert.True(t, report.Deterministic)
}

func TestVerifyUnknownDecision(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Verify(context.Background(), "never-happened")
	assert.ErrorIs(t, err, audit.ErrNotFound)
}

func TestCheckHealth(t *testing.T) {
	e := newTestEngine(t, nil)
	h := e.CheckHealth(context.Background())
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 2, h.Scenarios)
	assert.True(t, h.Executors["deterministic_only"])
}

func TestDecideWithObservability(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	require.NoError(t, err)

	e, err := New(Config{
		RegisterBuiltins:    true,
		SyncLearnerDispatch: true,
		Observability:       obs,
	})
	require.NoError(t, err)

	resp, err := e.Decide(context.Background(), decideRequest(), "")
	require.NoError(t, err)
	assert.Equal(t, "send-now", resp.Decision.SelectedAction)

	// the decide span plus one span per stage
	names := make([]string, 0)
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "ade.decide")
	assert.Contains(t, names, "ade.stage.ingest")
	assert.Contains(t, names, "ade.stage.audit_and_replay")
}
