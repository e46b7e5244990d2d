package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/ade/pkg/audit"
	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/engine"
)

func newTestService(t *testing.T) (*Service, http.Handler) {
	t.Helper()
	e, err := engine.New(engine.Config{
		RegisterBuiltins:    true,
		SyncLearnerDispatch: true,
	})
	require.NoError(t, err)
	s := NewService(e, nil)
	return s, s.Handler()
}

func decideBody() map[string]interface{} {
	return map[string]interface{}{
		"scenario_id": "notification-timing",
		"user_id":     "u-1",
		"platform":    "ios",
		"actions": []map[string]interface{}{
			{"action_id": "send-now", "type_id": "send-now"},
			{"action_id": "delay-1h", "type_id": "delay-1h"},
			{"action_id": "suppress", "type_id": "suppress"},
		},
		"signals": map[string]interface{}{
			"interactions_7d":               5,
			"notifications_sent_24h":        1,
			"hours_since_last_notification": 4,
			"content_relevance_score":       0.8,
		},
		"context": map[string]interface{}{"current_time": "2026-01-15T14:00:00Z"},
		"options": map[string]interface{}{"execution_mode_override": "deterministic_only"},
	}
}

func post(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decide(t *testing.T, h http.Handler) *contracts.DecisionResponse {
	t.Helper()
	rec := post(t, h, "/v1/decide", decideBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp contracts.DecisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return &resp
}

func TestDecideEndpoint(t *testing.T) {
	_, h := newTestService(t)
	resp := decide(t, h)

	assert.Equal(t, "send-now", resp.Decision.SelectedAction)
	assert.False(t, resp.Execution.FallbackUsed)
	assert.NotEmpty(t, resp.Audit.ReplayToken)
	assert.NotEmpty(t, resp.Meta.RequestID)
}

func TestDecideEchoesRequestID(t *testing.T) {
	_, h := newTestService(t)
	raw, _ := json.Marshal(decideBody())
	req := httptest.NewRequest(http.MethodPost, "/v1/decide", bytes.NewReader(raw))
	req.Header.Set("X-Request-ID", "corr-7")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp contracts.DecisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "corr-7", resp.Meta.RequestID)
	assert.Equal(t, "corr-7", rec.Header().Get("X-Request-ID"))
}

func TestDecideErrors(t *testing.T) {
	_, h := newTestService(t)

	t.Run("Malformed Body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/decide", strings.NewReader("{nope"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("Missing User", func(t *testing.T) {
		body := decideBody()
		delete(body, "user_id")
		rec := post(t, h, "/v1/decide", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var p ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, "INVALID_REQUEST", p.Code)
	})

	t.Run("Unknown Scenario", func(t *testing.T) {
		body := decideBody()
		body["scenario_id"] = "no-such-policy"
		rec := post(t, h, "/v1/decide", body)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var p ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, "INVALID_SCENARIO", p.Code)
	})

	t.Run("Unknown Action Type", func(t *testing.T) {
		body := decideBody()
		body["actions"] = []map[string]interface{}{
			{"action_id": "x", "type_id": "launch-rocket"},
		}
		rec := post(t, h, "/v1/decide", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var p ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, "INVALID_ACTION_TYPE", p.Code)
	})

	t.Run("No Eligible Actions", func(t *testing.T) {
		body := decideBody()
		body["actions"] = []map[string]interface{}{
			{"action_id": "send-now", "type_id": "send-now"},
		}
		body["context"] = map[string]interface{}{"current_time": "2026-01-15T05:00:00Z"}
		rec := post(t, h, "/v1/decide", body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var p ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, "NO_ELIGIBLE_ACTIONS", p.Code)
	})
}

func TestReplayEndpoint(t *testing.T) {
	_, h := newTestService(t)
	resp := decide(t, h)

	t.Run("By Decision ID", func(t *testing.T) {
		rec := get(t, h, "/v1/replay/"+resp.Decision.DecisionID)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "true", rec.Header().Get("X-Replay-Only"))

		var trace audit.Trace
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trace))
		assert.Equal(t, resp.Decision.DecisionID, trace.DecisionID)
		assert.Equal(t, resp.Decision.SelectedAction, trace.Response.Decision.SelectedAction)
	})

	t.Run("By Replay Token", func(t *testing.T) {
		rec := get(t, h, "/v1/replay/"+resp.Audit.ReplayToken)
		require.Equal(t, http.StatusOK, rec.Code)

		var trace audit.Trace
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trace))
		assert.Equal(t, resp.Decision.DecisionID, trace.DecisionID)
	})

	t.Run("Unknown", func(t *testing.T) {
		rec := get(t, h, "/v1/replay/never-happened")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestVerifyEndpoint(t *testing.T) {
	_, h := newTestService(t)
	resp := decide(t, h)

	rec := post(t, h, "/v1/replay/"+resp.Decision.DecisionID+"/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report audit.ComparisonReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Deterministic)
}

func TestFeedbackEndpoint(t *testing.T) {
	_, h := newTestService(t)
	resp := decide(t, h)

	t.Run("Accepted", func(t *testing.T) {
		rec := post(t, h, "/v1/feedback", FeedbackRequest{
			DecisionID: resp.Decision.DecisionID,
			Outcome:    map[string]interface{}{"opened": true},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var fr FeedbackResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fr))
		assert.True(t, fr.Accepted)
		assert.False(t, fr.LearningApplied)
	})

	t.Run("Unknown Decision", func(t *testing.T) {
		rec := post(t, h, "/v1/feedback", FeedbackRequest{DecisionID: "never-happened"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Missing Decision ID", func(t *testing.T) {
		rec := post(t, h, "/v1/feedback", FeedbackRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestService(t)
	rec := get(t, h, "/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var health engine.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Scenarios)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := rl.Middleware(inner)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	first := httptest.NewRecorder()
	h.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "5", second.Header().Get("Retry-After"))
}

func TestPanicRecovery(t *testing.T) {
	s, _ := newTestService(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("kaput")
	})
	h := Recover(s.logger)(mux)

	rec := get(t, h, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
