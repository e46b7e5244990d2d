package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arbiterlabs/ade/pkg/audit"
	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/engine"
)

// maxBodyBytes bounds request bodies on every POST endpoint.
const maxBodyBytes = 1 << 20 // 1MB

// Service owns the HTTP surface over one engine.
type Service struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewService creates the API service.
func NewService(e *engine.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{engine: e, logger: logger.With("component", "api")}
}

// Routes registers all endpoints on the mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/decide", s.HandleDecide)
	mux.HandleFunc("GET /v1/replay/{ref}", s.HandleReplay)
	mux.HandleFunc("POST /v1/replay/{ref}/verify", s.HandleVerify)
	mux.HandleFunc("POST /v1/feedback", s.HandleFeedback)
	mux.HandleFunc("GET /v1/health", s.HandleHealth)
}

// Handler returns the fully wrapped handler: recovery, request id, and
// request logging around the routed mux.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Routes(mux)
	var h http.Handler = mux
	h = Logging(s.logger)(h)
	h = RequestID(h)
	h = Recover(s.logger)(h)
	return h
}

// HandleDecide handles POST /v1/decide.
func (s *Service) HandleDecide(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req contracts.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}

	resp, err := s.engine.Decide(r.Context(), &req, w.Header().Get("X-Request-ID"))
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// HandleReplay handles GET /v1/replay/{ref}, where ref is a decision id
// or a replay token. The response is the stored trace, untouched; the
// X-Replay-Only header marks that nothing was re-executed.
func (s *Service) HandleReplay(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	trace, err := s.engine.Trace(r.Context(), ref)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			WriteNotFound(w, r, "No decision trace for "+ref)
			return
		}
		WriteInternal(w, r, err)
		return
	}
	if err := trace.Validate(); err != nil {
		// a stored trace that fails its own structural checks is a
		// corruption signal, not a client error
		WriteInternal(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Replay-Only", "true")
	_ = json.NewEncoder(w).Encode(trace)
}

// HandleVerify handles POST /v1/replay/{ref}/verify: re-run the decision
// against its pinned scenario and memory snapshot and report the verdict.
func (s *Service) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	report, err := s.engine.Verify(r.Context(), ref)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			WriteNotFound(w, r, "No decision trace for "+ref)
			return
		}
		WriteInternal(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

// FeedbackRequest is the body of POST /v1/feedback.
type FeedbackRequest struct {
	DecisionID string                 `json:"decision_id"`
	Outcome    map[string]interface{} `json:"outcome,omitempty"`
}

// FeedbackResponse acknowledges receipt. Learning runs through the
// post-decision learner path, never synchronously with the acknowledgment.
type FeedbackResponse struct {
	Accepted        bool   `json:"accepted"`
	DecisionID      string `json:"decision_id"`
	LearningApplied bool   `json:"learning_applied"`
}

// HandleFeedback handles POST /v1/feedback. The handler only verifies the
// decision exists; it never mutates memory or the trace.
func (s *Service) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, r, "Invalid request body")
		return
	}
	if req.DecisionID == "" {
		WriteBadRequest(w, r, "Missing required field: decision_id")
		return
	}

	ok, err := s.engine.HasDecision(r.Context(), req.DecisionID)
	if err != nil {
		WriteInternal(w, r, err)
		return
	}
	if !ok {
		WriteNotFound(w, r, "No decision trace for "+req.DecisionID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(FeedbackResponse{
		Accepted:        true,
		DecisionID:      req.DecisionID,
		LearningApplied: false,
	})
}

// HandleHealth handles GET /v1/health.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.engine.CheckHealth(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}
