// Package api exposes the decision engine over HTTP: decide, replay,
// feedback, and health, with RFC 7807 problem-detail errors.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/arbiterlabs/ade/pkg/pipeline"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format. Code carries the engine's
// machine-readable error kind as an extension member.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 problem response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, title, detail, code string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://ade.arbiterlabs.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Code:     code,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusBadRequest, "Bad Request", detail, pipeline.CodeInvalidRequest)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, http.StatusNotFound, "Not Found", detail, "")
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed",
		"The HTTP method is not supported for this endpoint", "")
}

// WriteTooManyRequests writes a 429 with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, r, http.StatusTooManyRequests, "Too Many Requests",
		"Rate limit exceeded. Retry after the specified interval.", "")
}

// WriteInternal writes a 500 error response. The err parameter is logged
// but never exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "path", r.URL.Path, "error", err)
	WriteError(w, r, http.StatusInternalServerError, "Internal Server Error",
		"An unexpected error occurred. Please try again later.", pipeline.CodeInternal)
}

// WriteEngineError maps an engine error kind to its HTTP shape. Skill and
// validation failures never reach here; they resolve through the fallback.
func WriteEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := pipeline.CodeOf(err)
	detail := "decision failed"
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		detail = pe.Message
	}
	switch code {
	case pipeline.CodeInvalidRequest, pipeline.CodeInvalidActionType:
		WriteError(w, r, http.StatusBadRequest, "Bad Request", detail, code)
	case pipeline.CodeInvalidScenario:
		WriteError(w, r, http.StatusNotFound, "Not Found", detail, code)
	case pipeline.CodeNoEligibleActions:
		WriteError(w, r, http.StatusUnprocessableEntity, "Unprocessable Entity", detail, code)
	default:
		WriteInternal(w, r, err)
	}
}
