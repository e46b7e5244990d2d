package learner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arbiterlabs/ade/pkg/memory"
)

// OutcomeStatus is the per-learner dispatch verdict.
type OutcomeStatus string

const (
	StatusApplied  OutcomeStatus = "applied"
	StatusRejected OutcomeStatus = "rejected"
	StatusFailed   OutcomeStatus = "failed"
	StatusSkipped  OutcomeStatus = "skipped"
)

// Outcome reports what happened to one learner during a dispatch.
type Outcome struct {
	LearnerID      string        `json:"learner_id"`
	Version        string        `json:"version"`
	Status         OutcomeStatus `json:"status"`
	UpdatesApplied int           `json:"updates_applied"`
	Error          string        `json:"error,omitempty"`
}

// Registry holds learners and dispatches committed decisions to them.
// Failures are isolated at the learner boundary: a panic, an error, or a
// guard rejection in one learner never skips the next.
type Registry struct {
	mu       sync.RWMutex
	learners []Learner
	store    memory.Store
	logger   *slog.Logger
}

// NewRegistry creates a registry writing through the given memory store.
func NewRegistry(store memory.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger.With("component", "learner")}
}

// Register appends a learner. Registration order is dispatch order.
func (r *Registry) Register(l Learner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.learners = append(r.learners, l)
}

// Learners returns a snapshot of the registered learners.
func (r *Registry) Learners() []Learner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Learner, len(r.learners))
	copy(out, r.learners)
	return out
}

// Dispatch runs every learner against the input and returns per-learner
// outcomes. The input guard runs once up front: an incomplete input skips
// every learner, because invoking any of them would violate the contract.
func (r *Registry) Dispatch(ctx context.Context, in Input) []Outcome {
	learners := r.Learners()
	outcomes := make([]Outcome, 0, len(learners))

	if err := ValidateInput(in); err != nil {
		for _, l := range learners {
			outcomes = append(outcomes, Outcome{
				LearnerID: l.LearnerID(),
				Version:   l.Version(),
				Status:    StatusSkipped,
				Error:     err.Error(),
			})
		}
		r.logger.Warn("learner dispatch refused", "decision_id", in.DecisionID, "error", err)
		return outcomes
	}

	for _, l := range learners {
		outcomes = append(outcomes, r.runOne(ctx, l, in))
	}
	return outcomes
}

// runOne executes a single learner with panic isolation.
func (r *Registry) runOne(ctx context.Context, l Learner, in Input) (out Outcome) {
	out = Outcome{LearnerID: l.LearnerID(), Version: l.Version()}
	defer func() {
		if rec := recover(); rec != nil {
			out.Status = StatusFailed
			out.Error = fmt.Sprintf("panic: %v", rec)
			out.UpdatesApplied = 0
			r.logger.Error("learner panicked",
				"learner_id", out.LearnerID, "decision_id", in.DecisionID, "panic", rec)
		}
	}()

	result, err := l.Process(ctx, in)
	if err != nil {
		out.Status = StatusFailed
		out.Error = err.Error()
		return out
	}
	if result == nil || len(result.MemoryUpdates) == 0 {
		out.Status = StatusApplied
		return out
	}

	if err := CheckUpdates(result.MemoryUpdates); err != nil {
		out.Status = StatusRejected
		out.Error = err.Error()
		r.logger.Warn("learner result rejected",
			"learner_id", out.LearnerID, "decision_id", in.DecisionID, "error", err)
		return out
	}

	if err := r.store.Apply(ctx, in.Platform, in.UserID, result.MemoryUpdates); err != nil {
		out.Status = StatusFailed
		out.Error = err.Error()
		return out
	}
	out.Status = StatusApplied
	out.UpdatesApplied = len(result.MemoryUpdates)
	return out
}
