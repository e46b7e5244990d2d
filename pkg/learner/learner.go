// Package learner implements the post-decision learning subsystem: evidence
// writers that observe committed audit traces and propose memory updates.
// Learners never run on the request path; they are dispatched after the
// response is returned, on a snapshot of the committed trace, and their
// writes are confined to the learned.* memory namespace by a hard guard.
package learner

import (
	"context"
	"time"

	"github.com/arbiterlabs/ade/pkg/memory"
)

// Input is the finalized evidence a learner processes. Every field in the
// required set must be present or the runtime refuses to invoke the learner
// at all; see ValidateInput.
type Input struct {
	DecisionID       string                 `json:"decision_id"`
	FinalDecision    string                 `json:"final_decision"`
	Timestamp        time.Time              `json:"timestamp"`
	MemorySnapshotID string                 `json:"memory_snapshot_id"`
	Platform         string                 `json:"platform,omitempty"`
	UserID           string                 `json:"user_id,omitempty"`
	ScenarioID       string                 `json:"scenario_id,omitempty"`
	RankedActionIDs  []string               `json:"ranked_action_ids,omitempty"`
	GuardrailsFired  []string               `json:"guardrails_fired,omitempty"`
	Extra            map[string]interface{} `json:"extra,omitempty"`
}

// Result is what a learner proposes. Updates are applied atomically: one
// bad namespace rejects the whole result.
type Result struct {
	MemoryUpdates []memory.Update        `json:"memory_updates"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Learner is a post-decision evidence writer.
type Learner interface {
	LearnerID() string
	Version() string
	Process(ctx context.Context, in Input) (*Result, error)
}
