// Package audit defines the decision audit trace, the store contract with an
// in-memory and a Redis adapter, the replay token codec, and the replay
// comparator that decides whether a decision was deterministic.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/envelope"
)

// Determinism tri-state recorded on a trace. A trace starts unknown and is
// only moved by an explicit verification run.
const (
	DeterminismUnknown  = "unknown"
	DeterminismVerified = "true"
	DeterminismFailed   = "false"
)

// StageArtifacts is the per-stage record kept in the trace.
type StageArtifacts struct {
	GuardrailResults []envelope.GuardrailResult `json:"guardrail_results,omitempty"`
	EligibleActions  []string                   `json:"eligible_actions,omitempty"`
	ForcedActionID   string                     `json:"forced_action_id,omitempty"`
	SelectionMargin  float64                    `json:"selection_margin"`
	Resolution       envelope.SkillResolution   `json:"resolution"`
	Validation       envelope.ValidationRecord  `json:"validation"`
	Timings          []envelope.StageTiming     `json:"timings,omitempty"`
}

// Trace is the frozen record of one decision. Once stored it never changes
// except for the determinism field, which StoreVerification flips.
type Trace struct {
	DecisionID      string                      `json:"decision_id"`
	ScenarioID      string                      `json:"scenario_id"`
	ScenarioVersion string                      `json:"scenario_version"`
	ScenarioHash    string                      `json:"scenario_hash"`
	EngineVersion   string                      `json:"engine_version"`
	CommittedAt     time.Time                   `json:"committed_at"`
	ReplayToken     string                      `json:"replay_token"`
	TraceID         string                      `json:"trace_id"`
	InputsHash      string                      `json:"inputs_hash,omitempty"`
	SnapshotID      string                      `json:"memory_snapshot_id,omitempty"`
	Request         *contracts.DecisionRequest  `json:"request"`
	Stages          StageArtifacts              `json:"stages"`
	Response        *contracts.DecisionResponse `json:"response"`
	TotalDurationMS int64                       `json:"total_duration_ms"`

	DeterminismVerified string `json:"determinism_verified"`
}

// Clone deep-copies the trace through its JSON form. Stores clone on both
// write and read so no caller can mutate a committed trace in place.
func (t *Trace) Clone() (*Trace, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("audit: clone marshal: %w", err)
	}
	var out Trace
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("audit: clone unmarshal: %w", err)
	}
	return &out, nil
}

// Validate checks the structural minimum a stored trace must carry before it
// can be served on the replay surface.
func (t *Trace) Validate() error {
	switch {
	case t.DecisionID == "":
		return fmt.Errorf("audit: trace missing decision_id")
	case t.ScenarioHash == "":
		return fmt.Errorf("audit: trace missing scenario_hash")
	case t.Response == nil:
		return fmt.Errorf("audit: trace missing response")
	default:
		return nil
	}
}
