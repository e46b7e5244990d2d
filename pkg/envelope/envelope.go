// Package envelope defines the decision envelope: the single accumulator a
// pipeline run threads through all nine stages. The envelope enforces the
// selection lock — after Stage 4 commits a selection, the selected action,
// the ranked options, and the locked flag are mechanically immutable.
package envelope

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/governance"
)

var (
	// ErrAlreadyLocked is returned by LockSelection after the first lock.
	ErrAlreadyLocked = errors.New("selection already locked")
	// ErrNotLocked is returned when a locked-only accessor runs too early.
	ErrNotLocked = errors.New("selection not locked")
)

// GuardrailResult records one rule evaluation, triggered or not.
type GuardrailResult struct {
	RuleID         string   `json:"rule_id"`
	Priority       int      `json:"priority"`
	Triggered      bool     `json:"triggered"`
	Effect         string   `json:"effect"`
	BlockedActions []string `json:"blocked_actions,omitempty"`
}

// SkillResolution is the Stage 5 outcome.
type SkillResolution struct {
	SkillID          string `json:"skill_id"`
	SkillVersion     string `json:"skill_version"`
	ExecutionMode    string `json:"execution_mode"`
	ResolutionReason string `json:"resolution_reason"` // primary | fallback_unavailable | mode_override | mode_default
}

// SkillExecution is the Stage 6 outcome.
type SkillExecution struct {
	Output      *contracts.SkillOutput `json:"output,omitempty"`
	TokenCount  int                    `json:"token_count"`
	ExecutionMS int64                  `json:"execution_ms"`
}

// PhaseResult is one of the four Stage 7 validation phase outcomes.
type PhaseResult struct {
	Phase      string                 `json:"phase"`
	Passed     bool                   `json:"passed"`
	Violations []governance.Violation `json:"violations,omitempty"`
	Detail     string                 `json:"detail,omitempty"`
}

// ValidationRecord aggregates the Stage 7 phases.
type ValidationRecord struct {
	Phases       []PhaseResult `json:"phases"`
	FirstFailure string        `json:"first_failure,omitempty"` // check id, authority-first ordering
	Passed       bool          `json:"passed"`
}

// StageTiming is the per-stage wall-clock record kept for the audit trace.
type StageTiming struct {
	Stage   int       `json:"stage"`
	Name    string    `json:"name"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Elapsed int64     `json:"elapsed_us"`
}

// Envelope accumulates state through the pipeline. One run owns it; only
// the currently-executing stage mutates it. The three selection fields are
// unexported and reachable only through LockSelection and the read
// accessors, which is how the lock survives later stages.
type Envelope struct {
	DecisionID      string
	ScenarioID      string
	ScenarioVersion string
	ScenarioHash    string
	CreatedAt       time.Time

	// Stage 1
	Request *contracts.DecisionRequest
	Actions []contracts.Action

	// Stage 2
	State contracts.UserState

	// Stage 3
	GuardrailResults []GuardrailResult
	EligibleActions  []contracts.Action
	ForcedActionID   string

	// Stage 4 (locked fields are private; see LockSelection)
	SelectionMargin float64

	// Stage 5
	Resolution SkillResolution

	// Stage 6
	Execution SkillExecution

	// Stage 7
	Validation ValidationRecord

	// Stage 8
	FallbackTriggered  bool
	FallbackReasonCode string
	FallbackPayload    *contracts.DecisionPayload

	// Stage 9
	ReplayToken string
	TraceID     string

	Timings []StageTiming

	selectedAction    string
	rankedOptions     []contracts.RankedOption
	selectionLocked   bool
	selectionLockedAt time.Time
}

// New mints an envelope for one pipeline run. The decision id is always
// server-generated; any client-supplied id has been discarded upstream.
func New(req *contracts.DecisionRequest, scenarioID, scenarioVersion, scenarioHash string) *Envelope {
	return &Envelope{
		DecisionID:      uuid.NewString(),
		ScenarioID:      scenarioID,
		ScenarioVersion: scenarioVersion,
		ScenarioHash:    scenarioHash,
		CreatedAt:       time.Now().UTC(),
		Request:         req,
	}
}

// LockSelection atomically commits the ranked options and the selected
// action. A second call fails with ErrAlreadyLocked; there is no unlock.
func (e *Envelope) LockSelection(actionID string, ranked []contracts.RankedOption) error {
	if e.selectionLocked {
		return fmt.Errorf("%w: %s at %s", ErrAlreadyLocked, e.selectedAction, e.selectionLockedAt.Format(time.RFC3339Nano))
	}
	if actionID == "" {
		return errors.New("envelope: cannot lock empty selection")
	}
	cp := make([]contracts.RankedOption, len(ranked))
	copy(cp, ranked)
	e.selectedAction = actionID
	e.rankedOptions = cp
	e.selectionLocked = true
	e.selectionLockedAt = time.Now().UTC()
	return nil
}

// SelectedAction returns the locked selection; empty before the lock.
func (e *Envelope) SelectedAction() string { return e.selectedAction }

// RankedOptions returns a copy of the locked ranking. Mutating the copy
// cannot alter the envelope.
func (e *Envelope) RankedOptions() []contracts.RankedOption {
	out := make([]contracts.RankedOption, len(e.rankedOptions))
	copy(out, e.rankedOptions)
	return out
}

// SelectionLocked reports whether Stage 4 has committed.
func (e *Envelope) SelectionLocked() bool { return e.selectionLocked }

// SelectionLockedAt returns the lock timestamp (zero before the lock).
func (e *Envelope) SelectionLockedAt() time.Time { return e.selectionLockedAt }

// VerifySelectionIntegrity reports whether the envelope is locked on
// exactly the expected action.
func (e *Envelope) VerifySelectionIntegrity(expected string) bool {
	return e.selectionLocked && e.selectedAction == expected
}

// SelectedActionDetail returns the full Action record for the locked
// selection, resolved from the normalized action list.
func (e *Envelope) SelectedActionDetail() (*contracts.Action, error) {
	if !e.selectionLocked {
		return nil, ErrNotLocked
	}
	for i := range e.Actions {
		if e.Actions[i].ActionID == e.selectedAction {
			return &e.Actions[i], nil
		}
	}
	return nil, fmt.Errorf("envelope: locked action %q missing from action list", e.selectedAction)
}

// RecordTiming appends one stage timing record.
func (e *Envelope) RecordTiming(stage int, name string, start, end time.Time) {
	e.Timings = append(e.Timings, StageTiming{
		Stage:   stage,
		Name:    name,
		Start:   start,
		End:     end,
		Elapsed: end.Sub(start).Microseconds(),
	})
}
