package audit

import (
	"fmt"
	"math"
	"sort"

	"github.com/arbiterlabs/ade/pkg/canonical"
	"github.com/arbiterlabs/ade/pkg/contracts"
)

// scoreTolerance is the absolute difference under which two replayed scores
// count as equal.
const scoreTolerance = 1e-4

// Criticality classifies a compared field.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityMinor    Criticality = "minor"
	CriticalityIgnored  Criticality = "ignored"
)

// Difference is one field mismatch between the original and the replay.
type Difference struct {
	Field       string      `json:"field"`
	Criticality Criticality `json:"criticality"`
	Original    interface{} `json:"original"`
	Replay      interface{} `json:"replay"`
}

// ComparisonReport is the comparator's verdict. Deterministic iff no
// critical difference was found.
type ComparisonReport struct {
	Deterministic bool         `json:"deterministic"`
	Differences   []Difference `json:"differences,omitempty"`
}

// Compare partitions fields by criticality and diffs an original response
// against its replay. Identifier and timing fields are ignored; selection,
// ranking, applied guardrails, and derived state are critical; the rest is
// minor and reported without affecting the verdict.
func Compare(original, replay *contracts.DecisionResponse) *ComparisonReport {
	r := &ComparisonReport{Deterministic: true}
	if original == nil || replay == nil {
		r.add(CriticalityCritical, "response", original != nil, replay != nil)
		return r
	}

	if original.Decision.SelectedAction != replay.Decision.SelectedAction {
		r.add(CriticalityCritical, "decision.selected_action",
			original.Decision.SelectedAction, replay.Decision.SelectedAction)
	}
	compareRanked(r, original.Decision.RankedOptions, replay.Decision.RankedOptions)
	compareGuardrails(r, original.GuardrailsApplied, replay.GuardrailsApplied)
	compareMap(r, "state.core", original.State.Core, replay.State.Core)
	compareMap(r, "state.scenario_extensions",
		original.State.ScenarioExtensions, replay.State.ScenarioExtensions)

	// minor fields: surfaced for operators, never fail determinism
	if original.Decision.Payload.Rationale != replay.Decision.Payload.Rationale {
		r.add(CriticalityMinor, "decision.payload.rationale",
			original.Decision.Payload.Rationale, replay.Decision.Payload.Rationale)
	}
	if original.Execution.FallbackUsed != replay.Execution.FallbackUsed {
		r.add(CriticalityMinor, "execution.fallback_used",
			original.Execution.FallbackUsed, replay.Execution.FallbackUsed)
	}
	if original.Execution.SkillID != replay.Execution.SkillID {
		r.add(CriticalityMinor, "execution.skill_id",
			original.Execution.SkillID, replay.Execution.SkillID)
	}
	return r
}

func (r *ComparisonReport) add(c Criticality, field string, orig, repl interface{}) {
	if c == CriticalityCritical {
		r.Deterministic = false
	}
	r.Differences = append(r.Differences, Difference{
		Field:       field,
		Criticality: c,
		Original:    orig,
		Replay:      repl,
	})
}

func compareRanked(r *ComparisonReport, orig, repl []contracts.RankedOption) {
	if len(orig) != len(repl) {
		r.add(CriticalityCritical, "decision.ranked_options.length", len(orig), len(repl))
		return
	}
	for i := range orig {
		field := fmt.Sprintf("decision.ranked_options[%d]", i)
		if orig[i].ActionID != repl[i].ActionID {
			r.add(CriticalityCritical, field+".action_id", orig[i].ActionID, repl[i].ActionID)
		}
		if orig[i].Rank != repl[i].Rank {
			r.add(CriticalityCritical, field+".rank", orig[i].Rank, repl[i].Rank)
		}
		if math.Abs(orig[i].Score-repl[i].Score) >= scoreTolerance {
			r.add(CriticalityCritical, field+".score", orig[i].Score, repl[i].Score)
		}
	}
}

// compareGuardrails checks set equality; rule order is not critical.
func compareGuardrails(r *ComparisonReport, orig, repl []string) {
	a := append([]string(nil), orig...)
	b := append([]string(nil), repl...)
	sort.Strings(a)
	sort.Strings(b)
	equal := len(a) == len(b)
	if equal {
		for i := range a {
			if a[i] != b[i] {
				equal = false
				break
			}
		}
	}
	if !equal {
		r.add(CriticalityCritical, "guardrails_applied", orig, repl)
	}
}

// compareMap diffs two state maps through their canonical JSON form, which
// normalizes number representation differences across serialization hops.
func compareMap(r *ComparisonReport, field string, orig, repl map[string]interface{}) {
	a, errA := canonical.JCS(orig)
	b, errB := canonical.JCS(repl)
	if errA != nil || errB != nil {
		r.add(CriticalityCritical, field, orig, repl)
		return
	}
	if string(a) != string(b) {
		r.add(CriticalityCritical, field, orig, repl)
	}
}
