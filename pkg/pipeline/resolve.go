package pipeline

import (
	"context"

	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

// Resolution reasons emitted by stage 5.
const (
	ReasonPrimary             = "primary"
	ReasonFallbackUnavailable = "fallback_unavailable"
	ReasonModeOverride        = "mode_override"
	ReasonModeDefault         = "mode_default"
)

// stageResolveSkills maps the locked selection's action type to a skill and
// an execution mode.
func (p *Pipeline) stageResolveSkills(ctx context.Context, env *envelope.Envelope, scn *scenario.Scenario) error {
	selected, err := env.SelectedActionDetail()
	if err != nil {
		return internalErr(err)
	}

	primary, fallback := skillRoute(scn, selected.TypeID)

	mode := scn.Execution.DefaultMode
	overridden := false
	if o := env.Request.Options.ExecutionModeOverride; o != "" && scn.Execution.AllowModeOverride {
		switch scenario.ExecutionMode(o) {
		case scenario.ModeDeterministicOnly, scenario.ModeSkillEnhanced:
			mode = scenario.ExecutionMode(o)
			overridden = mode != scn.Execution.DefaultMode
		default:
			return E(CodeInvalidRequest, "unknown execution_mode_override %q", o)
		}
	}

	skillID := primary
	reason := ReasonPrimary
	switch {
	case mode == scenario.ModeDeterministicOnly:
		// the deterministic skill is never "primary": the trace records
		// whether the mode came from the caller or the scenario default
		skillID = fallback
		reason = ReasonModeDefault
		if overridden {
			reason = ReasonModeOverride
		}
	default:
		if e, execErr := p.executors.Get(scenario.ModeSkillEnhanced); execErr != nil || !e.IsAvailable() {
			skillID = fallback
			mode = scenario.ModeDeterministicOnly
			reason = ReasonFallbackUnavailable
		}
	}

	version := ""
	if sk, ok := scn.SkillByID(skillID); ok {
		version = sk.Version
	}

	env.Resolution = envelope.SkillResolution{
		SkillID:          skillID,
		SkillVersion:     version,
		ExecutionMode:    string(mode),
		ResolutionReason: reason,
	}
	return nil
}

// skillRoute resolves the primary/fallback pair for an action type: the
// per-type mapping overrides the type's declared primary and the scenario
// default fallback.
func skillRoute(scn *scenario.Scenario, typeID string) (primary, fallback string) {
	fallback = scn.Skills.DefaultFallback
	if at, ok := scn.ActionTypeByID(typeID); ok {
		primary = at.PrimarySkill
	}
	if m, ok := scn.Skills.ActionTypeMap[typeID]; ok {
		if m.Primary != "" {
			primary = m.Primary
		}
		if m.Fallback != "" {
			fallback = m.Fallback
		}
	}
	if primary == "" {
		primary = fallback
	}
	return primary, fallback
}
