package pipeline

import (
	"context"
	"sort"

	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/expr"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

// intensity ordinals; actions without an intensity attribute are exempt
// from caps but sort last in tie-breaks.
var intensityOrdinal = map[string]int{"low": 0, "moderate": 1, "high": 2}

const missingIntensityOrdinal = 2

// stageGuardrails evaluates rules in ascending priority against the
// {state, signals, memory} view and applies their effects to the eligible
// set. Every rule gets a result record, triggered or not.
func (p *Pipeline) stageGuardrails(ctx context.Context, env *envelope.Envelope, scn *scenario.Scenario) error {
	req := env.Request

	memView := map[string]interface{}{}
	if p.memories != nil {
		if entry, err := p.memories.Get(ctx, req.Platform, req.UserID); err == nil {
			memView = entry.View(p.now())
		}
	}
	signals := req.Signals
	if signals == nil {
		signals = map[string]interface{}{}
	}
	view := expr.MapResolver{
		"state": map[string]interface{}{
			"core":                env.State.Core,
			"scenario_extensions": env.State.ScenarioExtensions,
		},
		"signals": signals,
		"memory":  memView,
	}
	// guardrail sentinel: unreadable paths read as false, never as a
	// half-open numeric guess
	opts := expr.Options{MissingNumber: 0, MissingBool: false}

	rules := make([]scenario.GuardrailRule, len(scn.Guardrails.Rules))
	copy(rules, scn.Guardrails.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	eligible := make([]contracts.Action, len(env.Actions))
	copy(eligible, env.Actions)

	var triggered []string
	var blockedAll []string
	forced := ""

	for _, rule := range rules {
		result := envelope.GuardrailResult{
			RuleID:   rule.ID,
			Priority: rule.Priority,
			Effect:   string(rule.Effect),
		}
		if p.evaluator.EvalBool(rule.Condition, view, opts) {
			result.Triggered = true
			triggered = append(triggered, rule.ID)

			switch rule.Effect {
			case scenario.EffectBlockAction, scenario.EffectRequireCooldown:
				eligible, result.BlockedActions = blockMatching(eligible, rule.Target)
			case scenario.EffectForceAction:
				// lowest priority number wins; later rules cannot steal
				if forced == "" {
					forced = rule.Target.ActionID
				}
			case scenario.EffectCapIntensity:
				eligible, result.BlockedActions = capIntensity(eligible, rule.MaxIntensity)
			}
			blockedAll = append(blockedAll, result.BlockedActions...)
		}
		env.GuardrailResults = append(env.GuardrailResults, result)
	}

	if len(eligible) == 0 {
		return E(CodeNoEligibleActions, "no actions survive guardrail evaluation").
			WithDetails(map[string]interface{}{
				"triggered_rules": triggered,
				"blocked_actions": blockedAll,
			})
	}

	env.EligibleActions = eligible
	env.ForcedActionID = forced
	return nil
}

// blockMatching removes actions matched by the rule target.
func blockMatching(actions []contracts.Action, t scenario.GuardrailTarget) (kept []contracts.Action, blocked []string) {
	for _, a := range actions {
		if targetMatches(a, t) {
			blocked = append(blocked, a.ActionID)
			continue
		}
		kept = append(kept, a)
	}
	return kept, blocked
}

func targetMatches(a contracts.Action, t scenario.GuardrailTarget) bool {
	if t.ActionID != "" && a.ActionID == t.ActionID {
		return true
	}
	if t.TypeID != "" && a.TypeID == t.TypeID {
		return true
	}
	if t.AttributeName != "" {
		if v, ok := a.Attributes[t.AttributeName]; ok && v == t.AttributeValue {
			return true
		}
	}
	return false
}

// capIntensity blocks actions whose declared intensity exceeds the cap.
// Actions without an intensity attribute are not workouts; the cap does not
// apply to them.
func capIntensity(actions []contracts.Action, maxIntensity string) (kept []contracts.Action, blocked []string) {
	limit, ok := intensityOrdinal[maxIntensity]
	if !ok {
		return actions, nil
	}
	for _, a := range actions {
		s, has := a.Attributes["intensity"].(string)
		if !has {
			kept = append(kept, a)
			continue
		}
		ord, known := intensityOrdinal[s]
		if !known {
			ord = missingIntensityOrdinal
		}
		if ord > limit {
			blocked = append(blocked, a.ActionID)
			continue
		}
		kept = append(kept, a)
	}
	return kept, blocked
}
