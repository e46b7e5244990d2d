package pipeline

import (
	"context"
	"math"
	"sort"

	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/expr"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

// tieEpsilon: two scores closer than this are tied and fall to the
// scenario's tie-breakers.
const tieEpsilon = 1e-3

// missingDurationMinutes substitutes for actions without a duration
// attribute in tie-breaks.
const missingDurationMinutes = 30.0

// stageScoreAndRank computes per-objective scores for every eligible
// action, ranks them, and locks the selection. A forced action short
// circuits scoring with a one-entry ranking.
func (p *Pipeline) stageScoreAndRank(ctx context.Context, env *envelope.Envelope, scn *scenario.Scenario) error {
	if env.ForcedActionID != "" {
		if forcedEligible(env.EligibleActions, env.ForcedActionID) {
			ranked := []contracts.RankedOption{{
				ActionID:       env.ForcedActionID,
				Rank:           1,
				Score:          1.0,
				ScoreBreakdown: zeroBreakdown(scn),
			}}
			env.SelectionMargin = 1.0
			if err := env.LockSelection(env.ForcedActionID, ranked); err != nil {
				return internalErr(err)
			}
			return nil
		}
		// forced target was blocked by a later rule; fall through to
		// normal scoring over what survived
	}

	type scored struct {
		action    contracts.Action
		score     float64
		breakdown map[string]float64
	}

	scoredActions := make([]scored, 0, len(env.EligibleActions))
	for _, a := range env.EligibleActions {
		total, breakdown := p.scoreAction(a, env, scn)
		scoredActions = append(scoredActions, scored{action: a, score: total, breakdown: breakdown})
	}

	sort.SliceStable(scoredActions, func(i, j int) bool {
		return scoredActions[i].score > scoredActions[j].score
	})

	// post-pass: adjacent tied pairs re-order per the scenario's
	// tie-breakers; repeated until stable so tie chains settle
	for swapped := true; swapped; {
		swapped = false
		for i := 0; i+1 < len(scoredActions); i++ {
			a, b := scoredActions[i], scoredActions[i+1]
			if math.Abs(a.score-b.score) >= tieEpsilon {
				continue
			}
			if tieBreak(scn.Scoring.TieBreakers, b.action, a.action) < 0 {
				scoredActions[i], scoredActions[i+1] = b, a
				swapped = true
			}
		}
	}

	ranked := make([]contracts.RankedOption, len(scoredActions))
	for i, s := range scoredActions {
		ranked[i] = contracts.RankedOption{
			ActionID:       s.action.ActionID,
			Rank:           i + 1,
			Score:          s.score,
			ScoreBreakdown: s.breakdown,
		}
	}

	if len(ranked) == 0 {
		return E(CodeNoEligibleActions, "nothing to rank")
	}

	if len(ranked) == 1 {
		env.SelectionMargin = 1.0
	} else {
		env.SelectionMargin = ranked[0].Score - ranked[1].Score
	}
	if err := env.LockSelection(ranked[0].ActionID, ranked); err != nil {
		return internalErr(err)
	}
	return nil
}

// scoreAction evaluates every objective over {state, action}, clamps each
// to [0,1], takes the weighted sum, then subtracts the capped execution
// risk penalty.
func (p *Pipeline) scoreAction(a contracts.Action, env *envelope.Envelope, scn *scenario.Scenario) (float64, map[string]float64) {
	signals := env.Request.Signals
	if signals == nil {
		signals = map[string]interface{}{}
	}
	view := expr.MapResolver{
		"state": map[string]interface{}{
			"core":                env.State.Core,
			"scenario_extensions": env.State.ScenarioExtensions,
		},
		"signals": signals,
		"action": map[string]interface{}{
			"action_id":  a.ActionID,
			"type_id":    a.TypeID,
			"attributes": a.Attributes,
		},
	}
	opts := expr.Options{MissingNumber: scoringMissing}

	breakdown := make(map[string]float64, len(scn.Scoring.Objectives)+1)
	var total float64
	for _, o := range scn.Scoring.Objectives {
		s := p.evaluator.EvalNumber(o.Formula, view, opts, scoringMissing)
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		breakdown[o.ID] = s
		total += o.Weight * s
	}

	if risk := scn.Scoring.ExecutionRisk; risk != nil && risk.Enabled {
		var penalty float64
		for _, f := range risk.Factors {
			if p.evaluator.EvalBool(f.Condition, view, expr.Options{}) {
				penalty += f.Penalty
			}
		}
		if risk.MaxPenalty > 0 && penalty > risk.MaxPenalty {
			penalty = risk.MaxPenalty
		}
		weighted := risk.Weight * penalty
		breakdown["execution_risk"] = -weighted
		total -= weighted
	}
	return total, breakdown
}

// tieBreak compares two tied actions: negative means a ranks before b.
func tieBreak(breakers []scenario.TieBreaker, a, b contracts.Action) int {
	for _, tb := range breakers {
		var cmp int
		switch tb {
		case scenario.TieActionIDAsc:
			switch {
			case a.ActionID < b.ActionID:
				cmp = -1
			case a.ActionID > b.ActionID:
				cmp = 1
			}
		case scenario.TieIntensityAsc:
			cmp = actionIntensity(a) - actionIntensity(b)
		case scenario.TieDurationAsc:
			da, db := actionDuration(a), actionDuration(b)
			switch {
			case da < db:
				cmp = -1
			case da > db:
				cmp = 1
			}
		}
		if cmp != 0 {
			return cmp
		}
	}
	// terminal fallback keeps ordering total
	switch {
	case a.ActionID < b.ActionID:
		return -1
	case a.ActionID > b.ActionID:
		return 1
	default:
		return 0
	}
}

func actionIntensity(a contracts.Action) int {
	if s, ok := a.Attributes["intensity"].(string); ok {
		if ord, known := intensityOrdinal[s]; known {
			return ord
		}
	}
	return missingIntensityOrdinal
}

func actionDuration(a contracts.Action) float64 {
	if v, ok := expr.FromAny(a.Attributes["duration"]).AsNumber(); ok {
		return v
	}
	return missingDurationMinutes
}

func forcedEligible(actions []contracts.Action, id string) bool {
	for _, a := range actions {
		if a.ActionID == id {
			return true
		}
	}
	return false
}

func zeroBreakdown(scn *scenario.Scenario) map[string]float64 {
	out := make(map[string]float64, len(scn.Scoring.Objectives))
	for _, o := range scn.Scoring.Objectives {
		out[o.ID] = 0
	}
	return out
}
