package pipeline

import (
	"context"
	"time"

	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

// stageIngest rejects structurally invalid requests and normalizes the
// action list. A client-supplied decision_id was already discarded when the
// envelope minted its own.
func (p *Pipeline) stageIngest(ctx context.Context, env *envelope.Envelope, scn *scenario.Scenario) error {
	req := env.Request
	switch {
	case req == nil:
		return E(CodeInvalidRequest, "request body required")
	case req.ScenarioID == "":
		return E(CodeInvalidRequest, "scenario_id is required")
	case req.UserID == "":
		return E(CodeInvalidRequest, "user_id is required")
	case len(req.Actions) == 0:
		return E(CodeInvalidRequest, "actions must not be empty")
	case req.Context.CurrentTime == "":
		return E(CodeInvalidRequest, "context.current_time is required")
	}
	if _, err := parseCurrentTime(req.Context); err != nil {
		return E(CodeInvalidRequest, "context.current_time: %s", err.Error())
	}

	seen := make(map[string]bool, len(req.Actions))
	normalized := make([]contracts.Action, 0, len(req.Actions))
	for i, a := range req.Actions {
		if a.ActionID == "" || a.TypeID == "" {
			return E(CodeInvalidRequest, "actions[%d]: action_id and type_id are required", i)
		}
		if seen[a.ActionID] {
			return E(CodeInvalidRequest, "duplicate action_id %q", a.ActionID)
		}
		seen[a.ActionID] = true
		if _, ok := scn.ActionTypeByID(a.TypeID); !ok {
			return E(CodeInvalidActionType, "action type %q is not declared by scenario %s", a.TypeID, scn.ID).
				WithDetails(map[string]interface{}{"action_id": a.ActionID, "type_id": a.TypeID})
		}
		if a.Attributes == nil {
			a.Attributes = map[string]interface{}{}
		}
		normalized = append(normalized, a)
	}
	env.Actions = normalized
	return nil
}

// parseCurrentTime resolves the request clock in the caller's timezone.
func parseCurrentTime(rc contracts.RequestContext) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, rc.CurrentTime)
	if err != nil {
		return time.Time{}, err
	}
	if rc.Timezone != "" {
		if loc, locErr := time.LoadLocation(rc.Timezone); locErr == nil {
			t = t.In(loc)
		}
	}
	return t, nil
}
