// Package contracts defines the wire and data contracts shared across the
// decision engine: requests, responses, user state, and skill envelopes.
// These types are serialization-stable; pipeline internals live elsewhere.
package contracts

import "encoding/json"

// Action is a candidate outcome offered to the engine. ActionID is the only
// identity used in ordering and comparison; it must be locally unique within
// a request.
type Action struct {
	ActionID   string                 `json:"action_id"`
	TypeID     string                 `json:"type_id"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// RequestOptions carries per-request behavior switches.
type RequestOptions struct {
	ExecutionModeOverride string `json:"execution_mode_override,omitempty"`
	IncludeRationale      *bool  `json:"include_rationale,omitempty"`
	IncludeScoreBreakdown bool   `json:"include_score_breakdown,omitempty"`
	MaxRankedOptions      int    `json:"max_ranked_options,omitempty"`
}

// RequestContext is the caller-supplied situational context. CurrentTime is
// mandatory and ISO 8601. Unknown keys are kept in Extra so scenarios can
// derive dimensions from arbitrary context fields.
type RequestContext struct {
	CurrentTime         string                 `json:"current_time"`
	Timezone            string                 `json:"timezone,omitempty"`
	PlatformConstraints map[string]interface{} `json:"platform_constraints,omitempty"`
	Extra               map[string]interface{} `json:"-"`
}

// UnmarshalJSON captures declared fields and stashes everything else in Extra.
func (c *RequestContext) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["current_time"]; ok {
		if err := json.Unmarshal(v, &c.CurrentTime); err != nil {
			return err
		}
	}
	if v, ok := raw["timezone"]; ok {
		if err := json.Unmarshal(v, &c.Timezone); err != nil {
			return err
		}
	}
	if v, ok := raw["platform_constraints"]; ok {
		if err := json.Unmarshal(v, &c.PlatformConstraints); err != nil {
			return err
		}
	}
	for k, v := range raw {
		switch k {
		case "current_time", "timezone", "platform_constraints":
			continue
		}
		var val interface{}
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if c.Extra == nil {
			c.Extra = make(map[string]interface{})
		}
		c.Extra[k] = val
	}
	return nil
}

// MarshalJSON folds Extra back into the flat context object.
func (c RequestContext) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["current_time"] = c.CurrentTime
	if c.Timezone != "" {
		out["timezone"] = c.Timezone
	}
	if c.PlatformConstraints != nil {
		out["platform_constraints"] = c.PlatformConstraints
	}
	return json.Marshal(out)
}

// View flattens the context into a single lookup map for derivations and
// guardrail views.
func (c RequestContext) View() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["current_time"] = c.CurrentTime
	if c.Timezone != "" {
		out["timezone"] = c.Timezone
	}
	if c.PlatformConstraints != nil {
		out["platform_constraints"] = c.PlatformConstraints
	}
	return out
}

// DecisionRequest is the body of POST /v1/decide.
type DecisionRequest struct {
	ScenarioID string                 `json:"scenario_id"`
	UserID     string                 `json:"user_id"`
	Platform   string                 `json:"platform,omitempty"`
	Actions    []Action               `json:"actions"`
	Signals    map[string]interface{} `json:"signals,omitempty"`
	Context    RequestContext         `json:"context"`
	Options    RequestOptions         `json:"options,omitempty"`

	// DecisionID supplied by a client is ignored; the server mints its own.
	DecisionID string `json:"decision_id,omitempty"`
}
