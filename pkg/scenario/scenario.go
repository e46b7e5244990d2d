// Package scenario defines the versioned, hash-addressed policy documents the
// engine serves, and the registry that holds them. A scenario is immutable
// once registered; re-registering the same (id, version) with different
// content is an error.
package scenario

import (
	"fmt"

	"github.com/arbiterlabs/ade/pkg/canonical"
	"github.com/arbiterlabs/ade/pkg/expr"
)

// DimensionType is the scalar type of a state dimension.
type DimensionType string

const (
	DimFloat   DimensionType = "float"
	DimInteger DimensionType = "integer"
	DimBoolean DimensionType = "boolean"
	DimString  DimensionType = "string"
)

// DerivationSource tells Stage 2 where a dimension's value comes from.
type DerivationSource string

const (
	SourceSignal   DerivationSource = "signal"
	SourceContext  DerivationSource = "context"
	SourceComputed DerivationSource = "computed"
	SourceMemory   DerivationSource = "memory"
)

// Derivation describes how a dimension is produced.
type Derivation struct {
	Source  DerivationSource `json:"source" yaml:"source"`
	Formula string           `json:"formula,omitempty" yaml:"formula,omitempty"`
	Inputs  []string         `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Dimension is one entry in the state schema. Min/Max, when set, clamp
// numeric values; Default is substituted for unreadable inputs.
type Dimension struct {
	Name       string        `json:"name" yaml:"name"`
	Type       DimensionType `json:"type" yaml:"type"`
	Min        *float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max        *float64      `json:"max,omitempty" yaml:"max,omitempty"`
	Default    interface{}   `json:"default,omitempty" yaml:"default,omitempty"`
	Derivation Derivation    `json:"derivation" yaml:"derivation"`
}

// StateSchema holds the ordered dimension definitions. Order matters:
// computed dimensions may reference earlier ones.
type StateSchema struct {
	CoreDimensions     []Dimension `json:"core_dimensions" yaml:"core_dimensions"`
	ScenarioDimensions []Dimension `json:"scenario_dimensions,omitempty" yaml:"scenario_dimensions,omitempty"`
}

// AttributeSpec declares one action-type attribute.
type AttributeSpec struct {
	Name string        `json:"name" yaml:"name"`
	Type DimensionType `json:"type" yaml:"type"`
	Enum []string      `json:"enum,omitempty" yaml:"enum,omitempty"`
	Min  *float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max  *float64      `json:"max,omitempty" yaml:"max,omitempty"`
}

// ActionType declares a class of candidate actions.
type ActionType struct {
	ID           string          `json:"id" yaml:"id"`
	Attributes   []AttributeSpec `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	PrimarySkill string          `json:"primary_skill" yaml:"primary_skill"`
}

// StaticAction is a pre-declared candidate for static-source scenarios.
type StaticAction struct {
	ActionID   string                 `json:"action_id" yaml:"action_id"`
	TypeID     string                 `json:"type_id" yaml:"type_id"`
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ActionsConfig declares the candidate action universe.
type ActionsConfig struct {
	Source string         `json:"source" yaml:"source"` // "static" or "dynamic"
	Types  []ActionType   `json:"types" yaml:"types"`
	Static []StaticAction `json:"static,omitempty" yaml:"static,omitempty"`
}

// GuardrailEffect is what a triggered rule does to the candidate set.
type GuardrailEffect string

const (
	EffectBlockAction     GuardrailEffect = "block_action"
	EffectForceAction     GuardrailEffect = "force_action"
	EffectCapIntensity    GuardrailEffect = "cap_intensity"
	EffectRequireCooldown GuardrailEffect = "require_cooldown"
)

// GuardrailTarget selects which actions a rule applies to. Any non-empty
// field matches; AttributeName/AttributeValue match an attribute equality.
type GuardrailTarget struct {
	ActionID       string      `json:"action_id,omitempty" yaml:"action_id,omitempty"`
	TypeID         string      `json:"type_id,omitempty" yaml:"type_id,omitempty"`
	AttributeName  string      `json:"attribute_name,omitempty" yaml:"attribute_name,omitempty"`
	AttributeValue interface{} `json:"attribute_value,omitempty" yaml:"attribute_value,omitempty"`
}

// GuardrailRule is one ordered rule. Lower Priority evaluates first.
type GuardrailRule struct {
	ID           string          `json:"id" yaml:"id"`
	Priority     int             `json:"priority" yaml:"priority"`
	Condition    string          `json:"condition" yaml:"condition"`
	Effect       GuardrailEffect `json:"effect" yaml:"effect"`
	Target       GuardrailTarget `json:"target,omitempty" yaml:"target,omitempty"`
	MaxIntensity string          `json:"max_intensity,omitempty" yaml:"max_intensity,omitempty"`
}

// GuardrailsConfig is the scenario's ordered rule set.
type GuardrailsConfig struct {
	Rules []GuardrailRule `json:"rules" yaml:"rules"`
}

// Objective is one weighted scoring formula evaluated over {state, action}.
type Objective struct {
	ID      string  `json:"id" yaml:"id"`
	Weight  float64 `json:"weight" yaml:"weight"`
	Formula string  `json:"formula" yaml:"formula"`
}

// RiskFactor adds a penalty when its condition holds.
type RiskFactor struct {
	ID        string  `json:"id" yaml:"id"`
	Condition string  `json:"condition" yaml:"condition"`
	Penalty   float64 `json:"penalty" yaml:"penalty"`
}

// ExecutionRisk accumulates factor penalties, caps the total at MaxPenalty,
// weights it, and subtracts it from the weighted objective sum.
type ExecutionRisk struct {
	Enabled    bool         `json:"enabled" yaml:"enabled"`
	Weight     float64      `json:"weight" yaml:"weight"`
	MaxPenalty float64      `json:"max_penalty" yaml:"max_penalty"`
	Factors    []RiskFactor `json:"factors,omitempty" yaml:"factors,omitempty"`
}

// TieBreaker orders score-tied actions.
type TieBreaker string

const (
	TieActionIDAsc  TieBreaker = "action_id_asc"
	TieIntensityAsc TieBreaker = "intensity_asc"
	TieDurationAsc  TieBreaker = "duration_asc"
)

// ScoringConfig declares objectives, optional risk penalty, and tie-breakers.
// Objective weights must sum to WeightSum (typically 1.0).
type ScoringConfig struct {
	Objectives    []Objective    `json:"objectives" yaml:"objectives"`
	WeightSum     float64        `json:"weight_sum" yaml:"weight_sum"`
	ExecutionRisk *ExecutionRisk `json:"execution_risk,omitempty" yaml:"execution_risk,omitempty"`
	TieBreakers   []TieBreaker   `json:"tie_breakers" yaml:"tie_breakers"`
}

// Skill declares an available enrichment skill.
type Skill struct {
	ID              string                 `json:"id" yaml:"id"`
	Version         string                 `json:"version" yaml:"version"`
	MaxOutputTokens int                    `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
	CustomParams    map[string]interface{} `json:"custom_params,omitempty" yaml:"custom_params,omitempty"`
}

// SkillMapping overrides the primary/fallback pair for one action type.
type SkillMapping struct {
	Primary  string `json:"primary" yaml:"primary"`
	Fallback string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// SkillsConfig declares available skills and their per-action-type routing.
type SkillsConfig struct {
	Available       []Skill                 `json:"available" yaml:"available"`
	ActionTypeMap   map[string]SkillMapping `json:"action_type_map,omitempty" yaml:"action_type_map,omitempty"`
	DefaultFallback string                  `json:"default_fallback" yaml:"default_fallback"`
}

// ExecutionMode selects how skills run.
type ExecutionMode string

const (
	ModeDeterministicOnly ExecutionMode = "deterministic_only"
	ModeSkillEnhanced     ExecutionMode = "skill_enhanced"
)

// TimeoutBudgets are the three scenario-level budgets, in milliseconds.
type TimeoutBudgets struct {
	TotalDecisionMS  int `json:"total_decision_ms" yaml:"total_decision_ms"`
	SkillExecutionMS int `json:"skill_execution_ms" yaml:"skill_execution_ms"`
	ValidationMS     int `json:"validation_ms" yaml:"validation_ms"`
}

// ExecutionConfig sets the default execution mode and timeout budgets.
type ExecutionConfig struct {
	DefaultMode       ExecutionMode  `json:"default_mode" yaml:"default_mode"`
	AllowModeOverride bool           `json:"allow_mode_override" yaml:"allow_mode_override"`
	Timeouts          TimeoutBudgets `json:"timeouts" yaml:"timeouts"`
}

// Scenario is a complete policy document.
type Scenario struct {
	ID          string           `json:"scenario_id" yaml:"scenario_id"`
	Version     string           `json:"version" yaml:"version"`
	StateSchema StateSchema      `json:"state_schema" yaml:"state_schema"`
	Actions     ActionsConfig    `json:"actions" yaml:"actions"`
	Guardrails  GuardrailsConfig `json:"guardrails" yaml:"guardrails"`
	Scoring     ScoringConfig    `json:"scoring" yaml:"scoring"`
	Skills      SkillsConfig     `json:"skills" yaml:"skills"`
	Execution   ExecutionConfig  `json:"execution" yaml:"execution"`
}

// Hash returns the scenario's content address: sha256 over its RFC 8785
// canonical JSON form.
func (s *Scenario) Hash() (string, error) {
	return canonical.Hash(s)
}

// ActionTypeByID returns the declared action type, if any.
func (s *Scenario) ActionTypeByID(typeID string) (*ActionType, bool) {
	for i := range s.Actions.Types {
		if s.Actions.Types[i].ID == typeID {
			return &s.Actions.Types[i], true
		}
	}
	return nil, false
}

// SkillByID returns a declared skill, if any.
func (s *Scenario) SkillByID(id string) (*Skill, bool) {
	for i := range s.Skills.Available {
		if s.Skills.Available[i].ID == id {
			return &s.Skills.Available[i], true
		}
	}
	return nil, false
}

// Validate checks the scenario's internal invariants:
//   - objective weights sum to WeightSum (1.0 when unset);
//   - every referenced skill exists;
//   - attribute specs are internally consistent (enum only on strings,
//     min/max only on numerics);
//   - force_action targets resolve to a declared action for static sources;
//   - computed dimensions form no cycle and reference only earlier
//     dimensions or declared inputs;
//   - all formulas parse.
func (s *Scenario) Validate() error {
	if s.ID == "" || s.Version == "" {
		return fmt.Errorf("scenario: id and version are required")
	}

	want := s.Scoring.WeightSum
	if want == 0 {
		want = 1.0
	}
	var sum float64
	for _, o := range s.Scoring.Objectives {
		sum += o.Weight
		if _, err := expr.Parse(o.Formula); err != nil {
			return fmt.Errorf("scenario %s: objective %s: %w", s.ID, o.ID, err)
		}
	}
	if len(s.Scoring.Objectives) == 0 {
		return fmt.Errorf("scenario %s: at least one scoring objective required", s.ID)
	}
	if diff := sum - want; diff > 1e-6 || diff < -1e-6 {
		return fmt.Errorf("scenario %s: objective weights sum to %v, want %v", s.ID, sum, want)
	}

	for typeID, m := range s.Skills.ActionTypeMap {
		if _, ok := s.ActionTypeByID(typeID); !ok {
			return fmt.Errorf("scenario %s: skill mapping references unknown action type %q", s.ID, typeID)
		}
		if _, ok := s.SkillByID(m.Primary); !ok {
			return fmt.Errorf("scenario %s: unknown primary skill %q for type %q", s.ID, m.Primary, typeID)
		}
		if m.Fallback != "" {
			if _, ok := s.SkillByID(m.Fallback); !ok {
				return fmt.Errorf("scenario %s: unknown fallback skill %q for type %q", s.ID, m.Fallback, typeID)
			}
		}
	}
	for _, at := range s.Actions.Types {
		if at.PrimarySkill != "" {
			if _, ok := s.SkillByID(at.PrimarySkill); !ok {
				return fmt.Errorf("scenario %s: action type %q references unknown skill %q", s.ID, at.ID, at.PrimarySkill)
			}
		}
		for _, attr := range at.Attributes {
			if len(attr.Enum) > 0 && attr.Type != DimString {
				return fmt.Errorf("scenario %s: attribute %s.%s: enum requires string type", s.ID, at.ID, attr.Name)
			}
			if (attr.Min != nil || attr.Max != nil) && attr.Type != DimFloat && attr.Type != DimInteger {
				return fmt.Errorf("scenario %s: attribute %s.%s: range requires numeric type", s.ID, at.ID, attr.Name)
			}
		}
	}
	if s.Skills.DefaultFallback == "" {
		return fmt.Errorf("scenario %s: default fallback skill required", s.ID)
	}
	if _, ok := s.SkillByID(s.Skills.DefaultFallback); !ok {
		return fmt.Errorf("scenario %s: unknown default fallback skill %q", s.ID, s.Skills.DefaultFallback)
	}

	for _, r := range s.Guardrails.Rules {
		if _, err := expr.Parse(r.Condition); err != nil {
			return fmt.Errorf("scenario %s: guardrail %s: %w", s.ID, r.ID, err)
		}
		if r.Effect == EffectForceAction {
			if r.Target.ActionID == "" {
				return fmt.Errorf("scenario %s: guardrail %s: force_action requires a target action id", s.ID, r.ID)
			}
			if s.Actions.Source == "static" && !s.staticActionExists(r.Target.ActionID) {
				return fmt.Errorf("scenario %s: guardrail %s: force target %q is not a declared action",
					s.ID, r.ID, r.Target.ActionID)
			}
		}
	}

	return s.validateDimensionOrder()
}

func (s *Scenario) staticActionExists(actionID string) bool {
	for _, a := range s.Actions.Static {
		if a.ActionID == actionID {
			return true
		}
	}
	return false
}

// validateDimensionOrder rejects dimensional cycles: every computed
// dimension may reference only dimensions declared before it.
func (s *Scenario) validateDimensionOrder() error {
	seen := make(map[string]bool)
	check := func(dims []Dimension, scope string) error {
		for _, d := range dims {
			if d.Derivation.Source == SourceComputed {
				if d.Derivation.Formula == "" {
					return fmt.Errorf("scenario %s: %s dimension %q: computed requires a formula", s.ID, scope, d.Name)
				}
				if _, err := expr.Parse(d.Derivation.Formula); err != nil {
					return fmt.Errorf("scenario %s: %s dimension %q: %w", s.ID, scope, d.Name, err)
				}
				for _, in := range d.Derivation.Inputs {
					if in == d.Name {
						return fmt.Errorf("scenario %s: dimension %q depends on itself", s.ID, d.Name)
					}
					if !seen[in] {
						return fmt.Errorf("scenario %s: dimension %q references %q before it is derived",
							s.ID, d.Name, in)
					}
				}
			}
			if seen[d.Name] {
				return fmt.Errorf("scenario %s: duplicate dimension %q", s.ID, d.Name)
			}
			seen[d.Name] = true
		}
		return nil
	}
	if err := check(s.StateSchema.CoreDimensions, "core"); err != nil {
		return err
	}
	return check(s.StateSchema.ScenarioDimensions, "scenario")
}
