package contracts

// SkillDecisionContext is the read-only projection of the locked decision a
// skill receives. Skills explain the selection; they never revisit it.
type SkillDecisionContext struct {
	DecisionID        string                 `json:"decision_id"`
	SelectedAction    string                 `json:"selected_action"`
	ActionMetadata    map[string]interface{} `json:"action_metadata,omitempty"`
	RankedOptions     []RankedOption         `json:"ranked_options"`
	TriggeredGuardIDs []string               `json:"triggered_guardrail_ids,omitempty"`
}

// SkillConfig carries the resolved skill identity and budgets.
type SkillConfig struct {
	SkillID         string                 `json:"skill_id"`
	SkillVersion    string                 `json:"skill_version"`
	ExecutionMode   string                 `json:"execution_mode"`
	MaxOutputTokens int                    `json:"max_output_tokens"`
	TimeoutMS       int                    `json:"timeout_ms"`
	CustomParams    map[string]interface{} `json:"custom_params,omitempty"`
}

// SkillInputEnvelope is the complete input handed to a skill executor.
type SkillInputEnvelope struct {
	Decision SkillDecisionContext `json:"decision"`
	State    UserState            `json:"state"`
	Skill    SkillConfig          `json:"skill"`
}

// SkillOutput is what an executor returns for validation.
type SkillOutput struct {
	Payload  map[string]interface{} `json:"payload"`
	Metadata map[string]interface{} `json:"metadata"`
}
