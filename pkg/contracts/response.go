package contracts

// RankedOption is one scored candidate in the final ranking.
type RankedOption struct {
	ActionID       string             `json:"action_id"`
	Rank           int                `json:"rank"`
	Score          float64            `json:"score"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty"`
}

// DecisionPayload is the human-facing output attached to the selection.
type DecisionPayload struct {
	Rationale         string                 `json:"rationale"`
	DisplayTitle      string                 `json:"display_title,omitempty"`
	DisplayParameters map[string]interface{} `json:"display_parameters,omitempty"`
}

// DecisionBlock is the selection subtree of the response.
type DecisionBlock struct {
	DecisionID     string          `json:"decision_id"`
	SelectedAction string          `json:"selected_action"`
	Payload        DecisionPayload `json:"payload"`
	RankedOptions  []RankedOption  `json:"ranked_options"`
}

// ExecutionBlock reports how the payload was produced.
type ExecutionBlock struct {
	ExecutionMode      string `json:"execution_mode"`
	SkillID            string `json:"skill_id"`
	SkillVersion       string `json:"skill_version"`
	ValidationStatus   string `json:"validation_status"`
	FallbackUsed       bool   `json:"fallback_used"`
	FallbackReasonCode string `json:"fallback_reason_code,omitempty"`
}

// AuditBlock links the response to its stored trace.
type AuditBlock struct {
	DecisionID      string `json:"decision_id"`
	ReplayToken     string `json:"replay_token"`
	ScenarioID      string `json:"scenario_id"`
	ScenarioVersion string `json:"scenario_version"`
	ScenarioHash    string `json:"scenario_hash"`
	TraceID         string `json:"trace_id"`
}

// MetaBlock carries request bookkeeping.
type MetaBlock struct {
	RequestID       string `json:"request_id"`
	Timestamp       string `json:"timestamp"`
	TotalDurationMS int64  `json:"total_duration_ms"`
	APIVersion      string `json:"api_version"`
}

// DecisionResponse is the body of a successful POST /v1/decide.
type DecisionResponse struct {
	Decision          DecisionBlock  `json:"decision"`
	State             UserState      `json:"state"`
	Execution         ExecutionBlock `json:"execution"`
	GuardrailsApplied []string       `json:"guardrails_applied"`
	Audit             AuditBlock     `json:"audit"`
	Meta              MetaBlock      `json:"meta"`
}
