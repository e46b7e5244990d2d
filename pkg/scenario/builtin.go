package scenario

// Built-in scenarios. These ship with the server binary and double as the
// reference policies for the end-to-end suite: a notification-timing policy
// and a fitness-session policy served through the same engine codepath.

func f(v float64) *float64 { return &v }

// NotificationTiming returns the notification-timing scenario: decide
// whether to send a notification now, delay it, or suppress it.
func NotificationTiming() *Scenario {
	return &Scenario{
		ID:      "notification-timing",
		Version: "1.0.0",
		StateSchema: StateSchema{
			CoreDimensions: []Dimension{
				{Name: "interactions_7d", Type: DimInteger, Min: f(0), Max: f(500), Default: 0,
					Derivation: Derivation{Source: SourceSignal}},
				{Name: "notifications_sent_24h", Type: DimInteger, Min: f(0), Max: f(20), Default: 0,
					Derivation: Derivation{Source: SourceSignal}},
				{Name: "hours_since_last_notification", Type: DimFloat, Min: f(0), Max: f(168), Default: 24,
					Derivation: Derivation{Source: SourceSignal}},
				{Name: "content_relevance_score", Type: DimFloat, Min: f(0), Max: f(1), Default: 0.5,
					Derivation: Derivation{Source: SourceSignal}},
				{Name: "local_hour", Type: DimInteger, Min: f(0), Max: f(23), Default: 12,
					Derivation: Derivation{Source: SourceContext}},
				{Name: "preferred_channel", Type: DimString, Default: "push",
					Derivation: Derivation{Source: SourceMemory}},
			},
			ScenarioDimensions: []Dimension{
				{Name: "engagement_level", Type: DimFloat, Min: f(0), Max: f(1), Default: 0.5,
					Derivation: Derivation{
						Source:  SourceComputed,
						Formula: "clamp(interactions_7d / 10, 0, 1)",
						Inputs:  []string{"interactions_7d"},
					}},
				{Name: "notification_pressure", Type: DimFloat, Min: f(0), Max: f(1), Default: 0,
					Derivation: Derivation{
						Source:  SourceComputed,
						Formula: "clamp(notifications_sent_24h / 3, 0, 1)",
						Inputs:  []string{"notifications_sent_24h"},
					}},
				{Name: "recency_factor", Type: DimFloat, Min: f(0), Max: f(1), Default: 1,
					Derivation: Derivation{
						Source:  SourceComputed,
						Formula: "clamp(hours_since_last_notification / 6, 0, 1)",
						Inputs:  []string{"hours_since_last_notification"},
					}},
			},
		},
		Actions: ActionsConfig{
			Source: "dynamic",
			Types: []ActionType{
				{ID: "send-now", PrimarySkill: "notification-copywriter"},
				{ID: "delay-1h", PrimarySkill: "notification-copywriter"},
				{ID: "delay-next-optimal", PrimarySkill: "notification-copywriter"},
				{ID: "suppress", PrimarySkill: "notification-copywriter"},
			},
		},
		Guardrails: GuardrailsConfig{
			Rules: []GuardrailRule{
				{
					ID:        "GR-MAX-DAILY",
					Priority:  5,
					Condition: "state.core.notifications_sent_24h >= 3",
					Effect:    EffectForceAction,
					Target:    GuardrailTarget{ActionID: "suppress"},
				},
				{
					ID:        "GR-QUIET-HOURS",
					Priority:  10,
					Condition: "state.core.local_hour < 7 || state.core.local_hour >= 22",
					Effect:    EffectBlockAction,
					Target:    GuardrailTarget{TypeID: "send-now"},
				},
				{
					ID:        "GR-NOTIFY-COOLDOWN",
					Priority:  20,
					Condition: "state.core.hours_since_last_notification < 0.5",
					Effect:    EffectRequireCooldown,
					Target:    GuardrailTarget{TypeID: "send-now"},
				},
			},
		},
		Scoring: ScoringConfig{
			WeightSum: 1.0,
			Objectives: []Objective{
				{ID: "immediacy_value", Weight: 0.5, Formula: "if_else(action.type_id == 'send-now', " +
					"clamp(state.core.content_relevance_score * state.scenario_extensions.recency_factor + 0.3, 0, 1), " +
					"if_else(action.type_id == 'suppress', 0.2, 0.5))"},
				{ID: "fatigue_guard", Weight: 0.3, Formula: "if_else(action.type_id == 'send-now', " +
					"1 - state.scenario_extensions.notification_pressure, 0.7)"},
				{ID: "engagement_fit", Weight: 0.2, Formula: "if_else(action.type_id == 'suppress', " +
					"1 - state.scenario_extensions.engagement_level, state.scenario_extensions.engagement_level)"},
			},
			ExecutionRisk: &ExecutionRisk{
				Enabled:    true,
				Weight:     0.5,
				MaxPenalty: 0.3,
				Factors: []RiskFactor{
					{ID: "saturated", Condition: "state.scenario_extensions.notification_pressure >= 1", Penalty: 0.2},
					{ID: "dormant_user", Condition: "state.scenario_extensions.engagement_level < 0.05", Penalty: 0.1},
				},
			},
			TieBreakers: []TieBreaker{TieActionIDAsc},
		},
		Skills: SkillsConfig{
			Available: []Skill{
				{ID: "notification-copywriter", Version: "1.0.0", MaxOutputTokens: 150},
				{ID: "template-renderer", Version: "1.0.0"},
			},
			DefaultFallback: "template-renderer",
		},
		Execution: ExecutionConfig{
			DefaultMode:       ModeSkillEnhanced,
			AllowModeOverride: true,
			Timeouts: TimeoutBudgets{
				TotalDecisionMS:  2000,
				SkillExecutionMS: 1500,
				ValidationMS:     200,
			},
		},
	}
}

// FitnessRecovery returns the fitness-session scenario: pick a workout,
// stretch, or rest session matched to the user's recovery state.
func FitnessRecovery() *Scenario {
	return &Scenario{
		ID:      "fitness-recovery",
		Version: "1.0.0",
		StateSchema: StateSchema{
			CoreDimensions: []Dimension{
				{Name: "energy_level", Type: DimFloat, Min: f(0), Max: f(1), Default: 0.5,
					Derivation: Derivation{Source: SourceSignal}},
				{Name: "sleep_hours", Type: DimFloat, Min: f(0), Max: f(14), Default: 7,
					Derivation: Derivation{Source: SourceSignal}},
				{Name: "soreness", Type: DimFloat, Min: f(0), Max: f(1), Default: 0.2,
					Derivation: Derivation{Source: SourceSignal}},
				{Name: "days_since_workout", Type: DimInteger, Min: f(0), Max: f(60), Default: 1,
					Derivation: Derivation{Source: SourceSignal}},
			},
			ScenarioDimensions: []Dimension{
				{Name: "readiness", Type: DimFloat, Min: f(0), Max: f(1), Default: 0.5,
					Derivation: Derivation{
						Source:  SourceComputed,
						Formula: "clamp(energy_level * 0.5 + (sleep_hours / 8) * 0.3 + (1 - soreness) * 0.2, 0, 1)",
						Inputs:  []string{"energy_level", "sleep_hours", "soreness"},
					}},
			},
		},
		Actions: ActionsConfig{
			Source: "dynamic",
			Types: []ActionType{
				{ID: "workout", PrimarySkill: "fitness-coach", Attributes: []AttributeSpec{
					{Name: "intensity", Type: DimString, Enum: []string{"low", "moderate", "high"}},
					{Name: "duration", Type: DimInteger, Min: f(5), Max: f(180)},
				}},
				{ID: "stretch", PrimarySkill: "fitness-coach"},
				{ID: "rest", PrimarySkill: "fitness-coach"},
			},
		},
		Guardrails: GuardrailsConfig{
			Rules: []GuardrailRule{
				{
					ID:           "GR-OVERTRAINING",
					Priority:     5,
					Condition:    "state.core.soreness > 0.8",
					Effect:       EffectCapIntensity,
					MaxIntensity: "low",
				},
				{
					ID:           "GR-LOW-READINESS",
					Priority:     10,
					Condition:    "state.scenario_extensions.readiness < 0.25",
					Effect:       EffectCapIntensity,
					MaxIntensity: "moderate",
				},
			},
		},
		Scoring: ScoringConfig{
			WeightSum: 1.0,
			Objectives: []Objective{
				{ID: "intensity_match", Weight: 0.6, Formula: "if_else(action.attributes.intensity == 'high', " +
					"state.scenario_extensions.readiness, " +
					"if_else(action.attributes.intensity == 'low', 1 - state.scenario_extensions.readiness, 0.6))"},
				{ID: "variety", Weight: 0.4, Formula: "coalesce(action.attributes.novelty, 0.5)"},
			},
			TieBreakers: []TieBreaker{TieIntensityAsc, TieDurationAsc, TieActionIDAsc},
		},
		Skills: SkillsConfig{
			Available: []Skill{
				{ID: "fitness-coach", Version: "1.0.0", MaxOutputTokens: 150},
				{ID: "template-renderer", Version: "1.0.0"},
			},
			ActionTypeMap: map[string]SkillMapping{
				"rest": {Primary: "template-renderer"},
			},
			DefaultFallback: "template-renderer",
		},
		Execution: ExecutionConfig{
			DefaultMode:       ModeSkillEnhanced,
			AllowModeOverride: true,
			Timeouts: TimeoutBudgets{
				TotalDecisionMS:  2000,
				SkillExecutionMS: 1500,
				ValidationMS:     200,
			},
		},
	}
}

// Builtin returns all built-in scenarios.
func Builtin() []*Scenario {
	return []*Scenario{NotificationTiming(), FitnessRecovery()}
}
