package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	t.Run("Register And Get", func(t *testing.T) {
		s := NotificationTiming()
		hash, err := r.Register(s)
		require.NoError(t, err)
		assert.Contains(t, hash, "sha256:")

		e, err := r.Get("notification-timing", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, hash, e.Hash)
		assert.Equal(t, s.ID, e.Scenario.ID)
	})

	t.Run("Same Key Same Hash Is NoOp", func(t *testing.T) {
		_, err := r.Register(NotificationTiming())
		assert.NoError(t, err)
	})

	t.Run("Same Key Different Hash Fails", func(t *testing.T) {
		mutated := NotificationTiming()
		mutated.Scoring.Objectives[0].Weight = 0.4
		mutated.Scoring.Objectives[1].Weight = 0.4
		_, err := r.Register(mutated)
		assert.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("Get Not Found", func(t *testing.T) {
		_, err := r.Get("missing", "latest")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = r.Get("notification-timing", "9.9.9")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Get By Hash", func(t *testing.T) {
		e, err := r.Get("notification-timing", "latest")
		require.NoError(t, err)
		byHash, err := r.GetByHash(e.Hash)
		require.NoError(t, err)
		assert.Equal(t, e.Scenario.ID, byHash.Scenario.ID)

		_, err = r.GetByHash("sha256:0000")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegistryLatest(t *testing.T) {
	r := NewRegistry()

	v1 := NotificationTiming()
	_, err := r.Register(v1)
	require.NoError(t, err)

	v2 := NotificationTiming()
	v2.Version = "1.2.0"
	_, err = r.Register(v2)
	require.NoError(t, err)

	v110 := NotificationTiming()
	v110.Version = "1.10.0"
	_, err = r.Register(v110)
	require.NoError(t, err)

	t.Run("Numeric Segment Comparison", func(t *testing.T) {
		// 1.10.0 > 1.2.0 numerically, not lexically
		e, err := r.Get("notification-timing", "latest")
		require.NoError(t, err)
		assert.Equal(t, "1.10.0", e.Scenario.Version)
	})

	t.Run("Empty Version Means Latest", func(t *testing.T) {
		e, err := r.Get("notification-timing", "")
		require.NoError(t, err)
		assert.Equal(t, "1.10.0", e.Scenario.Version)
	})

	t.Run("List Is Ordered", func(t *testing.T) {
		entries := r.List()
		require.Len(t, entries, 3)
		assert.Equal(t, "1.0.0", entries[0].Scenario.Version)
		assert.Equal(t, "1.2.0", entries[1].Scenario.Version)
		assert.Equal(t, "1.10.0", entries[2].Scenario.Version)
	})
}

func TestScenarioValidate(t *testing.T) {
	t.Run("Builtins Are Valid", func(t *testing.T) {
		for _, s := range Builtin() {
			assert.NoError(t, s.Validate(), s.ID)
		}
	})

	t.Run("Weights Must Sum", func(t *testing.T) {
		s := NotificationTiming()
		s.Scoring.Objectives[0].Weight = 0.9
		assert.ErrorContains(t, s.Validate(), "weights sum")
	})

	t.Run("Unknown Skill Reference", func(t *testing.T) {
		s := NotificationTiming()
		s.Actions.Types[0].PrimarySkill = "nope"
		assert.ErrorContains(t, s.Validate(), "unknown skill")
	})

	t.Run("Missing Default Fallback", func(t *testing.T) {
		s := NotificationTiming()
		s.Skills.DefaultFallback = ""
		assert.ErrorContains(t, s.Validate(), "default fallback")
	})

	t.Run("Dimension Forward Reference Rejected", func(t *testing.T) {
		s := NotificationTiming()
		s.StateSchema.ScenarioDimensions[0].Derivation.Inputs = []string{"not_yet_derived"}
		assert.ErrorContains(t, s.Validate(), "before it is derived")
	})

	t.Run("Dimension Self Cycle Rejected", func(t *testing.T) {
		s := NotificationTiming()
		s.StateSchema.ScenarioDimensions[0].Derivation.Inputs = []string{"engagement_level"}
		assert.ErrorContains(t, s.Validate(), "depends on itself")
	})

	t.Run("Enum On Numeric Attribute Rejected", func(t *testing.T) {
		s := FitnessRecovery()
		s.Actions.Types[0].Attributes[1].Enum = []string{"5", "10"}
		assert.ErrorContains(t, s.Validate(), "enum requires string")
	})

	t.Run("Force Target Must Exist For Static Source", func(t *testing.T) {
		s := NotificationTiming()
		s.Actions.Source = "static"
		s.Actions.Static = []StaticAction{{ActionID: "send-now", TypeID: "send-now"}}
		// GR-MAX-DAILY forces "suppress", not declared statically
		assert.ErrorContains(t, s.Validate(), "not a declared action")
	})

	t.Run("Bad Guardrail Formula Rejected", func(t *testing.T) {
		s := NotificationTiming()
		s.Guardrails.Rules[0].Condition = "((("
		assert.Error(t, s.Validate())
	})

	t.Run("Hash Is Stable", func(t *testing.T) {
		h1, err := NotificationTiming().Hash()
		require.NoError(t, err)
		h2, err := NotificationTiming().Hash()
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})
}

func TestLoadBytes(t *testing.T) {
	t.Run("Valid Document", func(t *testing.T) {
		doc := `
scenario_id: break-reminder
version: 1.0.0
state_schema:
  core_dimensions:
    - name: minutes_active
      type: integer
      default: 0
      derivation: {source: signal}
actions:
  source: dynamic
  types:
    - id: take-break
      primary_skill: template-renderer
    - id: keep-working
      primary_skill: template-renderer
scoring:
  weight_sum: 1.0
  objectives:
    - id: fatigue
      weight: 1.0
      formula: "if_else(action.type_id == 'take-break', clamp(state.core.minutes_active / 120, 0, 1), 0.4)"
  tie_breakers: [action_id_asc]
skills:
  available:
    - id: template-renderer
      version: 1.0.0
  default_fallback: template-renderer
execution:
  default_mode: deterministic_only
  allow_mode_override: false
  timeouts: {total_decision_ms: 1000, skill_execution_ms: 500, validation_ms: 100}
`
		s, err := LoadBytes([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, "break-reminder", s.ID)
		assert.Equal(t, ModeDeterministicOnly, s.Execution.DefaultMode)
	})

	t.Run("Invalid Document Rejected", func(t *testing.T) {
		_, err := LoadBytes([]byte("scenario_id: x\nversion: 1.0.0\n"))
		assert.Error(t, err)
	})
}
