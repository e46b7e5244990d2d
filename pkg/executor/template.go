package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/scenario"
)

// Template ladder, highest priority first. Stage 8 fallback uses the same
// ladder, which is what guarantees skill and fallback output stay aligned.
const (
	TemplateHighChurnRisk  = "high_churn_risk"
	TemplateNewUser        = "new_user"
	TemplateLowEngagement  = "low_engagement"
	TemplateHighEngagement = "high_engagement"
	TemplateDefault        = "default"
)

// templates interpolate the selected action's display name. Wording stays
// inside the authority boundary: no recommendations, no selection language.
var templates = map[string]struct {
	rationale string
	title     string
}{
	TemplateHighChurnRisk:  {"We kept it simple today: %s. One small step counts.", "A small step"},
	TemplateNewUser:        {"Welcome aboard. %s is a gentle way to get going.", "Getting started"},
	TemplateLowEngagement:  {"%s is ready whenever you are. No pressure.", "Whenever you're ready"},
	TemplateHighEngagement: {"Keeping your momentum going with %s.", "Keep it up"},
	TemplateDefault:        {"%s is lined up for you.", "Up next"},
}

// SelectTemplate walks the priority ladder against the derived user state:
// high_churn_risk > new_user > low_engagement > high_engagement > default.
func SelectTemplate(state contracts.UserState) string {
	if stateNumber(state, "churn_risk") > 0.7 {
		return TemplateHighChurnRisk
	}
	if stateString(state, "segment") == "new" {
		return TemplateNewUser
	}
	engagement, ok := stateNumberOK(state, "engagement_level")
	if ok {
		if engagement < 0.3 {
			return TemplateLowEngagement
		}
		if engagement > 0.7 {
			return TemplateHighEngagement
		}
	}
	return TemplateDefault
}

// Render produces the deterministic payload for a template and action.
func Render(templateID, actionID string) (rationale, title string) {
	t, ok := templates[templateID]
	if !ok {
		t = templates[TemplateDefault]
	}
	return fmt.Sprintf(t.rationale, DisplayName(actionID)), t.title
}

// DisplayName converts an action id into human-readable form:
// "delay-next-optimal" becomes "Delay next optimal".
func DisplayName(actionID string) string {
	words := strings.FieldsFunc(actionID, func(r rune) bool {
		return r == '-' || r == '_'
	})
	if len(words) == 0 {
		return actionID
	}
	out := strings.Join(words, " ")
	return strings.ToUpper(out[:1]) + out[1:]
}

func stateNumber(state contracts.UserState, key string) float64 {
	n, _ := stateNumberOK(state, key)
	return n
}

func stateNumberOK(state contracts.UserState, key string) (float64, bool) {
	for _, m := range []map[string]interface{}{state.Core, state.ScenarioExtensions} {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return t, true
			case int:
				return float64(t), true
			}
		}
	}
	return 0, false
}

func stateString(state contracts.UserState, key string) string {
	for _, m := range []map[string]interface{}{state.Core, state.ScenarioExtensions} {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// TemplateExecutor is the built-in deterministic skill executor. It renders
// the template ladder and never calls out.
type TemplateExecutor struct{}

// NewTemplateExecutor creates the deterministic executor.
func NewTemplateExecutor() *TemplateExecutor { return &TemplateExecutor{} }

func (t *TemplateExecutor) Mode() scenario.ExecutionMode { return scenario.ModeDeterministicOnly }

func (t *TemplateExecutor) IsAvailable() bool { return true }

func (t *TemplateExecutor) LatencyEstimate() time.Duration { return time.Millisecond }

// Execute renders the deterministic payload for the locked selection.
func (t *TemplateExecutor) Execute(ctx context.Context, skillID, version string, input *contracts.SkillInputEnvelope, timeout time.Duration) (*Result, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	templateID := SelectTemplate(input.State)
	rationale, title := Render(templateID, input.Decision.SelectedAction)

	out := &contracts.SkillOutput{
		Payload: map[string]interface{}{
			"rationale":     rationale,
			"display_title": title,
			"display_parameters": map[string]interface{}{
				"template_id": templateID,
				"action_name": DisplayName(input.Decision.SelectedAction),
			},
		},
		Metadata: map[string]interface{}{
			"generator":     "template",
			"skill_id":      skillID,
			"skill_version": version,
		},
	}
	tokens := len(strings.Fields(rationale))
	return &Result{
		Success:     true,
		Output:      out,
		ExecutionMS: time.Since(start).Milliseconds(),
		TokenCount:  tokens,
	}, nil
}
