package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/arbiterlabs/ade/pkg/contracts"
	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/scenario"
	"github.com/arbiterlabs/ade/pkg/validation"
)

// defaultMaxOutputTokens applies when the resolved skill declares none.
const defaultMaxOutputTokens = 150

// stageExecuteSkill builds the skill input envelope and runs the resolved
// executor under the scenario's skill timeout. Failures are non-terminal:
// they set the fallback reason and the run continues to stage 8.
func (p *Pipeline) stageExecuteSkill(ctx context.Context, env *envelope.Envelope, scn *scenario.Scenario) error {
	if !env.SelectionLocked() {
		return internalErr(errors.New("execute reached without a locked selection"))
	}

	selected, err := env.SelectedActionDetail()
	if err != nil {
		return internalErr(err)
	}

	maxTokens := defaultMaxOutputTokens
	var custom map[string]interface{}
	if sk, ok := scn.SkillByID(env.Resolution.SkillID); ok {
		if sk.MaxOutputTokens > 0 {
			maxTokens = sk.MaxOutputTokens
		}
		custom = sk.CustomParams
	}

	input := &contracts.SkillInputEnvelope{
		Decision: contracts.SkillDecisionContext{
			DecisionID:     env.DecisionID,
			SelectedAction: env.SelectedAction(),
			ActionMetadata: map[string]interface{}{
				"type_id":    selected.TypeID,
				"attributes": selected.Attributes,
			},
			RankedOptions:     env.RankedOptions(),
			TriggeredGuardIDs: triggeredRuleIDs(env.GuardrailResults),
		},
		State: env.State.Clone(),
		Skill: contracts.SkillConfig{
			SkillID:         env.Resolution.SkillID,
			SkillVersion:    env.Resolution.SkillVersion,
			ExecutionMode:   env.Resolution.ExecutionMode,
			MaxOutputTokens: maxTokens,
			TimeoutMS:       scn.Execution.Timeouts.SkillExecutionMS,
			CustomParams:    custom,
		},
	}

	timeout := time.Duration(scn.Execution.Timeouts.SkillExecutionMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exec, err := p.executors.Get(scenario.ExecutionMode(env.Resolution.ExecutionMode))
	if err != nil {
		env.FallbackTriggered = true
		env.FallbackReasonCode = CodeExecutionError
		return nil
	}

	result, err := exec.Execute(execCtx, env.Resolution.SkillID, env.Resolution.SkillVersion, input, timeout)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		env.FallbackTriggered = true
		env.FallbackReasonCode = CodeSkillTimeout
		return nil
	case err != nil:
		env.FallbackTriggered = true
		env.FallbackReasonCode = CodeExecutionError
		return nil
	case result == nil || !result.Success:
		env.FallbackTriggered = true
		env.FallbackReasonCode = CodeExecutionError
		return nil
	}

	// must-hold: a skill may never smuggle a selection key, even before
	// the full validator runs
	if result.Output != nil {
		if key := prohibitedKeyIn(result.Output.Payload); key != "" {
			env.FallbackTriggered = true
			env.FallbackReasonCode = validation.CheckProhibitedKey + ":" + key
			return nil
		}
	}

	env.Execution = envelope.SkillExecution{
		Output:      result.Output,
		TokenCount:  result.TokenCount,
		ExecutionMS: result.ExecutionMS,
	}
	return nil
}

func triggeredRuleIDs(results []envelope.GuardrailResult) []string {
	var out []string
	for _, r := range results {
		if r.Triggered {
			out = append(out, r.RuleID)
		}
	}
	return out
}

func prohibitedKeyIn(payload map[string]interface{}) string {
	for _, k := range []string{"selected_action", "recommended_action", "alternative_action", "action_choice"} {
		if _, ok := payload[k]; ok {
			return k
		}
	}
	return ""
}
