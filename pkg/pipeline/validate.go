package pipeline

import (
	"context"

	"github.com/arbiterlabs/ade/pkg/envelope"
	"github.com/arbiterlabs/ade/pkg/scenario"
	"github.com/arbiterlabs/ade/pkg/validation"
)

// stageValidateOutput runs the four-phase validator over the skill output.
// A failed validation is non-terminal: it marks the fallback and the run
// continues. When stage 6 already fell back there is nothing to validate.
func (p *Pipeline) stageValidateOutput(ctx context.Context, env *envelope.Envelope, scn *scenario.Scenario) error {
	if env.FallbackTriggered {
		return nil
	}

	record := p.validator.Validate(validation.Input{
		Output:          env.Execution.Output,
		SelectionLocked: env.SelectionLocked(),
		TokenCount:      env.Execution.TokenCount,
	})
	env.Validation = record

	if !record.Passed {
		env.FallbackTriggered = true
		env.FallbackReasonCode = record.FirstFailure
		if env.FallbackReasonCode == "" {
			env.FallbackReasonCode = CodeSkillValidationFailed
		}
	}
	return nil
}
